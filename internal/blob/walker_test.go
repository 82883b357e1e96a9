package blob

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/kalambet/chatfn/internal/errs"
)

// fakeBucket serves listings from an in-memory tree of object paths.
type fakeBucket struct {
	objects   map[string]bool
	failList  map[string]error
	removeErr error

	listCalls   []string
	removeCalls [][]string
}

func newFakeBucket(paths ...string) *fakeBucket {
	b := &fakeBucket{objects: make(map[string]bool), failList: make(map[string]error)}
	for _, p := range paths {
		b.objects[p] = true
	}
	return b
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]Entry, error) {
	b.listCalls = append(b.listCalls, prefix)
	if err, ok := b.failList[prefix]; ok {
		return nil, err
	}
	seek := prefix
	if seek != "" {
		seek += "/"
	}
	var out []Entry
	folders := map[string]bool{}
	for p := range b.objects {
		if !strings.HasPrefix(p, seek) {
			continue
		}
		rest := strings.TrimPrefix(p, seek)
		if head, _, deeper := strings.Cut(rest, "/"); deeper {
			if !folders[head] {
				folders[head] = true
				out = append(out, Entry{Name: head})
			}
			continue
		}
		out = append(out, Entry{Name: rest, ID: "id-" + rest, CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z"})
	}
	return out, nil
}

func (b *fakeBucket) Remove(_ context.Context, paths []string) error {
	b.removeCalls = append(b.removeCalls, append([]string(nil), paths...))
	if b.removeErr != nil {
		return b.removeErr
	}
	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *fakeBucket) Download(_ context.Context, p string) ([]byte, error) {
	if !b.objects[p] {
		return nil, ErrObjectNotFound
	}
	return []byte(p), nil
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestCollectLeafPaths(t *testing.T) {
	b := newFakeBucket("u1/a.txt", "u1/chats/c1/x.pdf", "u1/chats/c1/deep/y.txt", "u2/other.txt")
	w := NewWalker(b)

	got, err := w.CollectLeafPaths(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CollectLeafPaths: %v", err)
	}
	want := []string{"u1/a.txt", "u1/chats/c1/deep/y.txt", "u1/chats/c1/x.pdf"}
	if fmt.Sprint(sorted(got)) != fmt.Sprint(want) {
		t.Errorf("leaves = %v, want %v", sorted(got), want)
	}
}

func TestCollectLeafPaths_MissingPrefix(t *testing.T) {
	w := NewWalker(newFakeBucket("u1/a.txt"))

	got, err := w.CollectLeafPaths(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("CollectLeafPaths: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("leaves = %v, want none", got)
	}
}

func TestCollectLeafPaths_PartialListingFailure(t *testing.T) {
	b := newFakeBucket("u1/a.txt", "u1/broken/b.txt", "u1/ok/c.txt")
	b.failList["u1/broken"] = errors.New("503")
	w := NewWalker(b)

	got, err := w.CollectLeafPaths(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CollectLeafPaths: %v", err)
	}
	want := []string{"u1/a.txt", "u1/ok/c.txt"}
	if fmt.Sprint(sorted(got)) != fmt.Sprint(want) {
		t.Errorf("leaves = %v, want %v", sorted(got), want)
	}
}

func TestCollectLeafPaths_DepthLimit(t *testing.T) {
	b := newFakeBucket("u/1/2/3/4/leaf.txt")
	w := NewWalker(b, WithLimits(2, 100))

	_, err := w.CollectLeafPaths(context.Background(), "u")
	if !errors.Is(err, ErrWalkLimitExceeded) {
		t.Errorf("err = %v, want ErrWalkLimitExceeded", err)
	}
}

func TestCollectLeafPaths_ListingLimit(t *testing.T) {
	b := newFakeBucket("u/a/x", "u/b/x", "u/c/x")
	w := NewWalker(b, WithLimits(16, 2))

	_, err := w.CollectLeafPaths(context.Background(), "u")
	if !errors.Is(err, ErrWalkLimitExceeded) {
		t.Errorf("err = %v, want ErrWalkLimitExceeded", err)
	}
}

func TestCollectLeafPaths_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWalker(newFakeBucket("u/a")).CollectLeafPaths(ctx, "u")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDeleteSubtree_SingleBulkRemove(t *testing.T) {
	b := newFakeBucket("u1/chats/c1/a.txt", "u1/chats/c1/v/b.m4a", "u1/chats/c2/keep.txt")
	w := NewWalker(b)

	n, err := w.DeleteSubtree(context.Background(), ChatPrefix("u1", "c1"))
	if err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if len(b.removeCalls) != 1 {
		t.Fatalf("remove calls = %d, want 1", len(b.removeCalls))
	}
	if !b.objects["u1/chats/c2/keep.txt"] {
		t.Error("sibling chat object was removed")
	}
}

func TestDeleteSubtree_EmptyIsNoop(t *testing.T) {
	b := newFakeBucket()
	n, err := NewWalker(b).DeleteSubtree(context.Background(), "u1")
	if err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if n != 0 || len(b.removeCalls) != 0 {
		t.Errorf("n=%d removeCalls=%d, want no removal", n, len(b.removeCalls))
	}
}

func TestDeleteSubtree_PartialListingStillDeletes(t *testing.T) {
	b := newFakeBucket("u1/a.txt", "u1/broken/b.txt", "u1/ok/c.txt")
	b.failList["u1/broken"] = errors.New("timeout")

	if _, err := NewWalker(b).DeleteSubtree(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}
	if got := sorted(b.removeCalls[0]); fmt.Sprint(got) != "[u1/a.txt u1/ok/c.txt]" {
		t.Errorf("removed %v", got)
	}
}

func TestDeleteSubtree_RemoveFailure(t *testing.T) {
	b := newFakeBucket("u1/a.txt")
	b.removeErr = errors.New("403")

	_, err := NewWalker(b).DeleteSubtree(context.Background(), "u1")
	if !errors.Is(err, errs.ErrStorageDeletionFailed) {
		t.Errorf("err = %v, want ErrStorageDeletionFailed", err)
	}
}

func TestPrefixes(t *testing.T) {
	if got := UserPrefix("u1"); got != "u1" {
		t.Errorf("UserPrefix = %q", got)
	}
	if got := ChatPrefix("u1", "42"); got != "u1/chats/42" {
		t.Errorf("ChatPrefix = %q", got)
	}
	tests := map[string]string{
		"u1/chats/42/doc.pdf":      "42",
		"/u1/chats/42/sub/doc.pdf": "42",
		"u1/chats/42":              "",
		"u1/voice/a.m4a":           "",
		"doc.pdf":                  "",
	}
	for in, want := range tests {
		if got := ChatIDFromPath(in); got != want {
			t.Errorf("ChatIDFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEntryIsFolder(t *testing.T) {
	if !(Entry{Name: "dir"}).IsFolder() {
		t.Error("entry without id/timestamps should be a folder")
	}
	if (Entry{Name: "f", UpdatedAt: "2025"}).IsFolder() {
		t.Error("entry with a timestamp should be a leaf")
	}
}
