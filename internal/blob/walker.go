package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/chatfn/internal/errs"
)

// ErrWalkLimitExceeded is returned when a tree is deeper or wider than the
// walker is allowed to enumerate.
var ErrWalkLimitExceeded = errors.New("storage walk limit exceeded")

const (
	defaultMaxDepth    = 16
	defaultMaxListings = 10000
)

// Walker enumerates and deletes every object under a prefix.
type Walker struct {
	bucket      Bucket
	logger      *slog.Logger
	maxDepth    int
	maxListings int
}

type WalkerOption func(*Walker)

// WithLimits bounds how deep the walk descends and how many List calls it
// may issue.
func WithLimits(maxDepth, maxListings int) WalkerOption {
	return func(w *Walker) {
		w.maxDepth = maxDepth
		w.maxListings = maxListings
	}
}

func WithLogger(l *slog.Logger) WalkerOption {
	return func(w *Walker) { w.logger = l }
}

func NewWalker(bucket Bucket, opts ...WalkerOption) *Walker {
	w := &Walker{
		bucket:      bucket,
		logger:      slog.Default(),
		maxDepth:    defaultMaxDepth,
		maxListings: defaultMaxListings,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type pending struct {
	prefix string
	depth  int
}

// CollectLeafPaths returns the full path of every object under prefix.
// A prefix that does not exist yields no paths. A listing that fails is
// logged and treated as empty so the rest of the tree is still collected.
func (w *Walker) CollectLeafPaths(ctx context.Context, prefix string) ([]string, error) {
	var (
		leaves   []string
		seen     = make(map[string]struct{})
		stack    = []pending{{prefix: cleanPrefix(prefix)}}
		listings int
	)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.depth > w.maxDepth {
			return nil, fmt.Errorf("%w: %q is deeper than %d levels", ErrWalkLimitExceeded, cur.prefix, w.maxDepth)
		}
		if listings >= w.maxListings {
			return nil, fmt.Errorf("%w: more than %d listings under %q", ErrWalkLimitExceeded, w.maxListings, prefix)
		}
		listings++

		entries, err := w.bucket.List(ctx, cur.prefix)
		if err != nil {
			w.logger.Warn("listing storage prefix failed", "prefix", cur.prefix, "error", err)
			continue
		}

		for _, e := range entries {
			if e.Name == "" {
				continue
			}
			full := joinPath(cur.prefix, e.Name)
			if e.IsFolder() {
				stack = append(stack, pending{prefix: full, depth: cur.depth + 1})
				continue
			}
			if _, dup := seen[full]; dup {
				continue
			}
			seen[full] = struct{}{}
			leaves = append(leaves, full)
		}
	}
	return leaves, nil
}

// DeleteSubtree removes every object under prefix with a single bulk
// Remove call and returns how many objects were removed. An empty subtree
// is a no-op.
func (w *Walker) DeleteSubtree(ctx context.Context, prefix string) (int, error) {
	paths, err := w.CollectLeafPaths(ctx, prefix)
	if err != nil {
		return 0, errs.Wrap(errs.ErrStorageDeletionFailed, err)
	}
	if len(paths) == 0 {
		w.logger.Debug("no objects to delete", "prefix", prefix)
		return 0, nil
	}
	if err := w.bucket.Remove(ctx, paths); err != nil {
		return 0, errs.Wrap(errs.ErrStorageDeletionFailed, err)
	}
	w.logger.Info("deleted storage subtree", "prefix", prefix, "objects", len(paths))
	return len(paths), nil
}
