package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	supabaseTimeout  = 60 * time.Second
	defaultPageSize  = 100
	maxDownloadBytes = 64 << 20
)

// SupabaseStore is a client for the Supabase Storage REST API authenticated
// with a service key.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	pageSize   int
	httpClient *http.Client
}

// NewSupabaseStore creates a client for the project at baseURL, e.g.
// "https://xyz.supabase.co".
func NewSupabaseStore(baseURL, serviceKey string) *SupabaseStore {
	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: supabaseTimeout},
	}
}

func (s *SupabaseStore) Bucket(name string) Bucket {
	return &supabaseBucket{store: s, name: name}
}

type supabaseBucket struct {
	store *SupabaseStore
	name  string
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// supabaseEntry mirrors the list response, where folders have null ids
// and timestamps.
type supabaseEntry struct {
	Name      string         `json:"name"`
	ID        *string        `json:"id"`
	CreatedAt *string        `json:"created_at"`
	UpdatedAt *string        `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// List pages through the children of prefix until a short page arrives.
func (b *supabaseBucket) List(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	for offset := 0; ; offset += b.store.pageSize {
		body := listRequest{
			Prefix: cleanPrefix(prefix),
			Limit:  b.store.pageSize,
			Offset: offset,
			SortBy: listSortBy{Column: "name", Order: "asc"},
		}
		var page []supabaseEntry
		if err := b.store.doJSON(ctx, http.MethodPost, "/object/list/"+url.PathEscape(b.name), body, &page); err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", b.name, prefix, err)
		}
		for _, e := range page {
			out = append(out, Entry{
				Name:      e.Name,
				ID:        deref(e.ID),
				CreatedAt: deref(e.CreatedAt),
				UpdatedAt: deref(e.UpdatedAt),
				Metadata:  e.Metadata,
			})
		}
		if len(page) < b.store.pageSize {
			return out, nil
		}
	}
}

func (b *supabaseBucket) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	body := map[string][]string{"prefixes": paths}
	if err := b.store.doJSON(ctx, http.MethodDelete, "/object/"+url.PathEscape(b.name), body, nil); err != nil {
		return fmt.Errorf("removing %d objects from %s: %w", len(paths), b.name, err)
	}
	return nil
}

func (b *supabaseBucket) Download(ctx context.Context, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.store.baseURL+"/object/"+url.PathEscape(b.name)+"/"+escapePath(p), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	b.store.setHeaders(req)

	resp, err := b.store.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: %w", p, statusError(resp))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("downloading %s: object larger than %d bytes", p, maxDownloadBytes)
	}
	return data, nil
}

func (s *SupabaseStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (s *SupabaseStore) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

// statusError turns a non-2xx response into an error. Missing objects are
// reported as ErrObjectNotFound.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound || bytes.Contains(body, []byte("not_found")) ||
		bytes.Contains(body, []byte("Object not found")) {
		return ErrObjectNotFound
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func escapePath(p string) string {
	segs := strings.Split(cleanPrefix(p), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
