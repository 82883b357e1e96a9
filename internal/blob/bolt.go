package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps objects in a local BoltDB file, one BoltDB bucket per
// storage bucket, keyed by full object path. It backs local development and
// tests with the same folder semantics as the hosted store.
type BoltStore struct {
	db *bolt.DB
}

type boltObject struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Data        []byte    `json:"data"`
}

func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening blob store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Bucket(name string) Bucket {
	return s.BoltBucket(name)
}

// BoltBucket returns the concrete bucket, which additionally supports Put.
func (s *BoltStore) BoltBucket(name string) *BoltBucket {
	return &BoltBucket{db: s.db, name: []byte(name)}
}

type BoltBucket struct {
	db   *bolt.DB
	name []byte
}

// Put stores data at path, replacing any existing object.
func (b *BoltBucket) Put(_ context.Context, path string, data []byte, contentType string) error {
	key := cleanPrefix(path)
	if key == "" {
		return fmt.Errorf("empty object path")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		obj := boltObject{ID: uuid.NewString(), ContentType: contentType, Size: len(data), CreatedAt: now, UpdatedAt: now, Data: data}
		if prev := bk.Get([]byte(key)); prev != nil {
			var old boltObject
			if json.Unmarshal(prev, &old) == nil {
				obj.ID, obj.CreatedAt = old.ID, old.CreatedAt
			}
		}
		enc, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), enc)
	})
}

// List groups keys below prefix by their next path segment. Segments with
// deeper keys become folders.
func (b *BoltBucket) List(_ context.Context, prefix string) ([]Entry, error) {
	p := cleanPrefix(prefix)
	seek := p
	if seek != "" {
		seek += "/"
	}

	var out []Entry
	folders := make(map[string]bool)
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		c := bk.Cursor()
		for k, v := c.Seek([]byte(seek)); k != nil && strings.HasPrefix(string(k), seek); k, v = c.Next() {
			rest := strings.TrimPrefix(string(k), seek)
			if head, _, deeper := strings.Cut(rest, "/"); deeper {
				if !folders[head] {
					folders[head] = true
					out = append(out, Entry{Name: head})
				}
				continue
			}
			var obj boltObject
			if err := json.Unmarshal(v, &obj); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			out = append(out, Entry{
				Name:      rest,
				ID:        obj.ID,
				CreatedAt: obj.CreatedAt.Format(time.RFC3339Nano),
				UpdatedAt: obj.UpdatedAt.Format(time.RFC3339Nano),
				Metadata:  map[string]any{"size": obj.Size, "mimetype": obj.ContentType},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes the given objects. Paths that hold nothing are skipped.
func (b *BoltBucket) Remove(_ context.Context, paths []string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		for _, p := range paths {
			if err := bk.Delete([]byte(cleanPrefix(p))); err != nil {
				return fmt.Errorf("deleting %s: %w", p, err)
			}
		}
		return nil
	})
}

func (b *BoltBucket) Download(_ context.Context, path string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return ErrObjectNotFound
		}
		v := bk.Get([]byte(cleanPrefix(path)))
		if v == nil {
			return ErrObjectNotFound
		}
		var obj boltObject
		if err := json.Unmarshal(v, &obj); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		data = obj.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
