// Package blob talks to the object store that holds user uploads (voice
// notes, documents) and walks its folder hierarchy for bulk cleanup.
package blob

import (
	"context"
	"errors"
	"strings"
)

// ErrObjectNotFound is returned by Download when the path holds no object.
var ErrObjectNotFound = errors.New("object not found")

// Entry is one child of a listed prefix. Folders are synthesized by the
// store and carry no ID and no timestamps.
type Entry struct {
	Name      string         `json:"name"`
	ID        string         `json:"id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsFolder reports whether the entry is a folder rather than an object.
func (e Entry) IsFolder() bool {
	return e.ID == "" && e.CreatedAt == "" && e.UpdatedAt == ""
}

// Bucket is a single named bucket of the object store.
type Bucket interface {
	// List returns the direct children of prefix. A prefix with no
	// children yields an empty slice, not an error.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Remove deletes the objects at paths in one call.
	Remove(ctx context.Context, paths []string) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Store hands out buckets by name.
type Store interface {
	Bucket(name string) Bucket
}

// UserPrefix is the root of everything a user uploaded.
func UserPrefix(userID string) string {
	return userID
}

// ChatPrefix is the root of the uploads attached to one chat.
func ChatPrefix(userID, chatID string) string {
	return userID + "/chats/" + chatID
}

// ChatIDFromPath extracts the chat id from a path shaped
// "{user}/chats/{chat}/...". It returns "" for paths outside a chat.
func ChatIDFromPath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 4 || parts[1] != "chats" || parts[2] == "" {
		return ""
	}
	return parts[2]
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func cleanPrefix(p string) string {
	return strings.Trim(p, "/")
}
