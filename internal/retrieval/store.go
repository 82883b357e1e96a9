package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps vectors in the vector_store table and searches them by
// brute-force cosine similarity within one chat.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database whose vector_store table already exists
// (storage.Open runs the migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_store (id, object_id, chat_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.ObjectID, r.ChatID, r.Content,
			encodeFloat32s(r.Embedding), createdAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Search scans only ids and embeddings of the chat to pick the top-K, then
// loads the full rows of the winners.
func (s *SQLiteStore) Search(ctx context.Context, chatID string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM vector_store WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if buf, err = decodeFloat32sInto(buf, raw); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	ids := make([]any, 0, h.Len())
	scores := make(map[string]float32, h.Len())
	for _, c := range *h {
		ids = append(ids, c.ID)
		scores[c.ID] = c.Score
	}

	records, err := s.fetch(ctx, `WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	out := make([]ScoredRecord, len(records))
	for i, r := range records {
		out[i] = ScoredRecord{Record: r, Score: scores[r.ID]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ByObject returns the chunks of a storage object in insertion order.
func (s *SQLiteStore) ByObject(ctx context.Context, objectID string) ([]Record, error) {
	return s.fetch(ctx, `WHERE object_id = ? ORDER BY created_at ASC, id ASC`, objectID)
}

func (s *SQLiteStore) fetch(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, chat_id, content, embedding, created_at FROM vector_store `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			raw       []byte
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ObjectID, &r.ChatID, &r.Content, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if r.Embedding, err = decodeFloat32s(raw); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteByObject(ctx context.Context, objectID string) (int, error) {
	return s.delete(ctx, `DELETE FROM vector_store WHERE object_id = ?`, objectID)
}

func (s *SQLiteStore) DeleteByChat(ctx context.Context, chatID string) (int, error) {
	return s.delete(ctx, `DELETE FROM vector_store WHERE chat_id = ?`, chatID)
}

func (s *SQLiteStore) delete(ctx context.Context, query string, arg string) (int, error) {
	res, err := s.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_store`).Scan(&n)
	return n, err
}
