package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// HistoryEntry is one generation or edit result.
type HistoryEntry struct {
	ID        int64
	EntryID   string // uuid
	Mode      string // generate, edit, decompose, stylize
	Prompt    string
	ImageURL  string
	SessionID string
	Model     string
	Seed      int64
	CreatedAt time.Time
}

// ErrInvalidEntry is returned for entries missing mode or image URL.
var ErrInvalidEntry = errors.New("db: history entry requires mode and image URL")

// Repository reads and writes the history table.
type Repository struct {
	db  *Database
	now func() time.Time
}

// NewRepository wraps an open Database.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Record inserts e and discards the stored copy.
func (r *Repository) Record(ctx context.Context, e HistoryEntry) error {
	_, err := r.InsertHistory(ctx, e)
	return err
}

// InsertHistory stores e, assigning EntryID and CreatedAt when unset, and
// returns the stored entry.
func (r *Repository) InsertHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	if r.db == nil {
		return e, fmt.Errorf("database connection is nil")
	}
	if e.Mode == "" || e.ImageURL == "" {
		return e, ErrInvalidEntry
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	res, err := r.db.exec(ctx, `
		INSERT INTO history (entry_id, mode, prompt, image_url, session_id, model, seed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Mode, e.Prompt, e.ImageURL, e.SessionID, e.Model, e.Seed,
		e.CreatedAt.Format(timeLayout))
	if err != nil {
		return e, fmt.Errorf("failed to insert history: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return e, nil
}

const selectHistory = `
	SELECT id, entry_id, mode, prompt, image_url, session_id, model, seed, created_at
	FROM history`

// RecentHistory returns up to limit entries, newest first. A non-positive
// limit means 10.
func (r *Repository) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.list(ctx, selectHistory+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// HistoryByMode returns up to limit entries of one mode, newest first.
func (r *Repository) HistoryByMode(ctx context.Context, mode string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.list(ctx, selectHistory+` WHERE mode = ? ORDER BY created_at DESC, id DESC LIMIT ?`, mode, limit)
}

// HistoryEntryByID looks up one entry by its uuid.
func (r *Repository) HistoryEntryByID(ctx context.Context, entryID string) (HistoryEntry, error) {
	entries, err := r.list(ctx, selectHistory+` WHERE entry_id = ?`, entryID)
	if err != nil {
		return HistoryEntry{}, err
	}
	if len(entries) == 0 {
		return HistoryEntry{}, fmt.Errorf("history entry %s: %w", entryID, sql.ErrNoRows)
	}
	return entries[0], nil
}

// CountHistory returns the number of stored entries.
func (r *Repository) CountHistory(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.queryRow(ctx, []any{&n}, `SELECT COUNT(*) FROM history`); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// DeleteHistoryBefore removes entries created before t and returns how
// many were deleted.
func (r *Repository) DeleteHistoryBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.exec(ctx, `DELETE FROM history WHERE created_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var e HistoryEntry
			var created string
			if err := rows.Scan(&e.ID, &e.EntryID, &e.Mode, &e.Prompt, &e.ImageURL,
				&e.SessionID, &e.Model, &e.Seed, &created); err != nil {
				return err
			}
			t, err := time.Parse(timeLayout, created)
			if err != nil {
				return fmt.Errorf("bad created_at %q: %w", created, err)
			}
			e.CreatedAt = t
			out = append(out, e)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return out, nil
}
