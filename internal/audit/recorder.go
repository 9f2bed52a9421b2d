// Package audit persists one append-only record per state-changing request.
// The trail is best-effort observability: writes never block or fail the
// response that triggered them.
package audit

import (
	"context"
	"time"

	"socportal.org/internal/obs"
)

// Entry is one audit record. UserID is nil when no identity could be
// resolved from the session cookie (expired token, bearer-only call).
// Entries are write-once: nothing in the system updates or deletes them.
type Entry struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store appends immutable entries and serves the review listing.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}

// Recorder writes audit entries, swallowing store failures. Audit is not a
// correctness dependency; a failed write is logged and dropped.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record persists one entry. Errors are logged internally and never
// returned to the caller.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if r == nil || r.store == nil || entry == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		logger := obs.Log()
		logger.Error().Err(err).
			Str("path", entry.Path).
			Str("method", entry.Method).
			Msg("audit append failed")
	}
}

// ListRecent returns the newest entries, capped at limit.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.store.ListRecent(ctx, limit)
}
