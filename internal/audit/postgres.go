package audit

import (
	"context"
	"database/sql"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	return s.db.QueryRowContext(ctx,
		`insert into audit_log(user_id, path, method, status_code, timestamp, ip, user_agent, error)
		 values($1,$2,$3,$4,$5,$6,$7,nullif($8,''))
		 returning id`,
		entry.UserID, entry.Path, entry.Method, entry.StatusCode,
		entry.Timestamp, entry.IP, entry.UserAgent, entry.Error,
	).Scan(&entry.ID)
}

func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, path, method, status_code, timestamp, coalesce(ip,''), coalesce(user_agent,''), coalesce(error,'')
		 from audit_log order by id desc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e      Entry
			userID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &userID, &e.Path, &e.Method, &e.StatusCode,
			&e.Timestamp, &e.IP, &e.UserAgent, &e.Error); err != nil {
			return nil, err
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
