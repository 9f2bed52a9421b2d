package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore               { return &userStore{db: s.db} }
func (s *PGStore) RoleRequests() RoleRequestStore { return &roleRequestStore{db: s.db} }

// uniqueViolation is the SQLSTATE raised by a unique-constraint insert.
const uniqueViolation = "23505"

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, username, email, hashed_password, role, totp_secret, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	err := s.db.QueryRowContext(ctx,
		`insert into users(username, email, hashed_password, role, totp_secret)
		 values($1,$2,$3,$4,$5)
		 returning id, created_at, updated_at`,
		u.Username, u.Email, u.HashedPassword, u.Role, u.TOTPSecret,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapPGError(err)
}

func (s *userStore) FindByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.Role,
		&u.TOTPSecret, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) UpdateRole(ctx context.Context, id int64, role string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$2, updated_at=now() where id=$1`, id, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) SetTOTPSecret(ctx context.Context, id int64, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set totp_secret=$2, updated_at=now() where id=$1`, id, secret)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role request store -------------------------------------------------------
type roleRequestStore struct{ db *sql.DB }

const roleRequestColumns = `id, user_id, requested_role, status, comment, decided_by, created_at, decided_at`

// Create relies on the partial unique index over (user_id, requested_role)
// where status='pending' to reject duplicate pending requests atomically.
func (s *roleRequestStore) Create(ctx context.Context, rr *RoleRequest) error {
	err := s.db.QueryRowContext(ctx,
		`insert into role_requests(user_id, requested_role, status)
		 values($1,$2,$3)
		 returning id, created_at`,
		rr.UserID, rr.RequestedRole, rr.Status,
	).Scan(&rr.ID, &rr.CreatedAt)
	return mapPGError(err)
}

func (s *roleRequestStore) Find(ctx context.Context, id int64) (*RoleRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleRequestColumns+` from role_requests where id=$1`, id)
	return scanRoleRequest(row)
}

func (s *roleRequestStore) ListByStatus(ctx context.Context, status string) ([]*RoleRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleRequestColumns+` from role_requests where status=$1 order by id desc`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RoleRequest
	for rows.Next() {
		rr, err := scanRoleRequestRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

func (s *roleRequestStore) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from role_requests where status=$1`, status).Scan(&count)
	return count, err
}

// Decide transitions a pending request; the status predicate makes the
// update a no-op for already-decided requests, reported as ErrNotFound.
func (s *roleRequestStore) Decide(ctx context.Context, id int64, status, comment string, decidedBy *int64) (*RoleRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`update role_requests
		 set status=$2, comment=nullif($3,''), decided_by=$4, decided_at=now()
		 where id=$1 and status=$5
		 returning `+roleRequestColumns,
		id, status, comment, decidedBy, RequestPending)
	rr, err := scanRoleRequest(row)
	if err != nil {
		return nil, err
	}
	return rr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoleRequest(row *sql.Row) (*RoleRequest, error) {
	rr, err := scanRoleRequestRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rr, nil
}

func scanRoleRequestRow(row rowScanner) (*RoleRequest, error) {
	var (
		rr        RoleRequest
		comment   sql.NullString
		decidedBy sql.NullInt64
		decidedAt sql.NullTime
	)
	if err := row.Scan(&rr.ID, &rr.UserID, &rr.RequestedRole, &rr.Status,
		&comment, &decidedBy, &rr.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	if comment.Valid {
		rr.Comment = comment.String
	}
	if decidedBy.Valid {
		rr.DecidedBy = &decidedBy.Int64
	}
	if decidedAt.Valid {
		rr.DecidedAt = &decidedAt.Time
	}
	return &rr, nil
}
