package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db), mock
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`insert into users`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := store.Users().Create(context.Background(), &User{
		Username: "alice", Email: "alice@example.com", Role: RoleClient,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "hashed_password", "role", "totp_secret", "created_at", "updated_at",
	}).AddRow(int64(7), "alice", "alice@example.com", "hash", "analyst", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`select id, username, email`)).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	user, err := store.Users().FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != 7 || user.Role != RoleAnalyst {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUserFindByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select id, username, email`)).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Users().FindByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoleMissingUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update users set role`)).
		WithArgs(int64(42), "manager").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Users().UpdateRole(context.Background(), 42, "manager"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoleRequestCreateDuplicatePending(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`insert into role_requests`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "role_requests_pending_key"})

	err := store.RoleRequests().Create(context.Background(), &RoleRequest{
		UserID: 1, RequestedRole: RoleAnalyst, Status: RequestPending,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDecideAlreadyDecided(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`update role_requests`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	reviewer := int64(9)
	_, err := store.RoleRequests().Decide(context.Background(), 5, RequestApproved, "", &reviewer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecideReturnsUpdatedRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	reviewer := int64(9)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "requested_role", "status", "comment", "decided_by", "created_at", "decided_at",
	}).AddRow(int64(5), int64(1), "analyst", "rejected", "no", reviewer, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`update role_requests`)).
		WillReturnRows(rows)

	rr, err := store.RoleRequests().Decide(context.Background(), 5, RequestRejected, "no", &reviewer)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Status != RequestRejected || rr.Comment != "no" || rr.DecidedBy == nil || *rr.DecidedBy != reviewer {
		t.Fatalf("unexpected request %+v", rr)
	}
}
