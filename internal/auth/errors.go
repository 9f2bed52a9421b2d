package auth

import "errors"

var (
	// ErrInvalidToken indicates a malformed, expired or badly signed credential.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnauthenticated indicates no usable credential was presented.
	ErrUnauthenticated = errors.New("auth: not authenticated")
	// ErrForbidden indicates a valid identity with insufficient role.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrConflict indicates a uniqueness violation (duplicate account,
	// duplicate pending role request).
	ErrConflict = errors.New("auth: already exists")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("auth: not found")
	// ErrInvalidInput indicates a request that fails domain validation.
	ErrInvalidInput = errors.New("auth: invalid input")
)
