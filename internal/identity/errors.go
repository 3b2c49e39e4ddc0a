package identity

import "errors"

var (
	// ErrReadOnly is returned when an operation requires the secret key but
	// the identity was constructed from a public key only.
	ErrReadOnly = errors.New("identity: read-only identity has no secret key")

	// ErrBadKey is returned when key material cannot be decoded.
	ErrBadKey = errors.New("identity: malformed key")
)
