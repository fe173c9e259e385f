package auth

import "errors"

// Credential validation failure kinds. All of them map to 403 at the
// gateway; the distinct values exist so callers and tests can tell the
// reasons apart without parsing messages.
var (
	ErrTokenBadLength     = errors.New("the token should be 32 chars long")
	ErrTokenBadCharacters = errors.New("token failed character validation")
	ErrTokenUnknown       = errors.New("an unknown token is used")
	ErrTokenRevoked       = errors.New("a revoked token is used")
)
