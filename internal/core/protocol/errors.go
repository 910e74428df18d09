package protocol

import "errors"

// Wire protocol errors
var (
	ErrMissingIdentity   = errors.New("missing caller identity headers")
	ErrInvalidIdentity   = errors.New("invalid caller identity")
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
)
