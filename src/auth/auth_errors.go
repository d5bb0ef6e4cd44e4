package auth

import "errors"

// ErrBadRecord is returned when a stored password record cannot be read.
var ErrBadRecord = errors.New("malformed password record")
var ErrUnsupportedMethod = errors.New("unsupported password hash method")
