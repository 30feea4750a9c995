package protocol

import "errors"

// errors for parsing
var (
	// ErrBadRequest means the peer sent something that is not HTTP we
	// accept: bad request line, unsupported method, junk header line.
	ErrBadRequest = errors.New("bad request")
)
