package transfer

import (
	"errors"
	"fmt"

	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("file not found")

// FramingError is a malformed header or body; terminal for the session.
type FramingError = protocol.FramingError

// NotFoundError is a request for a file the server will not serve.
// It is answered with an ERR frame and the session continues.
type NotFoundError struct {
	Filename string
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Filename, e.Reason)
	}
	return fmt.Sprintf("%s: not found", e.Filename)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConnectionError is a failed read or write on the client stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IOError is a local file failure while serving a request.
type IOError struct {
	Filename string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Filename, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Error kinds reported by Kind.
const (
	KindFraming    = "framing"
	KindNotFound   = "not_found"
	KindConnection = "connection"
	KindIO         = "io"
	KindOther      = "other"
)

// Kind classifies err into the session error taxonomy. nil yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		fe *FramingError
		nf *NotFoundError
		ce *ConnectionError
		ie *IOError
	)
	switch {
	case errors.As(err, &fe):
		return KindFraming
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &ce):
		return KindConnection
	case errors.As(err, &ie):
		return KindIO
	default:
		return KindOther
	}
}
