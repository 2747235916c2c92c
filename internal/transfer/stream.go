package transfer

import (
	"io"
	"net"
	"time"
)

// Stream is the bidirectional byte stream a session is served over.
// TCP connections, QUIC streams and WebSocket adapters all satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	// Close closes the stream. After Close is called, Read and Write operations
	// will return errors.
	Close() error
}

// ReadDeadliner is implemented by streams whose blocked reads can be
// released by setting a deadline. Sessions use it to stop the ingestion loop
// without closing the stream under an in-flight write.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// RemoteAddrer exposes the peer address when the transport knows it.
type RemoteAddrer interface {
	RemoteAddr() net.Addr
}

func remoteAddr(s Stream) string {
	if ra, ok := s.(RemoteAddrer); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return ""
}
