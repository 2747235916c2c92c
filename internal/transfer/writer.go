package transfer

import (
	"io"
	"sync"

	"github.com/sheerbytes/chunkcast/internal/scheduler"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

// frameWriter serializes frames from both loops onto one stream so that
// concurrent sends never interleave on the wire.
type frameWriter struct {
	mu    sync.Mutex
	w     io.Writer
	codec protocol.Codec
}

var _ scheduler.Sink = (*frameWriter)(nil)

func newFrameWriter(w io.Writer, codec protocol.Codec) *frameWriter {
	return &frameWriter{w: w, codec: codec}
}

// WriteFrame encodes outside the lock and writes the whole frame under it.
func (fw *frameWriter) WriteFrame(f protocol.Frame) error {
	b, err := fw.codec.Encode(f)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(b); err != nil {
		return &ConnectionError{Op: "write " + f.Method, Err: err}
	}
	return nil
}

func (fw *frameWriter) SendChunk(filename string, data []byte) error {
	return fw.WriteFrame(protocol.ChunkFrame(filename, data))
}

func (fw *frameWriter) SendEnd(filename string) error {
	return fw.WriteFrame(protocol.EndFrame(filename))
}
