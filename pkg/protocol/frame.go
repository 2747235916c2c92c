package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// DefaultHeaderSize is the fixed width of the frame header in bytes.
	DefaultHeaderSize = 64
	// DefaultChunkSize is the size of the binary block carried by chunk frames.
	DefaultChunkSize = 1024
	// DefaultMaxBodySize bounds the body length a reader will accept.
	DefaultMaxBodySize = 16 * 1024 * 1024

	// Delimiter separates the method and payload fields of a body.
	Delimiter = " "

	headerTag = "HEAD"
)

var (
	// ErrInvalidHeader indicates the header is not "HEAD <length>".
	ErrInvalidHeader = errors.New("invalid frame header")
	// ErrShortBody indicates the stream ended before the declared body length.
	ErrShortBody = errors.New("short frame body")
	// ErrMissingDelimiter indicates the body has no method delimiter.
	ErrMissingDelimiter = errors.New("missing method delimiter")
	// ErrBodyTooLarge indicates the declared body length exceeds the reader limit.
	ErrBodyTooLarge = errors.New("frame body too large")
	// ErrHeaderOverflow indicates the body length does not fit in the header.
	ErrHeaderOverflow = errors.New("body length overflows header")
	// ErrChunkTooLarge indicates a chunk longer than the codec chunk size.
	ErrChunkTooLarge = errors.New("chunk larger than chunk size")
	// ErrUnexpectedChunk indicates a chunk attached to a text-only method.
	ErrUnexpectedChunk = errors.New("method does not carry a chunk")
)

// FramingError reports a malformed header or body.
type FramingError struct {
	Op  string
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing %s: %v", e.Op, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is or wraps a *FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

func framingErr(op string, err error) error {
	return &FramingError{Op: op, Err: err}
}

// Frame is one protocol message.
// Chunk is only meaningful for methods that carry a binary block.
type Frame struct {
	Method  string
	Payload string
	Chunk   []byte
}

// Codec encodes and decodes frames for one header and chunk geometry.
type Codec struct {
	HeaderSize  int
	ChunkSize   int
	MaxBodySize int
}

// DefaultCodec returns a codec using the standard 64 byte header and 1024 byte chunks.
func DefaultCodec() Codec {
	return NewCodec(DefaultHeaderSize, DefaultChunkSize)
}

// NewCodec returns a codec with the given geometry. Non-positive values fall back to defaults.
func NewCodec(headerSize, chunkSize int) Codec {
	c := Codec{HeaderSize: headerSize, ChunkSize: chunkSize}
	return c.normalized()
}

func (c Codec) normalized() Codec {
	if c.HeaderSize <= 0 {
		c.HeaderSize = DefaultHeaderSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	return c
}

// CarriesChunk reports whether frames of the given method end with a binary block.
func (c Codec) CarriesChunk(method string) bool {
	return method == MethodSendFile
}

// Encode serializes f into header and body bytes.
// Chunk frames are always followed by exactly ChunkSize bytes, zero padded.
func (c Codec) Encode(f Frame) ([]byte, error) {
	c = c.normalized()
	chunked := c.CarriesChunk(f.Method)
	if !chunked && len(f.Chunk) > 0 {
		return nil, framingErr("encode", ErrUnexpectedChunk)
	}
	if len(f.Chunk) > c.ChunkSize {
		return nil, framingErr("encode", fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(f.Chunk), c.ChunkSize))
	}

	text := f.Method + Delimiter + f.Payload
	if chunked {
		text += Delimiter
	}
	bodyLen := len(text)
	if chunked {
		bodyLen += c.ChunkSize
	}

	header := headerTag + " " + strconv.Itoa(bodyLen)
	if len(header) > c.HeaderSize {
		return nil, framingErr("encode", ErrHeaderOverflow)
	}

	out := make([]byte, c.HeaderSize, c.HeaderSize+bodyLen)
	copy(out, header)
	for i := len(header); i < c.HeaderSize; i++ {
		out[i] = ' '
	}
	out = append(out, text...)
	if chunked {
		out = append(out, f.Chunk...)
		// make() zeroes the remainder
		out = out[:c.HeaderSize+bodyLen]
	}
	return out, nil
}

// WriteFrame encodes f and writes it to w in a single Write call.
func (c Codec) WriteFrame(w io.Writer, f Frame) error {
	b, err := c.Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ParseHeader returns the body length declared by a header.
func (c Codec) ParseHeader(header []byte) (int, error) {
	c = c.normalized()
	if len(header) != c.HeaderSize {
		return 0, framingErr("header", fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHeader, len(header), c.HeaderSize))
	}
	fields := strings.Fields(string(header))
	if len(fields) != 2 || fields[0] != headerTag {
		return 0, framingErr("header", fmt.Errorf("%w: %q", ErrInvalidHeader, bytes.TrimRight(header, " ")))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, framingErr("header", fmt.Errorf("%w: bad length %q", ErrInvalidHeader, fields[1]))
	}
	if n > c.MaxBodySize {
		return 0, framingErr("header", fmt.Errorf("%w: %d", ErrBodyTooLarge, n))
	}
	return n, nil
}

// DecodeBody reconstructs a frame from body bytes.
func (c Codec) DecodeBody(body []byte) (Frame, error) {
	c = c.normalized()
	idx := bytes.Index(body, []byte(Delimiter))
	if idx <= 0 {
		return Frame{}, framingErr("body", ErrMissingDelimiter)
	}
	f := Frame{Method: string(body[:idx])}
	rest := body[idx+len(Delimiter):]

	if !c.CarriesChunk(f.Method) {
		f.Payload = string(rest)
		return f, nil
	}

	if len(rest) < c.ChunkSize+len(Delimiter) {
		return Frame{}, framingErr("body", fmt.Errorf("%w: chunk frame of %d bytes", ErrShortBody, len(body)))
	}
	text := rest[:len(rest)-c.ChunkSize]
	if !bytes.HasSuffix(text, []byte(Delimiter)) {
		return Frame{}, framingErr("body", ErrMissingDelimiter)
	}
	f.Payload = string(text[:len(text)-len(Delimiter)])
	f.Chunk = append([]byte(nil), rest[len(rest)-c.ChunkSize:]...)
	return f, nil
}

// ReadFrame reads exactly one frame from r.
// It returns io.EOF when the stream ends cleanly before a header.
// Other reader errors are returned wrapped but unclassified.
func (c Codec) ReadFrame(r io.Reader) (Frame, error) {
	c = c.normalized()
	header := make([]byte, c.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, framingErr("header", fmt.Errorf("%w: stream closed mid-header", ErrInvalidHeader))
		}
		return Frame{}, fmt.Errorf("read header: %w", err)
	}
	n, err := c.ParseHeader(header)
	if err != nil {
		return Frame{}, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, framingErr("body", fmt.Errorf("%w: want %d bytes", ErrShortBody, n))
		}
		return Frame{}, fmt.Errorf("read body: %w", err)
	}
	return c.DecodeBody(body)
}
