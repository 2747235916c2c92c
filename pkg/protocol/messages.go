package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Methods.
const (
	MethodGet      = "GET" // client → server: filename priority
	MethodSend     = "SEN" // server → client: listing, OK, END
	MethodSendFile = "SEF" // server → client: filename data_size + chunk
	MethodError    = "ERR" // server → client: filename
)

// Status words carried in SEN payloads.
const (
	StatusOK  = "OK"
	StatusEnd = "END"
)

// ErrMalformedPayload indicates a payload that does not have the expected fields.
var ErrMalformedPayload = errors.New("malformed payload")

// GetRequest asks the server to stream a file at a priority class.
type GetRequest struct {
	Filename string
	Priority string
}

// Frame returns the GET frame for r.
func (r GetRequest) Frame() Frame {
	return Frame{Method: MethodGet, Payload: r.Filename + Delimiter + r.Priority}
}

// ParseGetRequest extracts a GetRequest from a GET frame with exactly two fields.
func ParseGetRequest(f Frame) (GetRequest, error) {
	if f.Method != MethodGet {
		return GetRequest{}, framingErr("request", fmt.Errorf("%w: unexpected method %q", ErrMalformedPayload, f.Method))
	}
	parts := strings.Split(f.Payload, Delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return GetRequest{}, framingErr("request", fmt.Errorf("%w: GET %q", ErrMalformedPayload, f.Payload))
	}
	return GetRequest{Filename: parts[0], Priority: parts[1]}, nil
}

// ListingFrame carries the manifest listing sent on connect.
func ListingFrame(listing string) Frame {
	return Frame{Method: MethodSend, Payload: listing}
}

// OKFrame acknowledges an accepted request.
func OKFrame(filename string, size int64) Frame {
	return Frame{Method: MethodSend, Payload: StatusOK + Delimiter + filename + Delimiter + strconv.FormatInt(size, 10)}
}

// EndFrame marks the end of a file.
func EndFrame(filename string) Frame {
	return Frame{Method: MethodSend, Payload: StatusEnd + Delimiter + filename}
}

// ErrorFrame reports a filename the server will not serve.
func ErrorFrame(filename string) Frame {
	return Frame{Method: MethodError, Payload: filename}
}

// ChunkFrame carries one chunk of a file. The codec pads data out to the chunk size.
func ChunkFrame(filename string, data []byte) Frame {
	return Frame{
		Method:  MethodSendFile,
		Payload: filename + Delimiter + strconv.Itoa(len(data)),
		Chunk:   data,
	}
}

// ChunkHeader is the text part of a SEF frame.
type ChunkHeader struct {
	Filename string
	DataSize int
}

// ParseChunkHeader parses "filename data_size".
func ParseChunkHeader(payload string) (ChunkHeader, error) {
	parts := strings.Split(payload, Delimiter)
	if len(parts) != 2 || parts[0] == "" {
		return ChunkHeader{}, fmt.Errorf("%w: SEF %q", ErrMalformedPayload, payload)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return ChunkHeader{}, fmt.Errorf("%w: data_size %q", ErrMalformedPayload, parts[1])
	}
	return ChunkHeader{Filename: parts[0], DataSize: n}, nil
}

// Data returns the chunk truncated to the data_size carried in the payload.
func (f Frame) Data() ([]byte, error) {
	if f.Method != MethodSendFile {
		return nil, fmt.Errorf("%w: %s frame has no data", ErrMalformedPayload, f.Method)
	}
	h, err := ParseChunkHeader(f.Payload)
	if err != nil {
		return nil, err
	}
	if h.DataSize > len(f.Chunk) {
		return nil, fmt.Errorf("%w: data_size %d exceeds chunk of %d", ErrMalformedPayload, h.DataSize, len(f.Chunk))
	}
	return f.Chunk[:h.DataSize], nil
}

// Status is a parsed SEN payload.
// Kind is StatusOK, StatusEnd, or empty for free text such as the listing.
type Status struct {
	Kind     string
	Filename string
	Size     int64
	Text     string
}

// ParseStatus interprets a SEN frame.
func ParseStatus(f Frame) Status {
	st := Status{Text: f.Payload}
	parts := strings.Split(f.Payload, Delimiter)
	switch {
	case len(parts) == 3 && parts[0] == StatusOK:
		size, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return st
		}
		st.Kind, st.Filename, st.Size = StatusOK, parts[1], size
	case len(parts) == 2 && parts[0] == StatusEnd:
		st.Kind, st.Filename = StatusEnd, parts[1]
	}
	return st
}
