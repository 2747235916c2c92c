package transfer

import (
	"io"
	"os"

	"github.com/sheerbytes/chunkcast/internal/scheduler"
)

// Lookup answers manifest questions for ingestion. Implementations must be
// safe for concurrent use by many sessions.
type Lookup interface {
	Exists(filename string) bool
	SizeOf(filename string) (int64, error)
	Listing() string
}

// PathResolver maps a listed filename to a local path.
type PathResolver interface {
	Path(filename string) (string, error)
}

// FileSource reads chunks from files on local disk.
type FileSource struct {
	Resolver PathResolver
}

var _ scheduler.ChunkSource = FileSource{}

// Open opens filename and seeks to offset.
func (s FileSource) Open(filename string, offset int64) (io.ReadCloser, error) {
	p, err := s.Resolver.Path(filename)
	if err != nil {
		return nil, &IOError{Filename: filename, Err: err}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, &IOError{Filename: filename, Err: err}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, &IOError{Filename: filename, Err: err}
	}
	return fileReader{f: f, name: filename}, nil
}

// fileReader tags read failures as IOError.
type fileReader struct {
	f    *os.File
	name string
}

func (r fileReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		return n, &IOError{Filename: r.name, Err: err}
	}
	return n, err
}

func (r fileReader) Close() error {
	return r.f.Close()
}
