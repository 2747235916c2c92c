// Package client downloads files from a chunkcast server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sheerbytes/chunkcast/internal/progress"
	"github.com/sheerbytes/chunkcast/internal/quictransport"
	"github.com/sheerbytes/chunkcast/internal/wstransport"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

// Transports accepted by Dial.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
	TransportWS   = "ws"
)

var (
	ErrUnexpectedFrame = errors.New("unexpected frame")
	ErrBadFilename     = errors.New("unsafe filename")
)

// DialTimeout is the default budget for establishing a connection.
const DialTimeout = 10 * time.Second

// Dial opens a stream to a server over the named transport.
func Dial(ctx context.Context, transport, addr, wsPath string, logger *slog.Logger) (io.ReadWriteCloser, error) {
	switch transport {
	case TransportTCP, "":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	case TransportQUIC:
		s, err := quictransport.Dial(ctx, addr, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TransportWS:
		c, err := wstransport.Dial(ctx, wstransport.URL(addr, wsPath), logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Options configures a Client. The zero value writes to the working directory.
type Options struct {
	Codec     protocol.Codec
	OutputDir string
	Logger    *slog.Logger
	Board     *progress.Board
}

// File is one completed download.
type File struct {
	Name string
	Path string
	Size int64
}

// Result lists the outcome of every requested file.
type Result struct {
	Completed []File
	Rejected  []string
}

// Client speaks the chunkcast protocol over one stream.
type Client struct {
	stream  io.ReadWriteCloser
	codec   protocol.Codec
	opts    Options
	logger  *slog.Logger
	listing string
	greeted bool
}

// New wraps stream. The client owns the stream and closes it in Close.
func New(stream io.ReadWriteCloser, opts Options) *Client {
	opts.Codec = protocol.NewCodec(opts.Codec.HeaderSize, opts.Codec.ChunkSize)
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Board == nil {
		opts.Board = progress.NewBoard()
	}
	return &Client{stream: stream, codec: opts.Codec, opts: opts, logger: opts.Logger}
}

// Close closes the underlying stream.
func (c *Client) Close() error {
	return c.stream.Close()
}

// Listing reads the server greeting on first use and returns the manifest listing.
func (c *Client) Listing(ctx context.Context) (string, error) {
	if c.greeted {
		return c.listing, nil
	}
	stop := context.AfterFunc(ctx, func() { c.stream.Close() })
	defer stop()

	f, err := c.codec.ReadFrame(c.stream)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read greeting: %w", err)
	}
	if f.Method != protocol.MethodSend {
		return "", fmt.Errorf("%w: greeting %s", ErrUnexpectedFrame, f.Method)
	}
	c.listing, c.greeted = f.Payload, true
	return c.listing, nil
}

// download is one file being written.
type download struct {
	name    string
	size    int64
	written int64
	file    *os.File
	tmp     string
	final   string
}

// Fetch requests every file and writes each one under OutputDir as its END
// arrives. Repeated filenames are requested once. Fetch returns when every
// file is either complete or rejected.
func (c *Client) Fetch(ctx context.Context, reqs []protocol.GetRequest) (Result, error) {
	var res Result
	if _, err := c.Listing(ctx); err != nil {
		return res, err
	}

	pending := make(map[string]bool)
	var unique []protocol.GetRequest
	for _, r := range reqs {
		if pending[r.Filename] {
			continue
		}
		if _, err := c.target(r.Filename); err != nil {
			return res, err
		}
		pending[r.Filename] = true
		unique = append(unique, r)
		c.opts.Board.Request(r.Filename)
	}
	if len(unique) == 0 {
		return res, nil
	}

	stop := context.AfterFunc(ctx, func() { c.stream.Close() })
	defer stop()

	// Requests go out from their own goroutine so that replies are drained
	// while the server is still reading requests.
	sendErr := make(chan error, 1)
	go func() {
		for _, r := range unique {
			if err := c.codec.WriteFrame(c.stream, r.Frame()); err != nil {
				sendErr <- fmt.Errorf("send GET %s: %w", r.Filename, err)
				return
			}
		}
		sendErr <- nil
	}()

	active := make(map[string]*download)
	defer func() {
		for _, d := range active {
			d.file.Close()
			os.Remove(d.tmp)
		}
	}()

	for len(pending) > 0 {
		f, err := c.codec.ReadFrame(c.stream)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			select {
			case serr := <-sendErr:
				if serr != nil {
					return res, serr
				}
			default:
			}
			return res, fmt.Errorf("read: %w", err)
		}
		if err := c.handle(f, pending, active, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Client) handle(f protocol.Frame, pending map[string]bool, active map[string]*download, res *Result) error {
	switch f.Method {
	case protocol.MethodError:
		name := f.Payload
		if !pending[name] {
			return fmt.Errorf("%w: ERR for %q", ErrUnexpectedFrame, name)
		}
		delete(pending, name)
		c.opts.Board.Reject(name)
		res.Rejected = append(res.Rejected, name)
		c.logger.Warn("file rejected", "file", name)
		return nil

	case protocol.MethodSendFile:
		h, err := protocol.ParseChunkHeader(f.Payload)
		if err != nil {
			return err
		}
		d, ok := active[h.Filename]
		if !ok {
			return fmt.Errorf("%w: chunk for %q before OK", ErrUnexpectedFrame, h.Filename)
		}
		data, err := f.Data()
		if err != nil {
			return err
		}
		if _, err := d.file.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", d.final, err)
		}
		d.written += int64(len(data))
		c.opts.Board.Add(d.name, len(data))
		c.logger.Debug("chunk received", "file", d.name, "bytes", len(data))
		return nil

	case protocol.MethodSend:
		st := protocol.ParseStatus(f)
		switch st.Kind {
		case protocol.StatusOK:
			if !pending[st.Filename] || active[st.Filename] != nil {
				return fmt.Errorf("%w: OK for %q", ErrUnexpectedFrame, st.Filename)
			}
			d, err := c.open(st.Filename, st.Size)
			if err != nil {
				return err
			}
			active[st.Filename] = d
			c.opts.Board.Start(st.Filename, st.Size)
			c.logger.Info("file accepted", "file", st.Filename, "size", st.Size)
		case protocol.StatusEnd:
			d, ok := active[st.Filename]
			if !ok {
				return fmt.Errorf("%w: END for %q", ErrUnexpectedFrame, st.Filename)
			}
			delete(active, st.Filename)
			delete(pending, st.Filename)
			if err := d.finish(); err != nil {
				return err
			}
			if d.written != d.size {
				c.logger.Warn("size mismatch", "file", d.name, "announced", d.size, "received", d.written)
			}
			c.opts.Board.Done(d.name)
			res.Completed = append(res.Completed, File{Name: d.name, Path: d.final, Size: d.written})
			c.logger.Info("file received", "file", d.name, "path", d.final, "bytes", d.written)
		default:
			c.logger.Debug("server message", "text", st.Text)
		}
		return nil

	default:
		return fmt.Errorf("%w: method %q", ErrUnexpectedFrame, f.Method)
	}
}

// target maps a server filename to a path under OutputDir.
func (c *Client) target(name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	return filepath.Join(c.opts.OutputDir, filepath.FromSlash(name)), nil
}

func (c *Client) open(name string, size int64) (*download, error) {
	final, err := c.target(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".*.part")
	if err != nil {
		return nil, err
	}
	return &download{name: name, size: size, file: f, tmp: f.Name(), final: final}, nil
}

func (d *download) finish() error {
	if err := d.file.Close(); err != nil {
		os.Remove(d.tmp)
		return fmt.Errorf("close %s: %w", d.final, err)
	}
	if err := os.Rename(d.tmp, d.final); err != nil {
		os.Remove(d.tmp)
		return fmt.Errorf("rename %s: %w", d.final, err)
	}
	return nil
}
