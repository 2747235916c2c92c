package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/chunkcast/internal/scheduler"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateNew State = iota
	StateGreeting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateGreeting:
		return "greeting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives session events, typically for metrics. Methods must not block.
type Observer interface {
	RequestAccepted(priority string)
	RequestRejected(reason string)
	ChunksSent(chunks int, bytes int64)
	FileCompleted(priority string)
}

type nopObserver struct{}

func (nopObserver) RequestAccepted(string) {}
func (nopObserver) RequestRejected(string) {}
func (nopObserver) ChunksSent(int, int64)  {}
func (nopObserver) FileCompleted(string)   {}

// Config holds the per-session engine settings. The zero value is usable.
type Config struct {
	Codec   protocol.Codec
	Weights scheduler.Weights
	// StrictPriority answers requests with an unknown priority class with ERR
	// instead of queueing them at quota 0.
	StrictPriority bool
	// Source overrides the chunk source; by default files are read through the
	// Lookup when it is also a PathResolver.
	Source   scheduler.ChunkSource
	Logger   *slog.Logger
	Observer Observer
}

func (c Config) normalized() Config {
	c.Codec = protocol.NewCodec(c.Codec.HeaderSize, c.Codec.ChunkSize)
	if len(c.Weights.Classes()) == 0 {
		c.Weights = scheduler.DefaultWeights()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// Session serves one client stream: a greeting, then the ingestion and
// dispatch loops running concurrently until one of them ends.
type Session struct {
	id     string
	stream Stream
	lookup Lookup
	cfg    Config
	logger *slog.Logger

	queue  *scheduler.Queue
	signal *Signal
	out    *frameWriter
	source scheduler.ChunkSource

	state     atomic.Int32
	closeOnce sync.Once
}

// NewSession prepares a session over stream. Nothing is sent until Run.
func NewSession(stream Stream, lookup Lookup, cfg Config) *Session {
	cfg = cfg.normalized()
	id := uuid.New().String()
	s := &Session{
		id:     id,
		stream: stream,
		lookup: lookup,
		cfg:    cfg,
		queue:  scheduler.NewQueue(),
		signal: NewSignal(),
		out:    newFrameWriter(stream, cfg.Codec),
		source: cfg.Source,
	}
	if s.source == nil {
		if r, ok := lookup.(PathResolver); ok {
			s.source = FileSource{Resolver: r}
		}
	}
	s.logger = cfg.Logger.With("session", id, "remote", remoteAddr(stream))
	s.signal.OnTrigger(s.onShutdown)
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Queue exposes the pending transfer tasks.
func (s *Session) Queue() *scheduler.Queue { return s.queue }

// Shutdown sets the session's shutdown signal.
func (s *Session) Shutdown() { s.signal.Trigger(context.Canceled) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run greets the client and serves it until either loop ends or ctx is
// cancelled. The stream is closed exactly once before Run returns, and all
// unfinished tasks are discarded. A client that closes its side cleanly
// yields a nil error.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.closeStream()
		s.setState(StateClosed)
	}()
	if s.source == nil {
		return errors.New("transfer: session has no chunk source")
	}

	s.setState(StateGreeting)
	s.logger.Info("session opened")
	if err := s.out.WriteFrame(protocol.ListingFrame(s.lookup.Listing())); err != nil {
		s.logger.Error("greeting failed", "error", err)
		return err
	}

	s.setState(StateActive)
	stop := context.AfterFunc(ctx, func() { s.signal.Trigger(ctx.Err()) })
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		err := s.ingest()
		s.signal.Trigger(err)
		return err
	})
	g.Go(func() error {
		err := s.dispatch()
		s.signal.Trigger(err)
		return err
	})
	err := g.Wait()

	pending := s.queue.Len()
	if err != nil {
		s.logger.Error("session failed", "error", err, "kind", Kind(err), "abandoned", pending)
	} else {
		s.logger.Info("session closed", "abandoned", pending)
	}
	return err
}

// onShutdown releases whichever loop is blocked on the stream.
func (s *Session) onShutdown(cause error) {
	s.setState(StateClosing)
	if cause != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		s.closeStream()
		return
	}
	if d, ok := s.stream.(ReadDeadliner); ok {
		if err := d.SetReadDeadline(time.Now()); err == nil {
			return
		}
	}
	s.closeStream()
}

func (s *Session) closeStream() {
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("close stream", "error", err)
		}
	})
}
