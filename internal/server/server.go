// Package server accepts client connections on the enabled transports and
// runs one transfer session per connection.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"

	"github.com/sheerbytes/chunkcast/internal/metrics"
	"github.com/sheerbytes/chunkcast/internal/quictransport"
	"github.com/sheerbytes/chunkcast/internal/transfer"
	"github.com/sheerbytes/chunkcast/internal/wstransport"
)

// Transport labels used in logs and metrics.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
	TransportWS   = "ws"
)

const serviceTimeout = 10 * time.Second

// Options selects listeners and session behavior. Empty addresses disable
// the corresponding listener.
type Options struct {
	Addr        string
	QUICAddr    string
	WSAddr      string
	WSPath      string
	MetricsAddr string

	Session transfer.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server owns the listeners and the registry of live sessions.
type Server struct {
	opts     Options
	lookup   transfer.Lookup
	logger   *slog.Logger
	sessions *xsync.MapOf[string, *transfer.Session]
	wg       sync.WaitGroup
}

// New returns a server that serves files known to lookup.
func New(lookup transfer.Lookup, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}
	if opts.Metrics != nil && opts.Session.Observer == nil {
		opts.Session.Observer = opts.Metrics
	}
	return &Server{
		opts:     opts,
		lookup:   lookup,
		logger:   opts.Logger,
		sessions: xsync.NewMapOf[string, *transfer.Session](),
	}
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	return s.sessions.Size()
}

// Serve runs every enabled listener under a supervisor until ctx is
// cancelled, then waits for open sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	sup := suture.New("chunkcastd", suture.Spec{
		EventHook: func(e suture.Event) {
			s.logger.Warn("supervisor event", "event", e.String())
		},
		Timeout: serviceTimeout,
	})

	n := 0
	if s.opts.Addr != "" {
		sup.Add(&tcpService{srv: s, addr: s.opts.Addr})
		n++
	}
	if s.opts.QUICAddr != "" {
		sup.Add(&quicService{srv: s, addr: s.opts.QUICAddr})
		n++
	}
	if s.opts.WSAddr != "" {
		sup.Add(&httpService{name: "websocket", addr: s.opts.WSAddr, logger: s.logger, handler: func(ctx context.Context) http.Handler {
			mux := http.NewServeMux()
			mux.Handle(s.opts.WSPath, s.WebSocketHandler(ctx))
			return mux
		}})
		n++
	}
	if n == 0 {
		return errors.New("no listener enabled")
	}
	if s.opts.MetricsAddr != "" && s.opts.Metrics != nil {
		sup.Add(&httpService{name: "metrics", addr: s.opts.MetricsAddr, logger: s.logger, handler: func(context.Context) http.Handler {
			mux := http.NewServeMux()
			mux.Handle("/metrics", s.opts.Metrics.Handler())
			return mux
		}})
	}

	err := sup.Serve(ctx)
	s.wg.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// ServeListener accepts TCP connections on ln until ctx is cancelled or
// Accept fails. ln is closed on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("listening", "transport", TransportTCP, "addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.spawn(ctx, conn, TransportTCP)
	}
}

// WebSocketHandler upgrades requests and serves a session on each. Sessions
// are cancelled together with ctx.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return wstransport.Handler(s.logger, func(c *wstransport.Conn) {
		s.wg.Add(1)
		defer s.wg.Done()
		s.run(ctx, c, TransportWS)
	})
}

func (s *Server) spawn(ctx context.Context, stream transfer.Stream, transport string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, stream, transport)
	}()
}

func (s *Server) run(ctx context.Context, stream transfer.Stream, transport string) {
	sess := transfer.NewSession(stream, s.lookup, s.opts.Session)
	s.sessions.Store(sess.ID(), sess)
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionOpened(transport)
	}

	err := sess.Run(ctx)

	s.sessions.Delete(sess.ID())
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionClosed(transport, transfer.Kind(err))
	}
}

type tcpService struct {
	srv  *Server
	addr string
}

func (t *tcpService) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}
	return t.srv.ServeListener(ctx, ln)
}

func (t *tcpService) String() string { return "tcp@" + t.addr }

type quicService struct {
	srv  *Server
	addr string
}

func (q *quicService) Serve(ctx context.Context) error {
	ln, err := quictransport.Listen(q.addr, q.srv.logger)
	if err != nil {
		return err
	}
	defer ln.Close()
	for {
		stream, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		q.srv.spawn(ctx, stream, TransportQUIC)
	}
}

func (q *quicService) String() string { return "quic@" + q.addr }

// httpService runs an http.Server until ctx is cancelled.
type httpService struct {
	name    string
	addr    string
	logger  *slog.Logger
	handler func(ctx context.Context) http.Handler
}

func (h *httpService) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return err
	}
	hs := &http.Server{
		Handler:           h.handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()
	h.logger.Info("listening", "transport", h.name, "addr", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serviceTimeout/2)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("http shutdown", "service", h.name, "error", err)
		}
		return nil
	}
}

func (h *httpService) String() string { return h.name + "@" + h.addr }
