package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for chunkcast over QUIC.
	ALPNProtocol = "chunkcast-v1"
)

// ServerConfig returns a TLS configuration for the QUIC listener.
// It uses a freshly generated self-signed certificate.
func ServerConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientConfig returns a TLS configuration for QUIC clients.
// The server certificate is self-signed, so verification is skipped.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

// DefaultServerQUICConfig returns the default QUIC server config.
func DefaultServerQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:       10 * time.Second,
		MaxIdleTimeout:        30 * time.Second,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

// DefaultClientQUICConfig returns the default QUIC client config.
// The server opens the session stream, so clients accept one.
func DefaultClientQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:       10 * time.Second,
		MaxIdleTimeout:        30 * time.Second,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"chunkcast"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Stream is one chunkcast session carried on a bidirectional QUIC stream.
// Closing it closes the whole connection.
type Stream struct {
	*quic.Stream
	conn *quic.Conn
	once sync.Once
}

// RemoteAddr returns the peer's UDP address.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close finishes the write side and tears down the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Stream.Close()
		s.Stream.CancelRead(0)
		if cerr := s.conn.CloseWithError(0, "session closed"); err == nil {
			err = cerr
		}
	})
	return err
}

// Listener accepts QUIC connections and opens one session stream on each.
type Listener struct {
	ln     *quic.Listener
	udp    *net.UDPConn
	logger *slog.Logger
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, logger *slog.Logger) (*Listener, error) {
	return ListenWithConfig(addr, logger, nil)
}

// ListenWithConfig starts a QUIC listener on addr using a custom config.
func ListenWithConfig(addr string, logger *slog.Logger, config *quic.Config) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsConfig, err := ServerConfig()
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultServerQUICConfig()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("UDP listen failed", "error", err, "addr", addr)
		return nil, err
	}
	if res := TuneUDP(udp, DefaultUDPBuffer, DefaultUDPBuffer); res.Status != TuneOK {
		logger.Debug("UDP buffer tuning denied", "error", res.Err)
	}
	ln, err := quic.Listen(udp, tlsConfig, config)
	if err != nil {
		udp.Close()
		logger.Error("QUIC listen failed", "error", err, "local_addr", udp.LocalAddr())
		return nil, err
	}
	logger.Info("QUIC listener created", "local_addr", ln.Addr())
	return &Listener{ln: ln, udp: udp, logger: logger}, nil
}

// Addr returns the local UDP address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next connection and opens its session stream.
// A connection whose stream cannot be opened is dropped and Accept keeps waiting.
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			return nil, err
		}
		str, err := conn.OpenStreamSync(ctx)
		if err != nil {
			l.logger.Warn("QUIC open stream failed", "error", err, "remote_addr", conn.RemoteAddr())
			conn.CloseWithError(1, "open stream failed")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return &Stream{Stream: str, conn: conn}, nil
	}
}

// Close stops accepting connections and releases the UDP socket.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if uerr := l.udp.Close(); err == nil {
		err = uerr
	}
	return err
}

// ErrNoStream is returned by Dial when the server never opens a session stream.
var ErrNoStream = errors.New("server did not open a stream")

// Dial connects to a chunkcast QUIC server and waits for its session stream.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Stream, error) {
	return DialWithConfig(ctx, addr, logger, nil)
}

// DialWithConfig is Dial with a custom QUIC config.
func DialWithConfig(ctx context.Context, addr string, logger *slog.Logger, config *quic.Config) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultClientQUICConfig()
	}
	logger.Debug("QUIC dial starting", "remote_addr", addr)
	conn, err := quic.DialAddr(ctx, addr, ClientConfig(), config)
	if err != nil {
		logger.Error("QUIC dial failed", "error", err, "remote_addr", addr)
		return nil, err
	}
	str, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("%w: %v", ErrNoStream, err)
	}
	logger.Debug("QUIC connection established", "remote_addr", conn.RemoteAddr())
	return &Stream{Stream: str, conn: conn}, nil
}
