package quictransport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestServerConfig(t *testing.T) {
	config, err := ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(config.Certificates) == 0 {
		t.Fatal("ServerConfig has no certificates")
	}
	cert := config.Certificates[0]
	if cert.PrivateKey == nil || len(cert.Certificate) == 0 {
		t.Fatal("certificate is incomplete")
	}
	if len(config.NextProtos) != 1 || config.NextProtos[0] != ALPNProtocol {
		t.Fatalf("NextProtos = %v, want [%s]", config.NextProtos, ALPNProtocol)
	}
}

func TestClientConfig(t *testing.T) {
	config := ClientConfig()
	if !config.InsecureSkipVerify {
		t.Error("ClientConfig InsecureSkipVerify should be true")
	}
	if len(config.NextProtos) != 1 || config.NextProtos[0] != ALPNProtocol {
		t.Errorf("NextProtos = %v, want [%s]", config.NextProtos, ALPNProtocol)
	}
}

func TestServerSpeaksFirst(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ln, err := Listen("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		s, err := ln.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		defer s.Close()
		if _, err := s.Write([]byte("hello")); err != nil {
			accepted <- err
			return
		}
		buf := make([]byte, 4)
		_, err = io.ReadFull(s, buf)
		if err == nil && string(buf) != "ping" {
			err = io.ErrUnexpectedEOF
		}
		accepted <- err
	}()

	c, err := Dial(ctx, ln.Addr().String(), logger)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if c.RemoteAddr() == nil {
		t.Fatal("RemoteAddr is nil")
	}

	buf := make([]byte, 5)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("greeting = %q", buf)
	}
	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := <-accepted; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestClampUDPBuffer(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, minUDPBuffer},
		{minUDPBuffer + 1, minUDPBuffer + 1},
		{1 << 30, maxUDPBuffer},
	}
	for _, tc := range cases {
		if got := clampUDPBuffer(tc.in); got != tc.want {
			t.Fatalf("clampUDPBuffer(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
