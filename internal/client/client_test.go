package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sheerbytes/chunkcast/internal/progress"
	"github.com/sheerbytes/chunkcast/internal/transfer"
	"github.com/sheerbytes/chunkcast/pkg/manifest"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve starts a real session over an in-memory pipe and returns the client end.
func serve(t *testing.T, files map[string][]byte) net.Conn {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := manifest.Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	server, client := net.Pipe()
	sess := transfer.NewSession(server, m, transfer.Config{Logger: quiet(), StrictPriority: true})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(context.Background())
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestFetchWritesFiles(t *testing.T) {
	files := map[string][]byte{
		"report.txt": pattern(2500),
		"a.bin":      pattern(20 * 1024),
		"empty.txt":  {},
	}
	out := t.TempDir()
	board := progress.NewBoard()
	c := New(serve(t, files), Options{OutputDir: out, Logger: quiet(), Board: board})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listing, err := c.Listing(ctx)
	if err != nil {
		t.Fatalf("Listing: %v", err)
	}
	if !bytes.Contains([]byte(listing), []byte("report.txt 2500")) {
		t.Fatalf("listing = %q", listing)
	}

	res, err := c.Fetch(ctx, []protocol.GetRequest{
		{Filename: "report.txt", Priority: "NORMAL"},
		{Filename: "a.bin", Priority: "CRITICAL"},
		{Filename: "a.bin", Priority: "CRITICAL"},
		{Filename: "empty.txt", Priority: "HIGH"},
		{Filename: "missing.bin", Priority: "HIGH"},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Completed) != 3 {
		t.Fatalf("completed = %+v", res.Completed)
	}
	if len(res.Rejected) != 1 || res.Rejected[0] != "missing.bin" {
		t.Fatalf("rejected = %v", res.Rejected)
	}
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s differs: got %d bytes, want %d", name, len(got), len(want))
		}
	}
	if board.Pending() != 0 {
		t.Fatalf("board pending = %d", board.Pending())
	}
	if state, _, _ := board.State("missing.bin"); state != progress.StateRejected {
		t.Fatalf("missing.bin state = %s", state)
	}

	leftovers, _ := filepath.Glob(filepath.Join(out, ".*.part"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left: %v", leftovers)
	}
}

func TestFetchUnknownPriorityRejected(t *testing.T) {
	c := New(serve(t, map[string][]byte{"a.bin": pattern(10)}), Options{OutputDir: t.TempDir(), Logger: quiet()})
	defer c.Close()

	res, err := c.Fetch(context.Background(), []protocol.GetRequest{{Filename: "a.bin", Priority: "URGENT"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Rejected) != 1 || len(res.Completed) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestFetchRejectsUnsafeNames(t *testing.T) {
	c := New(serve(t, map[string][]byte{"a.bin": pattern(10)}), Options{OutputDir: t.TempDir(), Logger: quiet()})
	defer c.Close()

	_, err := c.Fetch(context.Background(), []protocol.GetRequest{{Filename: "../escape", Priority: "NORMAL"}})
	if !errors.Is(err, ErrBadFilename) {
		t.Fatalf("Fetch = %v, want ErrBadFilename", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	codec := protocol.DefaultCodec()
	go func() {
		codec.WriteFrame(server, protocol.ListingFrame("a.bin 10\n"))
		// read the request and never answer
		codec.ReadFrame(server)
	}()

	c := New(client, Options{OutputDir: t.TempDir(), Logger: quiet()})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, []protocol.GetRequest{{Filename: "a.bin", Priority: "NORMAL"}})
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Fetch = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}

func TestFetchUnexpectedChunk(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	codec := protocol.DefaultCodec()
	go func() {
		codec.WriteFrame(server, protocol.ListingFrame("a.bin 10\n"))
		codec.ReadFrame(server)
		codec.WriteFrame(server, protocol.ChunkFrame("a.bin", []byte("0123456789")))
	}()

	c := New(client, Options{OutputDir: t.TempDir(), Logger: quiet()})
	defer c.Close()
	_, err := c.Fetch(context.Background(), []protocol.GetRequest{{Filename: "a.bin", Priority: "NORMAL"}})
	if !errors.Is(err, ErrUnexpectedFrame) {
		t.Fatalf("Fetch = %v, want ErrUnexpectedFrame", err)
	}
}

func TestDialUnknownTransport(t *testing.T) {
	if _, err := Dial(context.Background(), "carrier-pigeon", "localhost:1", "/ws", quiet()); err == nil {
		t.Fatal("expected error")
	}
}
