package lsp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAcquireChannel_Spawn(t *testing.T) {
	ctx := context.Background()
	ch, err := AcquireChannel(ctx, ChannelConfig{Command: "cat"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("AcquireChannel() error = %v", err)
	}
	defer ch.Close()

	// cat echoes stdin to stdout, so a frame written comes straight back.
	frame, _ := EncodeMessage(Request{JSONRPC: "2.0", Method: "test"})
	if _, err := ch.Write(frame); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	msg, _, err := NewDecoder(ch).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if msg.Method != "test" {
		t.Errorf("Method = %q, want test", msg.Method)
	}

	proc, ok := ch.(Process)
	if !ok {
		t.Fatal("Spawned channel should implement Process")
	}
	ch.Close()
	if err := proc.Terminate(2 * time.Second); err != nil {
		t.Errorf("Terminate() error = %v", err)
	}
}

func TestAcquireChannel_SpawnFailed(t *testing.T) {
	ctx := context.Background()
	_, err := AcquireChannel(ctx, ChannelConfig{Command: "/nonexistent/mythic-language-server"}, zerolog.Nop())

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("AcquireChannel() error = %v, want *TransportError", err)
	}
	if terr.Reason != TransportSpawnFailed {
		t.Errorf("Reason = %s, want %s", terr.Reason, TransportSpawnFailed)
	}
}

func TestAcquireChannel_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	ctx := context.Background()
	ch, err := AcquireChannel(ctx, ChannelConfig{TCPAddr: ln.Addr().String()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("AcquireChannel() error = %v", err)
	}
	defer ch.Close()

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("Server never saw the connection")
	}
}

func TestAcquireChannel_ConnectRefused(t *testing.T) {
	// Grab a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx := context.Background()
	_, err = AcquireChannel(ctx, ChannelConfig{TCPAddr: addr, DialTimeout: 2 * time.Second}, zerolog.Nop())

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("AcquireChannel() error = %v, want *TransportError", err)
	}
	if terr.Reason != TransportConnectRefused {
		t.Errorf("Reason = %s, want %s", terr.Reason, TransportConnectRefused)
	}
	if terr.Endpoint != addr {
		t.Errorf("Endpoint = %q, want %q", terr.Endpoint, addr)
	}
}

func TestAcquireChannel_NothingConfigured(t *testing.T) {
	ctx := context.Background()
	_, err := AcquireChannel(ctx, ChannelConfig{}, zerolog.Nop())

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("AcquireChannel() error = %v, want *TransportError", err)
	}
}

func TestProcessChannel_StderrNeverReachesCodec(t *testing.T) {
	ctx := context.Background()
	ch, err := AcquireChannel(ctx, ChannelConfig{
		Command: "sh",
		Args:    []string{"-c", `echo "server log line" >&2; cat`},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("AcquireChannel() error = %v", err)
	}
	defer ch.Close()

	frame, _ := EncodeMessage(Request{JSONRPC: "2.0", Method: "test"})
	if _, err := ch.Write(frame); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Stdout must contain only the echoed frame, never the stderr line.
	r := bufio.NewReader(ch)
	msg, _, err := NewDecoder(r).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if msg.Method != "test" {
		t.Errorf("Method = %q, want test", msg.Method)
	}
}

func TestProcessChannel_Exited(t *testing.T) {
	ctx := context.Background()
	ch, err := AcquireChannel(ctx, ChannelConfig{Command: "true"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("AcquireChannel() error = %v", err)
	}

	proc := ch.(Process)
	select {
	case err := <-proc.Exited():
		if err != nil {
			t.Errorf("Exited() delivered %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process never exited")
	}
}
