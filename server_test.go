package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
)

func testConnOpts(t *testing.T) []ConnOption {
	t.Helper()
	return []ConnOption{
		RegistryOption(testRegistry(t)),
		CipherOption(identityCipher{}),
		CompressorOption(identityCompressor{}),
	}
}

func newTestListener(t *testing.T, opts ...ListenerOption) *Listener {
	t.Helper()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	pool, err := ants.NewPool(16)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Release)

	l, err := NewListener(addr, pool, testConnOpts(t), opts...)
	if err != nil {
		t.Fatalf("NewListener failed: %v", err)
	}
	return l
}

func TestNewListener(t *testing.T) {
	l := newTestListener(t)
	defer l.Close()

	if l.listener == nil {
		t.Error("listener is nil")
	}
}

func TestNewListener_OccupiedAddr(t *testing.T) {
	l := newTestListener(t)
	defer l.Close()

	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Release()

	occupiedAddr := l.listener.Addr().(*net.TCPAddr)
	_, err = NewListener(occupiedAddr, pool, testConnOpts(t))
	if err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestListener_Close(t *testing.T) {
	l := newTestListener(t)

	if err := l.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := l.listener.AcceptTCP(); err == nil {
		t.Error("expected error after close")
	}
}

func TestListener_Addr(t *testing.T) {
	l := newTestListener(t)
	defer l.Close()

	if l.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestListener_Serve_AcceptsConnection(t *testing.T) {
	l := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	clientConn, err := net.DialTCP("tcp", nil, l.listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	deadline := time.After(5 * time.Second)
	for {
		l.mu.Lock()
		n := len(l.conns)
		l.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for accepted connection to register")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestListener_Serve_MultipleConnections(t *testing.T) {
	l := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	numClients := 5
	clients := make([]*net.TCPConn, numClients)
	for i := 0; i < numClients; i++ {
		conn, err := net.DialTCP("tcp", nil, l.listener.Addr().(*net.TCPAddr))
		if err != nil {
			t.Fatalf("client %d dial failed: %v", i, err)
		}
		clients[i] = conn
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		if len(l.Connections()) == numClients {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %d connections, got %d", numClients, len(l.Connections()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestListener_Serve_ContextCanceled(t *testing.T) {
	l := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestListener_Broadcast(t *testing.T) {
	l := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	clientConn, err := net.DialTCP("tcp", nil, l.listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	client, err := NewConnection(clientConn, func() *ants.Pool {
		p, _ := ants.NewPool(4)
		return p
	}(), testConnOpts(t)...)
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	go client.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		if len(l.Connections()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for connection to register")
		case <-time.After(10 * time.Millisecond):
		}
	}

	l.Broadcast(&Ping{Seq: 7})
}
