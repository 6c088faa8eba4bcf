package transport

import (
	"log/slog"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}
	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

// mockLogger records every call it receives, for asserting what withFields
// prepends to it.
type mockLogger struct {
	lastMsg  string
	lastArgs []any
}

func (l *mockLogger) Debug(msg string, args ...any) { l.lastMsg, l.lastArgs = msg, args }
func (l *mockLogger) Info(msg string, args ...any)  { l.lastMsg, l.lastArgs = msg, args }
func (l *mockLogger) Warn(msg string, args ...any)  { l.lastMsg, l.lastArgs = msg, args }
func (l *mockLogger) Error(msg string, args ...any) { l.lastMsg, l.lastArgs = msg, args }

func TestLogger_CustomImplementation(t *testing.T) {
	mock := &mockLogger{}
	var logger Logger = mock

	logger.Debug("test debug", "key1", "value1")
	if mock.lastMsg != "test debug" || len(mock.lastArgs) != 2 {
		t.Errorf("got msg=%s args=%v", mock.lastMsg, mock.lastArgs)
	}

	logger.Info("test info", "key2", "value2")
	logger.Warn("test warn", "key3", "value3")
	logger.Error("test error", "key4", "value4")
}

func TestWithFields_PrependsArgsToEveryCall(t *testing.T) {
	mock := &mockLogger{}
	scoped := withFields(mock, "remote", "10.0.0.1:1234")

	scoped.Info("connection closed", "error", "boom")

	want := []any{"remote", "10.0.0.1:1234", "error", "boom"}
	if len(mock.lastArgs) != len(want) {
		t.Fatalf("got args %v, want %v", mock.lastArgs, want)
	}
	for i := range want {
		if mock.lastArgs[i] != want[i] {
			t.Errorf("arg[%d] = %v, want %v", i, mock.lastArgs[i], want[i])
		}
	}
	if mock.lastMsg != "connection closed" {
		t.Errorf("lastMsg = %s, want unchanged message", mock.lastMsg)
	}
}

func TestWithFields_NoExtraArgs(t *testing.T) {
	mock := &mockLogger{}
	scoped := withFields(mock, "component", "listener")

	scoped.Debug("listener started")

	want := []any{"component", "listener"}
	if len(mock.lastArgs) != len(want) || mock.lastArgs[0] != want[0] || mock.lastArgs[1] != want[1] {
		t.Errorf("got args %v, want %v", mock.lastArgs, want)
	}
}

func TestWithFields_ConcurrentCallsDoNotShareBackingArray(t *testing.T) {
	mock := &mockLogger{}
	scoped := withFields(mock, "remote", "fixed")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			scoped.Info("a", "extra", i)
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		scoped.Info("b", "extra", i)
	}
	<-done

	if len(mock.lastArgs) != 4 {
		t.Fatalf("got args %v, want 4 entries", mock.lastArgs)
	}
	if mock.lastArgs[0] != "remote" || mock.lastArgs[1] != "fixed" {
		t.Errorf("scoped fields corrupted: %v", mock.lastArgs)
	}
}

func TestConnection_LoggerScopedToRemoteAddr(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	mock := &mockLogger{}
	pool := testPool(t)
	registry := testRegistry(t)

	c, err := NewConnection(serverConn, pool,
		RegistryOption(registry),
		CipherOption(identityCipher{}),
		CompressorOption(identityCompressor{}),
		LoggerOption(mock),
	)
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	c.opts.logger.Warn("probe")

	if len(mock.lastArgs) < 2 || mock.lastArgs[0] != "remote" {
		t.Fatalf("expected logger scoped with remote address, got args %v", mock.lastArgs)
	}
	if mock.lastArgs[1] != c.RemoteAddr() {
		t.Errorf("scoped remote = %v, want %v", mock.lastArgs[1], c.RemoteAddr())
	}
}
