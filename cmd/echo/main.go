// Command echo runs a minimal transport listener that echoes every Ping
// it receives back to its sender, demonstrating the full
// serialize/compress/encrypt/frame pipeline end to end over a real TCP
// socket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/brackenfield/wiretransport"
	"github.com/brackenfield/wiretransport/compress"
	tcrypto "github.com/brackenfield/wiretransport/crypto"
)

// sharedSecretEnv names the environment variable holding the pre-shared
// key. Falling back to a literal default keeps the demo runnable with no
// setup, but any real deployment must set this, not rely on the default.
const sharedSecretEnv = "WIRETRANSPORT_SHARED_SECRET"

func newRegistry() *transport.Registry {
	r := transport.NewRegistry()
	r.Register(&transport.Ping{})
	r.Freeze()
	return r
}

func loadSharedSecret() []byte {
	if secret := os.Getenv(sharedSecretEnv); secret != "" {
		return []byte(secret)
	}
	return []byte("demo-shared-secret-replace-me!!")
}

func main() {
	listenAddr := flag.String("addr", "127.0.0.1:12345", "address to listen on")
	keepAlive := flag.Duration("keepalive", 30*time.Second, "TCP keepalive probe interval")
	poolSize := flag.Int("pool-size", 256, "shared worker pool size")
	flag.Parse()

	addr, err := net.ResolveTCPAddr("tcp", *listenAddr)
	if err != nil {
		panic(err)
	}
	sharedSecret := loadSharedSecret()

	pool, err := ants.NewPool(*poolSize)
	if err != nil {
		slog.Error("failed to create worker pool", "error", err)
		return
	}
	defer pool.Release()

	cipher, err := tcrypto.NewChaCha20Poly1305Cipher(sharedSecret)
	if err != nil {
		slog.Error("failed to construct cipher", "error", err)
		return
	}

	registry := newRegistry()
	compressor := &compress.FlateCompressor{Level: 6}

	connOpts := []transport.ConnOption{
		transport.RegistryOption(registry),
		transport.CipherOption(cipher),
		transport.CompressorOption(compressor),
		transport.OnReadOption(func(c *transport.Connection, msg transport.Message) {
			if err := c.Send(msg); err != nil {
				slog.Warn("echo failed", "remote", c.RemoteAddr(), "error", err)
			}
		}),
		transport.OnStateChangeOption(func(c *transport.Connection, connected bool) {
			slog.Info("connection state changed", "remote", c.RemoteAddr(), "connected", connected)
		}),
	}

	listener, err := transport.NewListener(addr, pool, connOpts,
		transport.ListenerKeepAliveOption(*keepAlive),
	)
	if err != nil {
		slog.Error("failed to create listener", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down listener...")
		cancel()
	}()

	slog.Info("listener start", "addr", addr.String())
	if err := listener.Serve(ctx); err != nil {
		slog.Error("listener error", "error", err)
	}
}
