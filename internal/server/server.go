// Package server accepts SSH connections and hands each one to a transport
// built by the connection factory.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sshgate/internal/factory"
	"sshgate/internal/log"
	"sshgate/pkg/certgen"
)

// Server runs the accept loops. The factory must be started before Serve
// is called.
type Server struct {
	Factory *factory.Factory
	Logger  *slog.Logger
	// HTTPUpgrade accepts SSH wrapped in an HTTP Upgrade request as well as
	// plain SSH.
	HTTPUpgrade    bool
	UpgradeTimeout time.Duration

	active atomic.Int32
}

// New creates a server for f.
func New(f *factory.Factory, logger *slog.Logger) *Server {
	return &Server{Factory: f, Logger: logger}
}

// ActiveConnections reports how many connections are being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// waits for in-flight connections to finish. Connections still open when
// ctx ends are closed. Serve may run on several listeners at once; each
// call waits only for its own connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := log.OrDefault(s.Logger)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	var wg sync.WaitGroup
	defer wg.Wait()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = backoff(delay)
				logger.Warn("accept failed", "err", err, "retry_in", delay)
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		t, err := s.Factory.BuildConnection(conn.RemoteAddr())
		if err != nil {
			logger.Error("build connection", "peer", conn.RemoteAddr().String(), "err", err)
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			n := s.active.Add(1)
			logger.Info("connection added", "conn", t.ID, "peer", conn.RemoteAddr().String(), "active", n)
			defer func() {
				n := s.active.Add(-1)
				logger.Info("connection removed", "conn", t.ID, "active", n)
			}()

			closeOnDone := context.AfterFunc(ctx, func() { conn.Close() })
			defer closeOnDone()

			c := conn
			if s.HTTPUpgrade {
				var err error
				if c, err = acceptUpgrade(conn, s.UpgradeTimeout, logger); err != nil {
					logger.Info("upgrade refused", "conn", t.ID, "err", err)
					conn.Close()
					return
				}
			}
			if err := t.Serve(ctx, c); err != nil {
				logger.Debug("connection ended", "conn", t.ID, "err", err)
			}
		}()
	}
}

// ListenAndServe listens on the TCP address addr and serves it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.OrDefault(s.Logger).Info("listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// ListenAndServeTLS is ListenAndServe with SSH carried inside TLS. A
// self-signed certificate is created when certFile or keyFile is missing.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr, certFile, keyFile string) error {
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	ln, err := TLSListener(tcpLn, certFile, keyFile)
	if err != nil {
		tcpLn.Close()
		return err
	}
	log.OrDefault(s.Logger).Info("listening (tls)", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// TLSListener wraps inner with TLS using the certificate pair at certFile
// and keyFile, generating it first if needed.
func TLSListener(inner net.Listener, certFile, keyFile string) (net.Listener, error) {
	cert, err := certgen.LoadOrCreate(certFile, keyFile, "localhost")
	if err != nil {
		return nil, fmt.Errorf("tls certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.NewListener(inner, cfg), nil
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
