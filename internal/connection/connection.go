// Package connection implements the ssh-connection service for sshgate.
//
// Only local port forwarding (direct-tcpip channels) is served. Other
// channel types are rejected and global requests are discarded.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/log"
	"sshgate/internal/service"
)

// ChannelDirectTCPIP is the channel type for local port forwarding.
const ChannelDirectTCPIP = "direct-tcpip"

// DefaultDialTimeout bounds the connection to a forwarding target.
const DefaultDialTimeout = 10 * time.Second

// directTCPIP is the RFC 4254 section 7.2 channel payload.
type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// Service forwards direct-tcpip channels to their targets.
type Service struct {
	DialTimeout time.Duration
	// AllowForward, when set, must approve every target.
	AllowForward func(user, host string, port uint32) bool
	// Dial overrides the dialer, mainly for tests.
	Dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger *slog.Logger
}

var _ service.Connector = (*Service)(nil)

// Name returns "ssh-connection".
func (s *Service) Name() string { return service.Connection }

// Serve handles the channels of an authenticated connection until the
// client closes it. Each forward runs in its own goroutine.
func (s *Service) Serve(ctx context.Context, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request) {
	logger := log.OrDefault(s.Logger).With("user", conn.User(), "peer", conn.RemoteAddr().String())
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != ChannelDirectTCPIP {
			logger.Info("rejecting channel", "type", newChannel.ChannelType())
			newChannel.Reject(ssh.UnknownChannelType, "only port forwarding allowed")
			continue
		}

		var req directTCPIP
		if err := ssh.Unmarshal(newChannel.ExtraData(), &req); err != nil {
			logger.Info("malformed direct-tcpip request", "err", err)
			newChannel.Reject(ssh.ConnectionFailed, "invalid direct-tcpip request")
			continue
		}
		if s.AllowForward != nil && !s.AllowForward(conn.User(), req.Host, req.Port) {
			logger.Info("forward refused", "host", req.Host, "port", req.Port)
			newChannel.Reject(ssh.Prohibited, "forwarding to this target is not allowed")
			continue
		}

		go s.forward(ctx, logger, newChannel, req)
	}
}

// forward dials the target before accepting the channel so a failed dial
// can be reported to the client as a rejection.
func (s *Service) forward(ctx context.Context, logger *slog.Logger, newChannel ssh.NewChannel, req directTCPIP) {
	addr := net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port)))

	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := s.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	target, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		logger.Info("forward dial failed", "target", addr, "err", err)
		newChannel.Reject(ssh.ConnectionFailed, fmt.Sprintf("connect %s: failed", addr))
		return
	}

	ch, chReqs, err := newChannel.Accept()
	if err != nil {
		logger.Info("accepting channel failed", "err", err)
		target.Close()
		return
	}
	go ssh.DiscardRequests(chReqs)

	logger.Debug("forwarding", "target", addr)
	relay(ch, target, logger, addr)
}

// relay copies data both ways between ch and target until both directions
// finish, then closes both ends.
func relay(ch ssh.Channel, target net.Conn, logger *slog.Logger, addr string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := copyBuffered(target, ch); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug("relay ssh->target", "target", addr, "err", err)
		}
		if tc, ok := target.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := copyBuffered(ch, target); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug("relay target->ssh", "target", addr, "err", err)
		}
		ch.CloseWrite()
	}()
	wg.Wait()
	target.Close()
	ch.Close()
}
