// Package transport holds the per-connection state of an SSH server
// connection and drives the handshake through golang.org/x/crypto/ssh.
//
// A Transport is built by the connection factory with its advertised host
// key types and key exchanges already decided. It calls back into the
// factory for DH groups and for every service request, and records the
// session identity once authentication succeeds.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"sshgate/internal/domain"
	"sshgate/internal/log"
	"sshgate/internal/moduli"
	"sshgate/internal/service"
)

// HostKeys looks up host key signers by key type.
type HostKeys interface {
	Signer(keyType string) (ssh.Signer, bool)
}

// Transport is the server side of one SSH connection.
type Transport struct {
	ID   string
	Peer net.Addr

	SupportedPublicKeys   []string
	SupportedKeyExchanges []string
	HostKeys              HostKeys

	// OnDHGroupNeeded supplies a DH group close to the requested size.
	OnDHGroupNeeded func(bits int) (moduli.Group, error)
	// OnServiceRequested resolves a service request; nil denies it.
	OnServiceRequested func(name string, hasIdentity bool) service.Service

	ServerVersion    string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger

	mu            sync.RWMutex
	user          string
	authenticated bool
}

// New creates a transport for a connection from peer. It supports
// DefaultKeyExchanges until told otherwise.
func New(peer net.Addr) *Transport {
	return &Transport{
		ID:                    uuid.NewString(),
		Peer:                  peer,
		SupportedKeyExchanges: append([]string(nil), DefaultKeyExchanges...),
	}
}

func (t *Transport) logger() *slog.Logger {
	l := log.OrDefault(t.Logger).With("conn", t.ID)
	if t.Peer != nil {
		l = l.With("peer", t.Peer.String())
	}
	return l
}

// Authenticate records the authenticated user. The transition happens at
// most once per connection; later calls return false and change nothing.
func (t *Transport) Authenticate(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.authenticated {
		return false
	}
	t.user, t.authenticated = user, true
	return true
}

// Identity returns the authenticated user, if any.
func (t *Transport) Identity() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.user, t.authenticated
}

// DHGroup asks the factory for a group of about bits bits.
func (t *Transport) DHGroup(bits int) (moduli.Group, error) {
	if t.OnDHGroupNeeded == nil {
		return moduli.Group{}, domain.ErrNoModuli
	}
	return t.OnDHGroupNeeded(bits)
}

// RequestService resolves name for this session. A nil result means the
// request is denied and the connection should be dropped.
func (t *Transport) RequestService(name string) service.Service {
	if t.OnServiceRequested == nil {
		return nil
	}
	_, hasIdentity := t.Identity()
	s := t.OnServiceRequested(name, hasIdentity)
	if s == nil {
		t.logger().Warn("service request denied", "service", name, "authenticated", hasIdentity)
	}
	return s
}

// ServerConfig builds the x/crypto server configuration for this
// connection. Host keys are limited to SupportedPublicKeys and key
// exchanges to SupportedKeyExchanges that x/crypto can run as a server.
func (t *Transport) ServerConfig(auth service.Authenticator) (*ssh.ServerConfig, error) {
	cfg := &ssh.ServerConfig{ServerVersion: t.ServerVersion}

	cfg.KeyExchanges = engineKeyExchanges(t.SupportedKeyExchanges)
	if len(cfg.KeyExchanges) == 0 {
		return nil, fmt.Errorf("no usable key exchange among %v", t.SupportedKeyExchanges)
	}

	added := 0
	if t.HostKeys != nil {
		for _, keyType := range t.SupportedPublicKeys {
			if signer, ok := t.HostKeys.Signer(keyType); ok {
				cfg.AddHostKey(signer)
				added++
			}
		}
	}
	if added == 0 {
		return nil, domain.ErrNoHostKeys
	}

	if auth != nil {
		auth.Configure(cfg)
	}
	return cfg, nil
}

// Serve runs the connection: authentication handshake first, then the
// connection service. It closes conn before returning.
func (t *Transport) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	logger := t.logger()

	auth, ok := t.RequestService(service.UserAuth).(service.Authenticator)
	if !ok {
		return fmt.Errorf("%s: %w", service.UserAuth, domain.ErrServiceDenied)
	}
	cfg, err := t.ServerConfig(auth)
	if err != nil {
		return err
	}

	if t.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.HandshakeTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		logger.Info("handshake failed", "err", err)
		return err
	}
	defer sshConn.Close()
	_ = conn.SetDeadline(time.Time{})

	t.Authenticate(sshConn.User())
	logger.Info("authenticated", "user", sshConn.User(), "client", string(sshConn.ClientVersion()))

	next, ok := t.RequestService(service.Connection).(service.Connector)
	if !ok {
		return fmt.Errorf("%s: %w", service.Connection, domain.ErrServiceDenied)
	}

	stop := context.AfterFunc(ctx, func() { sshConn.Close() })
	defer stop()

	next.Serve(ctx, sshConn, chans, reqs)
	logger.Info("connection closed", "user", sshConn.User())
	return nil
}
