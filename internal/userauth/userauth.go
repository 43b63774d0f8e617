// Package userauth implements the ssh-userauth service: password
// authentication against a pluggable credential checker.
package userauth

import (
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/log"
	"sshgate/internal/service"
)

// Checker verifies a username and password. A nil error means the
// credentials are valid.
type Checker interface {
	Check(user, password string) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(user, password string) error

func (f CheckerFunc) Check(user, password string) error { return f(user, password) }

// Service is the authentication service.
type Service struct {
	Checker Checker
	Banner  string
	// MaxAuthTries caps failed attempts per connection; zero keeps the
	// x/crypto default.
	MaxAuthTries int
	Logger       *slog.Logger
}

var _ service.Authenticator = (*Service)(nil)

// Name returns "ssh-userauth".
func (s *Service) Name() string { return service.UserAuth }

// Configure installs the password callback and banner on cfg.
func (s *Service) Configure(cfg *ssh.ServerConfig) {
	cfg.PasswordCallback = s.passwordCallback
	if s.MaxAuthTries != 0 {
		cfg.MaxAuthTries = s.MaxAuthTries
	}
	if s.Banner != "" {
		banner := s.Banner
		cfg.BannerCallback = func(ssh.ConnMetadata) string { return banner }
	}
}

// passwordCallback validates credentials with the checker. The user name is
// carried to the connection service in the permission extensions.
func (s *Service) passwordCallback(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	logger := log.OrDefault(s.Logger).With("user", c.User(), "peer", c.RemoteAddr().String())
	if s.Checker == nil {
		logger.Error("password authentication without a checker")
		return nil, fmt.Errorf("authentication unavailable")
	}
	if err := s.Checker.Check(c.User(), string(password)); err != nil {
		logger.Info("password authentication failed", "err", err)
		return nil, fmt.Errorf("invalid credentials")
	}
	logger.Info("password authentication succeeded")
	return &ssh.Permissions{Extensions: map[string]string{"user": c.User()}}, nil
}
