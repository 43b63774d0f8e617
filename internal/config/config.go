// Package config resolves sshgate's runtime settings from the environment
// and the per-user configuration directory.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sshgate/internal/moduli"
)

// AppName names the configuration directory.
const AppName = "sshgate"

// Authentication backends.
const (
	AuthUserDB = "userdb"
	AuthPAM    = "pam"
)

const defaultListen = ":2222"
const defaultDialTimeout = 10 * time.Second
const defaultHandshakeTimeout = 30 * time.Second

// ServerConfig holds the settings of the serve command.
type ServerConfig struct {
	Listen           string
	TLSListen        string
	TLSCertFile      string
	TLSKeyFile       string
	HostKeyDir       string
	ModuliFile       string
	UserDB           string
	Auth             string
	LogLevel         string
	Banner           string
	HTTPUpgrade      bool
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Load builds a ServerConfig from SSHGATE_* environment variables, falling
// back to defaults rooted at ConfigDir. The result is not validated.
func Load() (ServerConfig, error) {
	dir, err := ConfigDir()
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config dir: %w", err)
	}
	cfg := ServerConfig{
		Listen:           envOrDefault("SSHGATE_LISTEN", defaultListen),
		TLSListen:        envOrDefault("SSHGATE_TLS_LISTEN", ""),
		TLSCertFile:      envOrDefault("SSHGATE_TLS_CERT_FILE", filepath.Join(dir, "cert.pem")),
		TLSKeyFile:       envOrDefault("SSHGATE_TLS_KEY_FILE", filepath.Join(dir, "key.pem")),
		HostKeyDir:       envOrDefault("SSHGATE_HOST_KEY_DIR", filepath.Join(dir, "hostkeys")),
		ModuliFile:       envOrDefault("SSHGATE_MODULI", moduli.DefaultPath),
		UserDB:           envOrDefault("SSHGATE_USER_DB", filepath.Join(dir, "users.json")),
		Auth:             envOrDefault("SSHGATE_AUTH", AuthUserDB),
		LogLevel:         envOrDefault("SSHGATE_LOG_LEVEL", "info"),
		Banner:           envOrDefault("SSHGATE_BANNER", ""),
		HTTPUpgrade:      envBoolOrDefault("SSHGATE_HTTP_UPGRADE", false),
		DialTimeout:      envDurationOrDefault("SSHGATE_DIAL_TIMEOUT", defaultDialTimeout),
		HandshakeTimeout: envDurationOrDefault("SSHGATE_HANDSHAKE_TIMEOUT", defaultHandshakeTimeout),
	}
	return cfg, nil
}

// Validate normalizes cfg and reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	c.Auth = strings.ToLower(strings.TrimSpace(c.Auth))
	switch c.Auth {
	case AuthUserDB, AuthPAM:
	default:
		return fmt.Errorf("auth backend must be one of: %s, %s", AuthUserDB, AuthPAM)
	}
	if c.Listen == "" && c.TLSListen == "" {
		return errors.New("at least one of --listen or --tls-listen is required")
	}
	for _, addr := range []string{c.Listen, c.TLSListen} {
		if addr == "" {
			continue
		}
		if err := validateAddr(addr); err != nil {
			return err
		}
	}
	if c.TLSListen != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("tls listener requires certificate and key paths")
	}
	if c.HostKeyDir == "" {
		return errors.New("missing host key directory")
	}
	if c.Auth == AuthUserDB && c.UserDB == "" {
		return errors.New("missing user database path")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("listen address %q: invalid port", addr)
	}
	return nil
}

// ConfigDir returns the sshgate configuration directory, creating it if
// needed:
// - $XDG_CONFIG_HOME/sshgate when XDG_CONFIG_HOME is set
// - %APPDATA%\sshgate on Windows
// - $HOME/.config/sshgate otherwise
func ConfigDir() (string, error) {
	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, AppName)
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		dir = filepath.Join(appData, AppName)
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", AppName)
	} else {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBoolOrDefault(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
