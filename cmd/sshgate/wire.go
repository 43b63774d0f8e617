package main

import (
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/config"
	"sshgate/internal/connection"
	"sshgate/internal/factory"
	"sshgate/internal/hostkeys"
	"sshgate/internal/kex"
	"sshgate/internal/moduli"
	"sshgate/internal/service"
	"sshgate/internal/transport"
	"sshgate/internal/userauth"
	"sshgate/internal/usermgmt"
)

// serverVersion is sent in the SSH identification string.
const serverVersion = "SSH-2.0-sshgate"

// generatedKeyKinds are created in the host key directory when missing.
var generatedKeyKinds = []string{"ed25519", "rsa"}

func keySource(cfg config.ServerConfig, logger *slog.Logger) hostkeys.DirSource {
	return hostkeys.DirSource{Dir: cfg.HostKeyDir, Generate: generatedKeyKinds, Logger: logger}
}

func moduliSource(cfg config.ServerConfig, logger *slog.Logger) moduli.FileSource {
	return moduli.FileSource{Path: cfg.ModuliFile, Logger: logger}
}

func newChecker(cfg config.ServerConfig, logger *slog.Logger) (userauth.Checker, error) {
	if cfg.Auth == config.AuthPAM {
		return userauth.NewPAMChecker("")
	}
	db, err := usermgmt.OpenUserDB(cfg.UserDB)
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}
	if err := usermgmt.CreateDefaultUserFromEnv(db, logger); err != nil {
		logger.Warn("default user not created", "err", err)
	}
	if len(db.ListUsers()) == 0 {
		logger.Warn("user database is empty, nobody can log in", "path", db.Path())
	}
	return db, nil
}

// buildFactory wires the services and key material described by cfg. The
// returned factory is not started.
func buildFactory(cfg config.ServerConfig, logger *slog.Logger) (*factory.Factory, error) {
	checker, err := newChecker(cfg, logger)
	if err != nil {
		return nil, err
	}
	auth := &userauth.Service{Checker: checker, Banner: cfg.Banner, Logger: logger}
	conn := &connection.Service{DialTimeout: cfg.DialTimeout, Logger: logger}

	return factory.New(
		factory.WithKeySource(keySource(cfg, logger)),
		factory.WithModuliSource(moduliSource(cfg, logger)),
		factory.WithRouter(service.NewRouter(auth, conn)),
		factory.WithLogger(logger),
		factory.WithTransportOptions(func(t *transport.Transport) {
			t.ServerVersion = serverVersion
			t.HandshakeTimeout = cfg.HandshakeTimeout
		}),
	), nil
}

// describeHostKeys loads (and if needed generates) the host keys and
// returns one "<type> <fingerprint>" line per advertised key.
func describeHostKeys(cfg config.ServerConfig, logger *slog.Logger) ([]string, error) {
	store := hostkeys.NewStore(keySource(cfg, logger))
	if err := store.EnsureLoaded(); err != nil {
		return nil, err
	}
	var lines []string
	for _, keyType := range store.KeyTypes() {
		signer, _ := store.Signer(keyType)
		lines = append(lines, fmt.Sprintf("%s %s", keyType, ssh.FingerprintSHA256(signer.PublicKey())))
	}
	return lines, nil
}

// advertisedKeyExchanges returns the key exchange list a connection would
// be offered with the configured moduli file.
func advertisedKeyExchanges(cfg config.ServerConfig, logger *slog.Logger) []string {
	repo := moduli.NewRepository(moduliSource(cfg, logger), logger)
	repo.EnsureLoaded()
	return kex.Filter(transport.DefaultKeyExchanges, !repo.Empty(), transport.IsFixedGroup, logger)
}

// describeGroup reports the DH group selected for a request of bits.
func describeGroup(cfg config.ServerConfig, logger *slog.Logger, bits int) (string, error) {
	repo := moduli.NewRepository(moduliSource(cfg, logger), logger)
	repo.EnsureLoaded()
	g, err := repo.NearestGroup(bits)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("requested=%d generator=%s prime_bits=%d", bits, g.Generator, g.Prime.BitLen()), nil
}
