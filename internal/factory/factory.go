// Package factory assembles the server's cryptographic identity at startup
// and configures a transport for every accepted connection.
//
// Usage:
//  1. Create a Factory with New, supplying key and moduli sources and a
//     service router.
//  2. Call Start once before accepting connections. It fails if the server
//     has no host keys; missing moduli only narrow the key exchange list.
//  3. Call BuildConnection for each accepted connection and run the
//     returned transport.
package factory

import (
	"log/slog"
	"net"

	"sshgate/internal/domain"
	"sshgate/internal/hostkeys"
	"sshgate/internal/kex"
	"sshgate/internal/log"
	"sshgate/internal/moduli"
	"sshgate/internal/service"
	"sshgate/internal/transport"
)

// Factory builds configured transports.
type Factory struct {
	hostKeys *hostkeys.Store
	moduli   *moduli.Repository
	router   *service.Router
	logger   *slog.Logger

	keySource    hostkeys.Source
	moduliSource moduli.Source
	transportFns []func(*transport.Transport)

	started bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithKeySource sets where host keys are loaded from.
func WithKeySource(src hostkeys.Source) Option {
	return func(f *Factory) { f.keySource = src }
}

// WithModuliSource sets where DH groups are loaded from.
func WithModuliSource(src moduli.Source) Option {
	return func(f *Factory) { f.moduliSource = src }
}

// WithHostKeys uses an existing, possibly pre-seeded, key store. It takes
// precedence over WithKeySource.
func WithHostKeys(store *hostkeys.Store) Option {
	return func(f *Factory) { f.hostKeys = store }
}

// WithModuli uses an existing, possibly pre-seeded, repository. It takes
// precedence over WithModuliSource.
func WithModuli(repo *moduli.Repository) Option {
	return func(f *Factory) { f.moduli = repo }
}

// WithRouter sets the service router consulted on service requests.
func WithRouter(r *service.Router) Option {
	return func(f *Factory) { f.router = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithTransportOptions registers functions applied to every transport after
// the factory has configured it, e.g. to set timeouts or a version string.
func WithTransportOptions(fns ...func(*transport.Transport)) Option {
	return func(f *Factory) { f.transportFns = append(f.transportFns, fns...) }
}

// New creates a factory. Nothing is loaded until Start.
func New(opts ...Option) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = log.OrDefault(f.logger)
	if f.hostKeys == nil {
		f.hostKeys = hostkeys.NewStore(f.keySource)
	}
	if f.moduli == nil {
		f.moduli = moduli.NewRepository(f.moduliSource, f.logger)
	}
	return f
}

// Start loads the host keys and then the moduli. Host keys are mandatory:
// a missing key source or an empty key set fails the start. An empty moduli
// set only disables negotiated-group key exchanges. Start may be called
// again; loaded material is not reloaded.
func (f *Factory) Start() error {
	if err := f.hostKeys.EnsureLoaded(); err != nil {
		f.logger.Error("startup failed", "err", err)
		return err
	}
	f.moduli.EnsureLoaded()
	if f.moduli.Empty() {
		f.logger.Info("no DH moduli available")
	}
	f.started = true
	f.logger.Info("factory started", "host_keys", f.hostKeys.KeyTypes(), "moduli_sizes", f.moduli.Bits())
	return nil
}

// BuildConnection returns a transport for a connection from peer, with its
// host key types, key exchanges and callbacks set. It performs no I/O.
func (f *Factory) BuildConnection(peer net.Addr) (*transport.Transport, error) {
	if !f.started {
		return nil, domain.ErrNotStarted
	}

	t := transport.New(peer)
	t.Logger = f.logger
	t.HostKeys = f.hostKeys
	t.SupportedPublicKeys = f.hostKeys.KeyTypes()
	t.SupportedKeyExchanges = kex.Filter(t.SupportedKeyExchanges, !f.moduli.Empty(), transport.IsFixedGroup, f.logger)
	t.OnDHGroupNeeded = f.DHGroupFor
	t.OnServiceRequested = f.ResolveService

	for _, fn := range f.transportFns {
		fn(t)
	}
	return t, nil
}

// DHGroupFor returns a DH group close to bits.
func (f *Factory) DHGroupFor(bits int) (moduli.Group, error) {
	return f.moduli.NearestGroup(bits)
}

// ResolveService returns the service a session may switch to, or nil.
func (f *Factory) ResolveService(name string, hasIdentity bool) service.Service {
	if f.router == nil {
		return nil
	}
	return f.router.Resolve(name, hasIdentity)
}

// HostKeys exposes the key store.
func (f *Factory) HostKeys() *hostkeys.Store {
	return f.hostKeys
}

// Moduli exposes the moduli repository.
func (f *Factory) Moduli() *moduli.Repository {
	return f.moduli
}
