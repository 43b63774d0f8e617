// Package service maps SSH service names to the implementations a transport
// switches to, and decides whether a session may use them yet.
package service

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// Well-known service names.
const (
	UserAuth   = "ssh-userauth"
	Connection = "ssh-connection"
)

// Service is a protocol service a transport can run.
type Service interface {
	Name() string
}

// Authenticator is the user authentication service. It installs its
// callbacks on the server config before the handshake.
type Authenticator interface {
	Service
	Configure(cfg *ssh.ServerConfig)
}

// Connector is the connection service run after authentication.
type Connector interface {
	Service
	Serve(ctx context.Context, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request)
}

// Table maps service names to services.
type Table map[string]Service

// Router resolves service requests.
type Router struct {
	table Table
}

// NewRouter returns a router holding the authentication and connection
// services plus any extra ones. Extras never replace the two well-known
// entries.
func NewRouter(auth, conn Service, extra ...Service) *Router {
	t := Table{}
	for _, s := range extra {
		if s != nil {
			t[s.Name()] = s
		}
	}
	t[UserAuth] = auth
	t[Connection] = conn
	return &Router{table: t}
}

// Resolve returns the service for name, or nil when the session may not
// use it. The authentication service is always reachable; every other
// service requires an authenticated session. Unknown names resolve to nil.
func (r *Router) Resolve(name string, hasIdentity bool) Service {
	if name != UserAuth && !hasIdentity {
		return nil
	}
	s, ok := r.table[name]
	if !ok || s == nil {
		return nil
	}
	return s
}

// Named is a Service with only a name, for services that need no behaviour
// of their own.
type Named string

func (n Named) Name() string { return string(n) }
