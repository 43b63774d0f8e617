package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/domain"
	"sshgate/internal/log"
	"sshgate/internal/moduli"
	"sshgate/internal/service"
)

type signerMap map[string]ssh.Signer

func (m signerMap) Signer(keyType string) (ssh.Signer, bool) {
	s, ok := m[keyType]
	return s, ok
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

type passwordAuth struct{ password string }

func (passwordAuth) Name() string { return service.UserAuth }

func (a passwordAuth) Configure(cfg *ssh.ServerConfig) {
	cfg.PasswordCallback = func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
		if string(pw) == a.password {
			return nil, nil
		}
		return nil, errors.New("bad password")
	}
}

type recordingConnector struct {
	mu   sync.Mutex
	user string
}

func (*recordingConnector) Name() string { return service.Connection }

func (c *recordingConnector) Serve(ctx context.Context, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, reqs <-chan *ssh.Request) {
	c.mu.Lock()
	c.user = conn.User()
	c.mu.Unlock()
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		nc.Reject(ssh.UnknownChannelType, "nothing here")
	}
}

func TestIsFixedGroup(t *testing.T) {
	t.Parallel()

	for _, algo := range DefaultKeyExchanges {
		want := algo != KexDHGEXSHA256
		if got := IsFixedGroup(algo); got != want {
			t.Fatalf("IsFixedGroup(%q) = %v, want %v", algo, got, want)
		}
	}
	if IsFixedGroup(KexDHGEXSHA1) {
		t.Fatal("group exchange sha1 classified as fixed")
	}
	if !IsFixedGroup(KexDHGroup1SHA1) {
		t.Fatal("group1 classified as negotiated")
	}
}

func TestNewTransportCopiesDefaults(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	if tr.ID == "" {
		t.Fatal("transport has no ID")
	}
	if New(nil).ID == tr.ID {
		t.Fatal("transport IDs collide")
	}
	tr.SupportedKeyExchanges[0] = "mutated"
	if DefaultKeyExchanges[0] == "mutated" {
		t.Fatal("transport shares the default list")
	}
}

func TestAuthenticateIsTerminal(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	if _, ok := tr.Identity(); ok {
		t.Fatal("fresh transport has an identity")
	}
	if !tr.Authenticate("alice") {
		t.Fatal("first Authenticate returned false")
	}
	if tr.Authenticate("mallory") {
		t.Fatal("second Authenticate returned true")
	}
	if user, ok := tr.Identity(); !ok || user != "alice" {
		t.Fatalf("identity = %q/%v, want alice/true", user, ok)
	}
}

func TestRequestServiceUsesIdentity(t *testing.T) {
	t.Parallel()

	router := service.NewRouter(service.Named(service.UserAuth), service.Named(service.Connection))
	tr := New(nil)
	tr.Logger = log.Discard()
	tr.OnServiceRequested = router.Resolve

	if tr.RequestService(service.Connection) != nil {
		t.Fatal("connection service granted before authentication")
	}
	if tr.RequestService(service.UserAuth) == nil {
		t.Fatal("authentication service denied")
	}
	tr.Authenticate("alice")
	if tr.RequestService(service.Connection) == nil {
		t.Fatal("connection service denied after authentication")
	}

	if New(nil).RequestService(service.UserAuth) != nil {
		t.Fatal("transport without hook granted a service")
	}
}

func TestDHGroup(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	if _, err := tr.DHGroup(2048); !errors.Is(err, domain.ErrNoModuli) {
		t.Fatalf("got %v, want ErrNoModuli", err)
	}

	want := moduli.Group{Generator: big.NewInt(2), Prime: big.NewInt(23)}
	var asked int
	tr.OnDHGroupNeeded = func(bits int) (moduli.Group, error) {
		asked = bits
		return want, nil
	}
	got, err := tr.DHGroup(3072)
	if err != nil {
		t.Fatal(err)
	}
	if asked != 3072 || got.Prime != want.Prime {
		t.Fatalf("hook asked for %d bits, returned %v", asked, got)
	}
}

func TestServerConfigRestrictsAlgorithms(t *testing.T) {
	t.Parallel()

	signer := newSigner(t)
	tr := New(nil)
	tr.HostKeys = signerMap{ssh.KeyAlgoED25519: signer}
	tr.SupportedPublicKeys = []string{ssh.KeyAlgoED25519, ssh.KeyAlgoRSA}

	cfg, err := tr.ServerConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, algo := range cfg.KeyExchanges {
		if !IsFixedGroup(algo) {
			t.Fatalf("group exchange %q handed to the x/crypto server", algo)
		}
	}
	want := engineKeyExchanges(DefaultKeyExchanges)
	if !reflect.DeepEqual(cfg.KeyExchanges, want) {
		t.Fatalf("got %v, want %v", cfg.KeyExchanges, want)
	}
}

func TestServerConfigErrors(t *testing.T) {
	t.Parallel()

	signer := newSigner(t)

	noKeys := New(nil)
	noKeys.HostKeys = signerMap{ssh.KeyAlgoED25519: signer}
	noKeys.SupportedPublicKeys = []string{ssh.KeyAlgoRSA}
	if _, err := noKeys.ServerConfig(nil); !errors.Is(err, domain.ErrNoHostKeys) {
		t.Fatalf("got %v, want ErrNoHostKeys", err)
	}

	gexOnly := New(nil)
	gexOnly.HostKeys = signerMap{ssh.KeyAlgoED25519: signer}
	gexOnly.SupportedPublicKeys = []string{ssh.KeyAlgoED25519}
	gexOnly.SupportedKeyExchanges = []string{KexDHGEXSHA256}
	if _, err := gexOnly.ServerConfig(nil); err == nil {
		t.Fatal("expected error when no key exchange is usable")
	}
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestServeHandshakeAndConnectionService(t *testing.T) {
	t.Parallel()

	signer := newSigner(t)
	conn := &recordingConnector{}
	router := service.NewRouter(passwordAuth{password: "hunter2"}, conn)

	tr := New(nil)
	tr.Logger = log.Discard()
	tr.HostKeys = signerMap{ssh.KeyAlgoED25519: signer}
	tr.SupportedPublicKeys = []string{ssh.KeyAlgoED25519}
	tr.OnServiceRequested = router.Resolve
	tr.HandshakeTimeout = 10 * time.Second

	ln := listenLoopback(t)
	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- tr.Serve(context.Background(), c)
	}()

	client, err := ssh.Dial("tcp", ln.Addr().String(), &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.Password("hunter2")},
		HostKeyCallback: ssh.FixedHostKey(signer.PublicKey()),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = client.OpenChannel("session", nil)
	var openErr *ssh.OpenChannelError
	if !errors.As(err, &openErr) || openErr.Reason != ssh.UnknownChannelType {
		t.Fatalf("got %v, want UnknownChannelType rejection", err)
	}
	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}

	if user, ok := tr.Identity(); !ok || user != "alice" {
		t.Fatalf("identity = %q/%v, want alice/true", user, ok)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.user != "alice" {
		t.Fatalf("connection service saw user %q", conn.user)
	}
}

func TestServeRejectsBadPassword(t *testing.T) {
	t.Parallel()

	signer := newSigner(t)
	router := service.NewRouter(passwordAuth{password: "hunter2"}, &recordingConnector{})

	tr := New(nil)
	tr.Logger = log.Discard()
	tr.HostKeys = signerMap{ssh.KeyAlgoED25519: signer}
	tr.SupportedPublicKeys = []string{ssh.KeyAlgoED25519}
	tr.OnServiceRequested = router.Resolve

	ln := listenLoopback(t)
	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- tr.Serve(context.Background(), c)
	}()

	_, err := ssh.Dial("tcp", ln.Addr().String(), &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if err := <-done; err == nil {
		t.Fatal("Serve reported success for a failed handshake")
	}
	if _, ok := tr.Identity(); ok {
		t.Fatal("identity set after failed authentication")
	}
}

func TestServeWithoutAuthService(t *testing.T) {
	t.Parallel()

	tr := New(nil)
	tr.Logger = log.Discard()
	server, client := net.Pipe()
	defer client.Close()

	err := tr.Serve(context.Background(), server)
	if !errors.Is(err, domain.ErrServiceDenied) {
		t.Fatalf("got %v, want ErrServiceDenied", err)
	}
	if _, err := fmt.Fprint(server, "x"); err == nil {
		t.Fatal("Serve left the connection open")
	}
}
