package hostkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/domain"
	"sshgate/internal/log"
)

func newEd25519Signer(t *testing.T) ssh.Signer {
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

type countingSource struct {
	StaticSource
	publicErr error
	calls     int
}

func (s *countingSource) LoadPublicKeys() (map[string][]byte, error) {
	s.calls++
	if s.publicErr != nil {
		return nil, s.publicErr
	}
	return s.StaticSource.LoadPublicKeys()
}

func (s *countingSource) LoadPrivateKeys() (map[string]ssh.Signer, error) {
	s.calls++
	return s.StaticSource.LoadPrivateKeys()
}

func TestEnsureLoadedPopulatesStore(t *testing.T) {
	t.Parallel()

	signer := newEd25519Signer(t)
	store := NewStore(FromSigners(signer))
	if err := store.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if !store.Loaded() {
		t.Fatal("store not marked loaded")
	}
	types := store.KeyTypes()
	if len(types) != 1 || types[0] != ssh.KeyAlgoED25519 {
		t.Fatalf("got key types %v, want [%s]", types, ssh.KeyAlgoED25519)
	}
	if _, ok := store.Signer(ssh.KeyAlgoED25519); !ok {
		t.Fatal("signer missing")
	}
	blob, ok := store.PublicKey(ssh.KeyAlgoED25519)
	if !ok || string(blob) != string(signer.PublicKey().Marshal()) {
		t.Fatal("public key blob mismatch")
	}
}

func TestEnsureLoadedRejectsEmptyMaps(t *testing.T) {
	t.Parallel()

	signer := newEd25519Signer(t)
	full := FromSigners(signer)

	tests := []struct {
		name string
		src  StaticSource
	}{
		{"no public keys", StaticSource{Public: map[string][]byte{}, Private: full.Private}},
		{"no private keys", StaticSource{Public: full.Public, Private: map[string]ssh.Signer{}}},
		{"neither", StaticSource{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := NewStore(tc.src).EnsureLoaded()
			if !errors.Is(err, domain.ErrNoHostKeys) {
				t.Fatalf("got %v, want ErrNoHostKeys", err)
			}
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("got %T, want *domain.ConfigurationError", err)
			}
		})
	}
}

func TestEnsureLoadedWithoutSource(t *testing.T) {
	t.Parallel()

	err := NewStore(nil).EnsureLoaded()
	if !errors.Is(err, domain.ErrUnimplemented) {
		t.Fatalf("got %v, want ErrUnimplemented", err)
	}
	if errors.Is(err, domain.ErrNoHostKeys) {
		t.Fatal("missing source must be distinct from an empty key set")
	}
}

func TestEnsureLoadedPropagatesSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	err := NewStore(&countingSource{publicErr: boom}).EnsureLoaded()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped source error", err)
	}
}

func TestEnsureLoadedIdempotentAndSeedable(t *testing.T) {
	t.Parallel()

	signer := newEd25519Signer(t)
	src := &countingSource{StaticSource: FromSigners(signer)}
	store := NewStore(src)
	if err := store.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Fatalf("source called %d times, want 2 (one per map)", src.calls)
	}

	seededSrc := &countingSource{}
	seeded := NewStore(seededSrc)
	pre := FromSigners(signer)
	seeded.Seed(pre.Public, pre.Private)
	if err := seeded.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if seededSrc.calls != 0 {
		t.Fatal("seeded store consulted its source")
	}
}

func TestSeedPartialLoadsTheRest(t *testing.T) {
	t.Parallel()

	signer := newEd25519Signer(t)
	src := &countingSource{StaticSource: FromSigners(signer)}
	store := NewStore(src)
	store.Seed(src.Public, nil)
	if err := store.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
}

func TestDirSourceGeneratesAndLoads(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "keys")
	src := DirSource{Dir: dir, Generate: []string{"ed25519"}, Logger: log.Discard()}

	store := NewStore(src)
	if err := store.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	if types := store.KeyTypes(); len(types) != 1 || types[0] != ssh.KeyAlgoED25519 {
		t.Fatalf("got key types %v", types)
	}

	info, err := os.Stat(src.KeyPath("ed25519"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("private key mode %o, want 600", perm)
	}
	if _, err := os.Stat(src.KeyPath("ed25519") + ".pub"); err != nil {
		t.Fatalf("public key not written: %v", err)
	}

	// A second source over the same directory must reuse the key.
	again := NewStore(DirSource{Dir: dir, Generate: []string{"ed25519"}, Logger: log.Discard()})
	if err := again.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	a, _ := store.PublicKey(ssh.KeyAlgoED25519)
	b, _ := again.PublicKey(ssh.KeyAlgoED25519)
	if string(a) != string(b) {
		t.Fatal("host key regenerated on second load")
	}
}

func TestDirSourceDerivesMissingPublicKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pemBytes, err := NewEd25519PrivateKeyPEM("test")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ssh_host_ed25519_key"), pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := DirSource{Dir: dir, Logger: log.Discard()}.LoadPublicKeys()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := keys[ssh.KeyAlgoED25519]; !ok {
		t.Fatalf("derived public key missing: %v", keys)
	}
}

func TestDirSourceEmptyDirFailsStore(t *testing.T) {
	t.Parallel()

	err := NewStore(DirSource{Dir: t.TempDir(), Logger: log.Discard()}).EnsureLoaded()
	if !errors.Is(err, domain.ErrNoHostKeys) {
		t.Fatalf("got %v, want ErrNoHostKeys", err)
	}
}

func TestDirSourceCorruptKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ssh_host_rsa_key"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (DirSource{Dir: dir, Logger: log.Discard()}).LoadPrivateKeys(); err == nil {
		t.Fatal("expected parse error for corrupt key")
	}
}

func TestGenerateKeyPEMUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := generateKeyPEM("dsa"); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}
