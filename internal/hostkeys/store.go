// Package hostkeys holds the server's host key material.
//
// A Store keeps two parallel maps keyed by SSH key type: the public key
// blobs advertised to clients and the signers used during key exchange. The
// set of key types with a signer decides which public key algorithms the
// server advertises. The maps are filled once at startup and never change
// afterwards, so reads need no locking.
package hostkeys

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/domain"
)

// Source supplies host key material.
type Source interface {
	LoadPublicKeys() (map[string][]byte, error)
	LoadPrivateKeys() (map[string]ssh.Signer, error)
}

// Store is the server's host key store.
type Store struct {
	source Source

	public     map[string][]byte
	publicSet  bool
	private    map[string]ssh.Signer
	privateSet bool
}

// NewStore creates an unloaded store backed by src.
func NewStore(src Source) *Store {
	return &Store{source: src}
}

// Seed installs key material directly. Seeded maps are not reloaded by
// EnsureLoaded; a nil map leaves that half unset.
func (s *Store) Seed(public map[string][]byte, private map[string]ssh.Signer) {
	if public != nil {
		s.public, s.publicSet = public, true
	}
	if private != nil {
		s.private, s.privateSet = private, true
	}
}

// EnsureLoaded loads whichever key maps are still unset and then checks
// that both are non-empty. It is safe to call more than once.
//
// Source errors are returned wrapped; an empty map after loading yields a
// *domain.ConfigurationError matching domain.ErrNoHostKeys.
func (s *Store) EnsureLoaded() error {
	if !s.publicSet {
		if s.source == nil {
			return &domain.UnimplementedError{Collaborator: "host key source", Method: "LoadPublicKeys"}
		}
		public, err := s.source.LoadPublicKeys()
		if err != nil {
			return fmt.Errorf("load public host keys: %w", err)
		}
		s.public, s.publicSet = public, true
	}
	if !s.privateSet {
		if s.source == nil {
			return &domain.UnimplementedError{Collaborator: "host key source", Method: "LoadPrivateKeys"}
		}
		private, err := s.source.LoadPrivateKeys()
		if err != nil {
			return fmt.Errorf("load private host keys: %w", err)
		}
		s.private, s.privateSet = private, true
	}
	if len(s.public) == 0 || len(s.private) == 0 {
		return &domain.ConfigurationError{Op: "host keys", Err: domain.ErrNoHostKeys}
	}
	return nil
}

// Loaded reports whether both key maps are set.
func (s *Store) Loaded() bool {
	return s.publicSet && s.privateSet
}

// KeyTypes returns the key types that have a signer, sorted.
func (s *Store) KeyTypes() []string {
	types := make([]string, 0, len(s.private))
	for t := range s.private {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Signer returns the signer for keyType.
func (s *Store) Signer(keyType string) (ssh.Signer, bool) {
	signer, ok := s.private[keyType]
	return signer, ok
}

// PublicKey returns the wire-format public key for keyType.
func (s *Store) PublicKey(keyType string) ([]byte, bool) {
	blob, ok := s.public[keyType]
	return blob, ok
}

// StaticSource serves fixed key maps.
type StaticSource struct {
	Public  map[string][]byte
	Private map[string]ssh.Signer
}

func (s StaticSource) LoadPublicKeys() (map[string][]byte, error) {
	return s.Public, nil
}

func (s StaticSource) LoadPrivateKeys() (map[string]ssh.Signer, error) {
	return s.Private, nil
}

// FromSigners builds a StaticSource whose public keys are derived from the
// given signers.
func FromSigners(signers ...ssh.Signer) StaticSource {
	src := StaticSource{
		Public:  make(map[string][]byte, len(signers)),
		Private: make(map[string]ssh.Signer, len(signers)),
	}
	for _, signer := range signers {
		keyType := signer.PublicKey().Type()
		src.Public[keyType] = signer.PublicKey().Marshal()
		src.Private[keyType] = signer
	}
	return src
}
