package hostkeys

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/ssh"

	"sshgate/internal/log"
)

// DirSource reads OpenSSH style host keys (ssh_host_<kind>_key and
// ssh_host_<kind>_key.pub) from a directory.
type DirSource struct {
	Dir string
	// Generate lists key kinds ("rsa", "ed25519") to create when their
	// private key file is missing.
	Generate []string
	Logger   *slog.Logger
}

// KeyPath returns the private key path for a key kind.
func (s DirSource) KeyPath(kind string) string {
	return filepath.Join(s.Dir, "ssh_host_"+kind+"_key")
}

// LoadPublicKeys returns the public host keys keyed by key type. A key
// without a .pub file has its public half derived from the private key.
// Unparsable files are skipped.
func (s DirSource) LoadPublicKeys() (map[string][]byte, error) {
	if err := s.ensureGenerated(); err != nil {
		return nil, err
	}
	paths, err := s.privateKeyPaths()
	if err != nil {
		return nil, err
	}

	logger := log.OrDefault(s.Logger)
	keys := make(map[string][]byte, len(paths))
	for _, path := range paths {
		pub, err := readPublicKey(path + ".pub")
		if errors.Is(err, fs.ErrNotExist) {
			signer, perr := readSigner(path)
			if perr != nil {
				logger.Warn("skipping host key", "path", path, "err", perr)
				continue
			}
			pub, err = signer.PublicKey(), nil
		}
		if err != nil {
			logger.Warn("skipping public host key", "path", path+".pub", "err", err)
			continue
		}
		keys[pub.Type()] = pub.Marshal()
	}
	return keys, nil
}

// LoadPrivateKeys returns a signer per key type. Files the process may not
// read are skipped with a warning; any other failure is returned.
func (s DirSource) LoadPrivateKeys() (map[string]ssh.Signer, error) {
	if err := s.ensureGenerated(); err != nil {
		return nil, err
	}
	paths, err := s.privateKeyPaths()
	if err != nil {
		return nil, err
	}

	logger := log.OrDefault(s.Logger)
	signers := make(map[string]ssh.Signer, len(paths))
	for _, path := range paths {
		signer, err := readSigner(path)
		if errors.Is(err, fs.ErrPermission) {
			logger.Warn("host key file unreadable", "path", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("host key %s: %w", path, err)
		}
		signers[signer.PublicKey().Type()] = signer
	}
	return signers, nil
}

func (s DirSource) privateKeyPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.Dir, "ssh_host_*_key"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ensureGenerated writes any missing key listed in Generate, together with
// its .pub file.
func (s DirSource) ensureGenerated() error {
	for _, kind := range s.Generate {
		path := s.KeyPath(kind)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		if err := os.MkdirAll(s.Dir, 0o700); err != nil {
			return err
		}
		pemBytes, err := generateKeyPEM(kind)
		if err != nil {
			return fmt.Errorf("generate %s host key: %w", kind, err)
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return fmt.Errorf("parse generated %s host key: %w", kind, err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return fmt.Errorf("save generated host key: %w", err)
		}
		if err := os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(signer.PublicKey()), 0o644); err != nil {
			return fmt.Errorf("save generated public key: %w", err)
		}
		log.OrDefault(s.Logger).Info("generated host key", "kind", kind, "path", path)
	}
	return nil
}

func readSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func readPublicKey(path string) (ssh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	return pub, err
}
