package hostkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// RSAKeyBits is the size of generated RSA host keys.
const RSAKeyBits = 4096

// NewRSAPrivateKey generates a new RSA private key of the specified bit size.
//
// The generated key is validated before it is returned.
//
// Parameters:
//   - bitSize: The number of bits for the RSA key (e.g., 2048, 4096).
//
// Returns:
//   - *rsa.PrivateKey: The generated RSA private key.
//   - error: If key generation or validation fails.
func NewRSAPrivateKey(bitSize int) (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, err
	}
	if err := privateKey.Validate(); err != nil {
		return nil, err
	}
	return privateKey, nil
}

// RSAPrivateKeyPEM encodes an RSA private key as a PKCS#1 PEM block.
func RSAPrivateKeyPEM(privateKey *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
}

// NewEd25519PrivateKeyPEM generates an ed25519 key and returns it in the
// OpenSSH private key format.
func NewEd25519PrivateKeyPEM(comment string) ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

// generateKeyPEM creates a private key of the named kind ("rsa" or
// "ed25519") encoded for writing to disk.
func generateKeyPEM(kind string) ([]byte, error) {
	switch kind {
	case "rsa":
		key, err := NewRSAPrivateKey(RSAKeyBits)
		if err != nil {
			return nil, err
		}
		return RSAPrivateKeyPEM(key), nil
	case "ed25519":
		return NewEd25519PrivateKeyPEM("sshgate host key")
	}
	return nil, fmt.Errorf("unsupported host key kind %q", kind)
}
