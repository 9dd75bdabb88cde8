// Package security implements DroneD's cryptographic identity layer: a
// directory-backed ring of RSA keypairs used to sign and verify blaster
// envelopes, plus the prime-pool nonce source that makes the protocol
// replay-resistant.
//
// Keyring generalizes the teacher's single-node Ed25519 identity
// (internal/security/crypto.go in the teacher repo, one keypair loaded or
// generated under <home>/keys/) into a directory of many named RSA keys,
// since the blaster protocol verifies a named signer per request rather
// than a single node identity.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
)

// keyEntry holds the keys on file for one signer id. Either half may be
// nil: a peer usually only has other hosts' public keys, plus its own
// private key.
type keyEntry struct {
	public  *rsa.PublicKey
	private *rsa.PrivateKey
}

// Keyring loads RSA keys from a directory of "<id>.public" / "<id>.private"
// PEM files. Reload() atomically replaces the whole table so an
// in-flight Verify sees either the old or the new table, never a partial
// mix of the two.
type Keyring struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]keyEntry
	log     zerolog.Logger
}

// NewKeyring creates a keyring rooted at dir and performs an initial load.
func NewKeyring(dir string, log zerolog.Logger) (*Keyring, error) {
	kr := &Keyring{
		dir: dir,
		log: log.With().Str("component", "keyring").Logger(),
	}
	if err := kr.Reload(); err != nil {
		return nil, err
	}
	return kr, nil
}

// Reload rescans the key directory and atomically swaps in the new table.
func (kr *Keyring) Reload() error {
	entries := make(map[string]keyEntry)

	files, err := os.ReadDir(kr.dir)
	if err != nil {
		if os.IsNotExist(err) {
			kr.mu.Lock()
			kr.entries = entries
			kr.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read key dir %s: %w", kr.dir, err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		var id, kind string
		switch {
		case strings.HasSuffix(name, ".public"):
			id, kind = strings.TrimSuffix(name, ".public"), "public"
		case strings.HasSuffix(name, ".private"):
			id, kind = strings.TrimSuffix(name, ".private"), "private"
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(kr.dir, name))
		if err != nil {
			kr.log.Warn().Err(err).Str("file", name).Msg("failed to read key file")
			continue
		}

		entry := entries[id]
		switch kind {
		case "public":
			pub, err := parsePublicKey(data)
			if err != nil {
				kr.log.Warn().Err(err).Str("id", id).Msg("failed to parse public key")
				continue
			}
			entry.public = pub
		case "private":
			priv, err := parsePrivateKey(data)
			if err != nil {
				kr.log.Warn().Err(err).Str("id", id).Msg("failed to parse private key")
				continue
			}
			entry.private = priv
		}
		entries[id] = entry
	}

	kr.mu.Lock()
	kr.entries = entries
	kr.mu.Unlock()
	kr.log.Info().Int("keys", len(entries)).Msg("keyring reloaded")
	return nil
}

func (kr *Keyring) lookup(id string) (keyEntry, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	e, ok := kr.entries[id]
	return e, ok
}

// PublicEncrypt encrypts bytes for id using its public key (RSA PKCS#1
// v1.5 encryption), the inverse of PrivateDecrypt.
func (kr *Keyring) PublicEncrypt(id string, data []byte) ([]byte, error) {
	e, ok := kr.lookup(id)
	if !ok || e.public == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchKey, id)
	}
	return rsa.EncryptPKCS1v15(rand.Reader, e.public, data)
}

// PrivateDecrypt decrypts bytes encrypted with id's public key.
func (kr *Keyring) PrivateDecrypt(id string, data []byte) ([]byte, error) {
	e, ok := kr.lookup(id)
	if !ok || e.private == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchKey, id)
	}
	return rsa.DecryptPKCS1v15(rand.Reader, e.private, data)
}

// PrivateEncrypt "signs" bytes with id's private key using raw RSA
// (PKCS1v15 encryption with the private key), matching the blaster wire
// protocol's convention of RSA-encrypting the digest rather than using a
// padded signature scheme.
func (kr *Keyring) PrivateEncrypt(id string, data []byte) ([]byte, error) {
	e, ok := kr.lookup(id)
	if !ok || e.private == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchKey, id)
	}
	return rsaPrivateEncrypt(e.private, data)
}

// PublicDecrypt reverses PrivateEncrypt using id's public key.
func (kr *Keyring) PublicDecrypt(id string, data []byte) ([]byte, error) {
	e, ok := kr.lookup(id)
	if !ok || e.public == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchKey, id)
	}
	return rsaPublicDecrypt(e.public, data)
}

// HasPublic reports whether id's public key is loaded.
func (kr *Keyring) HasPublic(id string) bool {
	e, ok := kr.lookup(id)
	return ok && e.public != nil
}

// GenerateKeypair creates a new RSA-2048 keypair and writes it to dir as
// "<id>.public" / "<id>.private" PEM files, mirroring the teacher's
// LoadOrCreateKeypair on-disk convention (0600 on the private half).
func GenerateKeypair(dir, id string) error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey),
	})

	if err := os.WriteFile(filepath.Join(dir, id+".private"), privPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".public"), pubPEM, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM")
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	// Fall back to PKIX for keys generated by other tooling.
	any, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := any.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM")
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	any, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := any.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return priv, nil
}
