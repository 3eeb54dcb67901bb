package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// KeyResolver maps an identity name to its public key and to the HMAC key
// shared out-of-band with that identity.
type KeyResolver interface {
	PublicKey(name string) (*rsa.PublicKey, error)
	SharedHMACKey(name string) ([]byte, error)
}

// DirKeyStore resolves keys from a directory holding one <name>.pub.pem and
// one <name>.key (hex encoded HMAC secret) per identity. Lookups are cached.
type DirKeyStore struct {
	dir string

	mu       sync.RWMutex
	pubCache map[string]*rsa.PublicKey
}

func NewDirKeyStore(dir string) *DirKeyStore {
	return &DirKeyStore{
		dir:      dir,
		pubCache: make(map[string]*rsa.PublicKey),
	}
}

func (ks *DirKeyStore) PublicKey(name string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	pub, ok := ks.pubCache[name]
	ks.mu.RUnlock()
	if ok {
		return pub, nil
	}

	pub, err := LoadPublicKey(filepath.Join(ks.dir, name+".pub.pem"))
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	ks.pubCache[name] = pub
	ks.mu.Unlock()
	return pub, nil
}

func (ks *DirKeyStore) SharedHMACKey(name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(ks.dir, name+".key"))
	if err != nil {
		return nil, fmt.Errorf("shared key of %s: %w", name, err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("shared key of %s: %w", name, err)
	}
	return key, nil
}

// MapKeyStore is an in-memory KeyResolver. Tests and the embedded witness
// registry use it.
type MapKeyStore struct {
	mu       sync.RWMutex
	pubKeys  map[string]*rsa.PublicKey
	hmacKeys map[string][]byte
}

func NewMapKeyStore() *MapKeyStore {
	return &MapKeyStore{
		pubKeys:  make(map[string]*rsa.PublicKey),
		hmacKeys: make(map[string][]byte),
	}
}

func (ks *MapKeyStore) AddPublicKey(name string, pub *rsa.PublicKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.pubKeys[name] = pub
}

func (ks *MapKeyStore) AddSharedHMACKey(name string, key []byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.hmacKeys[name] = append([]byte(nil), key...)
}

func (ks *MapKeyStore) PublicKey(name string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pub, ok := ks.pubKeys[name]
	if !ok {
		return nil, fmt.Errorf("no public key for %s", name)
	}
	return pub, nil
}

func (ks *MapKeyStore) SharedHMACKey(name string) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	key, ok := ks.hmacKeys[name]
	if !ok {
		return nil, fmt.Errorf("no shared key for %s", name)
	}
	return key, nil
}

// LoadPrivateKey reads an RSA private key from a PEM file, accepting both
// PKCS#1 and PKCS#8 encodings.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("private key %s: no PEM block", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s: not an RSA key", path)
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key from a PEM file, accepting both
// PKIX and PKCS#1 encodings.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("public key %s: no PEM block", path)
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s: not an RSA key", path)
	}
	return key, nil
}
