package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyID is the fixed key identifier published in the JWKS and stamped on every token
const KeyID = "defra-id-stub-key"

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
	rsaKeyBits     = 2048
)

// ErrKeysNotInitialized is returned when the signing key is requested before EnsureKeys
var ErrKeysNotInitialized = errors.New("signing keys have not been initialized")

// KeyPair is the active RSA signing keypair
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	KeyID      string
}

// KeyManager owns the RSA signing keypair and its PEM files in the storage directory.
// A single key is active for the lifetime of the process; there is no rotation.
type KeyManager struct {
	dir  string
	pair *KeyPair
	mu   sync.RWMutex
}

// NewKeyManager creates a key manager persisting to dir
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// Dir returns the storage directory
func (km *KeyManager) Dir() string {
	return km.dir
}

// EnsureKeys loads the persisted keypair, or generates and persists a new one
// when either PEM file is missing. Subsequent calls return the same keypair.
func (km *KeyManager) EnsureKeys() (*KeyPair, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.pair != nil {
		return km.pair, nil
	}

	privatePath := filepath.Join(km.dir, privateKeyFile)
	publicPath := filepath.Join(km.dir, publicKeyFile)

	var key *rsa.PrivateKey
	if fileExists(privatePath) && fileExists(publicPath) {
		loaded, err := loadPrivateKey(privatePath)
		if err != nil {
			return nil, err
		}
		key = loaded
	} else {
		generated, err := generateAndPersist(km.dir, privatePath, publicPath)
		if err != nil {
			return nil, err
		}
		key = generated
	}

	km.pair = &KeyPair{
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
		KeyID:      KeyID,
	}
	return km.pair, nil
}

// PrivateKey returns the signing key
func (km *KeyManager) PrivateKey() (*rsa.PrivateKey, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.pair == nil {
		return nil, ErrKeysNotInitialized
	}
	return km.pair.PrivateKey, nil
}

// PublicKey returns the verification key
func (km *KeyManager) PublicKey() (*rsa.PublicKey, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.pair == nil {
		return nil, ErrKeysNotInitialized
	}
	return km.pair.PublicKey, nil
}

// PublicJWKS returns the public key in JWKS format
func (km *KeyManager) PublicJWKS() (JWKS, error) {
	pub, err := km.PublicKey()
	if err != nil {
		return JWKS{}, err
	}
	return JWKS{Keys: []JWK{NewRSAPublicJWK(pub, KeyID)}}, nil
}

func generateAndPersist(dir, privatePath, publicPath string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return key, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	// PKCS#8 first, then PKCS#1 for keys generated by openssl genrsa
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key in %s is not RSA", path)
		}
		return key, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
