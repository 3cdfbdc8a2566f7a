// Package cookiesession keeps per-browser state in an encrypted cookie so the
// server holds nothing between the steps of a sign-in flow.
package cookiesession

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-jose/go-jose/v4"
)

// MinPasswordLength is the shortest accepted cookie password
const MinPasswordLength = 32

var (
	// ErrNoCookie is returned by Load when the request carries no session cookie
	ErrNoCookie = errors.New("no session cookie")
	// ErrInvalidCookie is returned by Load when the cookie cannot be decrypted
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// Codec encrypts values as compact JWE (direct encryption, A256GCM) with a key
// derived from the cookie password
type Codec struct {
	key       []byte
	encrypter jose.Encrypter
}

// NewCodec creates a codec for password
func NewCodec(password string) (*Codec, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("cookie password must be at least %d characters", MinPasswordLength)
	}

	sum := sha256.Sum256([]byte(password))
	key := sum[:]

	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypter: %w", err)
	}
	return &Codec{key: key, encrypter: enc}, nil
}

// Encode serializes v to JSON and encrypts it
func (c *Codec) Encode(v interface{}) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	obj, err := c.encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return obj.CompactSerialize()
}

// Decode decrypts value into v
func (c *Codec) Decode(value string, v interface{}) error {
	obj, err := jose.ParseEncryptedCompact(value,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	plaintext, err := obj.Decrypt(c.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return nil
}

// Config configures the session cookie
type Config struct {
	Name     string
	Password string
	Secure   bool
}

// Manager reads and writes the session cookie
type Manager struct {
	codec  *Codec
	name   string
	secure bool
}

// NewManager creates a cookie manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Name == "" {
		return nil, errors.New("cookie name is required")
	}
	codec, err := NewCodec(cfg.Password)
	if err != nil {
		return nil, err
	}
	return &Manager{codec: codec, name: cfg.Name, secure: cfg.Secure}, nil
}

// Name returns the cookie name
func (m *Manager) Name() string {
	return m.name
}

// Load decodes the request's session cookie into v
func (m *Manager) Load(r *http.Request, v interface{}) error {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return ErrNoCookie
	}
	return m.codec.Decode(cookie.Value, v)
}

// Save writes v as the session cookie
func (m *Manager) Save(w http.ResponseWriter, v interface{}) error {
	value, err := m.codec.Encode(v)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(value, 0))
	return nil
}

// Clear expires the session cookie
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
