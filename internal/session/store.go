// Package session holds the issued-token session records and their persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is the absolute lifetime of a session measured from its creation
const DefaultTTL = time.Hour

var (
	// ErrNotFound is returned when updating a session that no longer exists
	ErrNotFound = errors.New("session not found")
	// ErrUnknownField is returned when looking up by a field sessions do not carry
	ErrUnknownField = errors.New("unknown session field")
	// ErrCorruptState is returned by adapters whose persisted state cannot be decoded
	ErrCorruptState = errors.New("persisted sessions are corrupt")
)

// Session is an issued-token record. CreatedAt is Unix milliseconds.
type Session struct {
	SessionID    string `json:"sessionId"`
	AccessCode   string `json:"accessCode"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"createdAt"`
}

// Created returns CreatedAt as a time
func (s Session) Created() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// Field names a lookup key of a session
type Field string

const (
	FieldSessionID    Field = "sessionId"
	FieldAccessCode   Field = "accessCode"
	FieldAccessToken  Field = "accessToken"
	FieldRefreshToken Field = "refreshToken"
)

func (s Session) value(f Field) (string, error) {
	switch f {
	case FieldSessionID:
		return s.SessionID, nil
	case FieldAccessCode:
		return s.AccessCode, nil
	case FieldAccessToken:
		return s.AccessToken, nil
	case FieldRefreshToken:
		return s.RefreshToken, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
}

// Adapter persists the full session list
type Adapter interface {
	Load(ctx context.Context) ([]Session, error)
	Save(ctx context.Context, sessions []Session) error
	Close() error
}

// Store is the single-writer session list. Every operation holds the lock, and
// every mutation is written through to the adapter before returning.
type Store struct {
	adapter  Adapter
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
	sessions []Session
	mu       sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithTTL overrides the session lifetime
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store backed by adapter. Call Load before use to restore
// previously persisted sessions.
func NewStore(adapter Adapter, opts ...Option) *Store {
	s := &Store{
		adapter:  adapter,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   zap.NewNop(),
		sessions: make([]Session, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores persisted sessions and prunes the expired ones. Corrupt state
// is discarded and the store starts empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.adapter.Load(ctx)
	if errors.Is(err, ErrCorruptState) {
		s.logger.Warn("Discarding unreadable session state", zap.Error(err))
		loaded = nil
	} else if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	s.sessions = append(make([]Session, 0, len(loaded)), loaded...)
	return s.pruneLocked(ctx, true)
}

// Create appends a session and persists
func (s *Store) Create(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.CreatedAt == 0 {
		session.CreatedAt = s.now().UnixMilli()
	}
	previous := s.sessions
	s.sessions = append(s.sessions[:len(s.sessions):len(s.sessions)], session)
	return s.commitLocked(ctx, previous)
}

// FindBy prunes expired sessions, then returns a copy of the first session whose
// field equals value. It returns nil when nothing matches.
func (s *Store) FindBy(ctx context.Context, field Field, value string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pruneLocked(ctx, false); err != nil {
		return nil, err
	}

	for _, session := range s.sessions {
		v, err := session.value(field)
		if err != nil {
			return nil, err
		}
		if v != "" && v == value {
			found := session
			return &found, nil
		}
	}
	return nil, nil
}

// Update replaces the session with the same SessionID and persists. CreatedAt
// is kept from the stored session so the lifetime cannot be reset or extended.
func (s *Store) Update(ctx context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].SessionID == session.SessionID {
			session.CreatedAt = s.sessions[i].CreatedAt
			return s.replaceLocked(ctx, i, session)
		}
	}
	return ErrNotFound
}

// Modify finds the live session whose field equals value and applies fn to a
// copy of it while holding the lock, then stores and persists the result.
// Concurrent callers matching the same value are serialized: once fn has
// changed the matched field, later callers find nothing. It returns nil when
// nothing matches. When fn fails the session is left untouched.
func (s *Store) Modify(ctx context.Context, field Field, value string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pruneLocked(ctx, false); err != nil {
		return nil, err
	}

	for i := range s.sessions {
		v, err := s.sessions[i].value(field)
		if err != nil {
			return nil, err
		}
		if v == "" || v != value {
			continue
		}

		next := s.sessions[i]
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.SessionID = s.sessions[i].SessionID
		next.CreatedAt = s.sessions[i].CreatedAt
		if err := s.replaceLocked(ctx, i, next); err != nil {
			return nil, err
		}
		return &next, nil
	}
	return nil, nil
}

// Remove deletes the session holding accessToken. Unknown tokens are ignored.
func (s *Store) Remove(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].AccessToken == accessToken {
			previous := s.sessions
			remaining := make([]Session, 0, len(s.sessions)-1)
			remaining = append(remaining, s.sessions[:i]...)
			s.sessions = append(remaining, s.sessions[i+1:]...)
			return s.commitLocked(ctx, previous)
		}
	}
	return nil
}

// Prune drops sessions older than the TTL
func (s *Store) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(ctx, false)
}

// Len returns the number of held sessions, expired ones included until the next prune
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close releases the adapter
func (s *Store) Close() error {
	return s.adapter.Close()
}

func (s *Store) pruneLocked(ctx context.Context, force bool) error {
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	live := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.CreatedAt > cutoff {
			live = append(live, session)
		}
	}
	pruned := len(s.sessions) - len(live)
	s.sessions = live

	if pruned == 0 && !force {
		return nil
	}
	if pruned > 0 {
		s.logger.Debug("Pruned expired sessions", zap.Int("count", pruned))
	}
	return s.saveLocked(ctx)
}

// replaceLocked swaps in session at index i, restoring the old record when it
// cannot be persisted
func (s *Store) replaceLocked(ctx context.Context, i int, session Session) error {
	old := s.sessions[i]
	s.sessions[i] = session
	if err := s.saveLocked(ctx); err != nil {
		s.sessions[i] = old
		return err
	}
	return nil
}

// commitLocked persists the current list, going back to previous when that fails
func (s *Store) commitLocked(ctx context.Context, previous []Session) error {
	if err := s.saveLocked(ctx); err != nil {
		s.sessions = previous
		return err
	}
	return nil
}

func (s *Store) saveLocked(ctx context.Context) error {
	snapshot := make([]Session, len(s.sessions))
	copy(snapshot, s.sessions)
	if err := s.adapter.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	return nil
}
