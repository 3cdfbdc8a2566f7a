// Package token issues, redeems, refreshes and ends the sessions behind the
// stub's authorization codes and tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/session"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// GrantType is a token endpoint grant_type
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ExpiresIn is the expires_in value of every token response, in seconds
const ExpiresIn = 86400

// ErrUnsupportedGrant is returned by Redeem for grant types other than
// authorization_code and refresh_token
var ErrUnsupportedGrant = errors.New("unsupported grant type")

// Signer signs and verifies tokens
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	Parse(tokenString string, claims jwt.Claims) error
}

// IssuerSource provides the iss claim
type IssuerSource interface {
	Issuer() string
}

// Service issues and redeems sessions
type Service struct {
	store     *session.Store
	signer    Signer
	issuer    IssuerSource
	singleUse bool
	now       func() time.Time
	events    lookingglass.Emitter
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithSingleUseCodes clears an authorization code the first time it is redeemed
func WithSingleUseCodes(enabled bool) Option {
	return func(s *Service) { s.singleUse = enabled }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvents publishes session lifecycle events to emitter
func WithEvents(emitter lookingglass.Emitter) Option {
	return func(s *Service) { s.events = emitter }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a token service
func NewService(store *session.Store, signer Signer, issuer IssuerSource, opts ...Option) *Service {
	s := &Service{
		store:  store,
		signer: signer,
		issuer: issuer,
		now:    time.Now,
		events: lookingglass.Discard,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SingleUseCodes reports whether authorization codes are single use
func (s *Service) SingleUseCodes() bool {
	return s.singleUse
}

// CreateSession signs a token for person acting for organisationID and stores a
// new session holding it, a fresh authorization code and a refresh token.
func (s *Service) CreateSession(ctx context.Context, person *people.Person, organisationID string, relationships, roles []string, req *models.AuthorizationRequest) (*session.Session, error) {
	if person == nil || req == nil {
		return nil, errors.New("person and authorization request are required")
	}

	now := s.now()
	sessionID := uuid.New().String()

	claims := Claims{
		Identity: Identity{
			Audience:              uuid.New().String(),
			Issuer:                s.issuer.Issuer(),
			AMR:                   AuthMethod,
			AAL:                   AssuranceLevel,
			ServiceID:             req.ServiceID,
			CorrelationID:         uuid.New().String(),
			CurrentRelationshipID: organisationID,
			SessionID:             sessionID,
			ContactID:             person.CRN,
			Subject:               SubjectID,
			Email:                 Email,
			FirstName:             person.FirstName,
			LastName:              person.LastName,
			LOA:                   LevelOfAssurance,
			EnrolmentCount:        EnrolmentCount,
			EnrolmentRequestCount: EnrolmentRequestCount,
			Relationships:         nonNil(relationships),
			Roles:                 nonNil(roles),
			AuthorizedParty:       req.ClientID,
			Version:               Version,
			Nonce:                 req.Nonce,
		},
		Timing: NewTiming(now),
	}

	accessToken, err := s.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	accessCode, err := newAccessCode()
	if err != nil {
		return nil, err
	}
	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	sess := session.Session{
		SessionID:    sessionID,
		AccessCode:   accessCode,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scope:        req.Scope,
		CreatedAt:    now.UnixMilli(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Debug("Session created",
		zap.String("sessionId", sessionID),
		zap.String("clientId", req.ClientID),
		zap.String("organisationId", organisationID),
	)
	s.events.Emit(lookingglass.Event{
		Type:   lookingglass.EventTypeSessionCreated,
		Title:  "Session created",
		FlowID: sessionID,
		Data: map[string]interface{}{
			"accessCode": lookingglass.Fingerprint(accessCode),
			"claims":     claims,
		},
	})

	return &sess, nil
}

// Redeem exchanges an authorization code or refresh token for a token
// response. It returns nil without error when the code or refresh token does
// not resolve to a live session.
func (s *Service) Redeem(ctx context.Context, accessCode string, grantType GrantType, refreshToken string) (*models.TokenResponse, error) {
	switch grantType {
	case GrantAuthorizationCode:
		return s.redeemCode(ctx, accessCode)
	case GrantRefreshToken:
		return s.refresh(ctx, refreshToken)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrant, grantType)
	}
}

func (s *Service) redeemCode(ctx context.Context, accessCode string) (*models.TokenResponse, error) {
	var (
		sess        *session.Session
		err         error
		annotations []lookingglass.Annotation
	)
	if s.singleUse {
		sess, err = s.store.Modify(ctx, session.FieldAccessCode, accessCode, func(sess *session.Session) error {
			sess.AccessCode = ""
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to consume authorization code: %w", err)
		}
	} else {
		sess, err = s.store.FindBy(ctx, session.FieldAccessCode, accessCode)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, lookingglass.ReusableCodeAnnotation)
	}
	if sess == nil {
		s.rejected(GrantAuthorizationCode)
		return nil, nil
	}

	s.events.Emit(lookingglass.Event{
		Type:        lookingglass.EventTypeTokenRedeemed,
		Title:       "Authorization code redeemed",
		FlowID:      sess.SessionID,
		Annotations: annotations,
	})
	return tokenResponse(sess), nil
}

// refresh reissues the access token and rotates the refresh token in one store
// operation, so a refresh token is accepted at most once
func (s *Service) refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	var next Claims
	sess, err := s.store.Modify(ctx, session.FieldRefreshToken, refreshToken, func(sess *session.Session) error {
		var current Claims
		if err := s.signer.Parse(sess.AccessToken, &current); err != nil {
			return fmt.Errorf("failed to decode stored access token: %w", err)
		}
		next = current.Reissued(s.now())

		accessToken, err := s.signer.Sign(next)
		if err != nil {
			return err
		}
		rotated, err := newRefreshToken()
		if err != nil {
			return err
		}

		sess.AccessToken = accessToken
		sess.RefreshToken = rotated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.rejected(GrantRefreshToken)
		return nil, nil
	}

	s.events.Emit(lookingglass.Event{
		Type:   lookingglass.EventTypeTokenRefreshed,
		Title:  "Tokens refreshed",
		FlowID: sess.SessionID,
		Data: map[string]interface{}{
			"timing": next.Timing,
		},
	})
	return tokenResponse(sess), nil
}

// EndSession removes the session holding accessToken. Unknown tokens are ignored.
func (s *Service) EndSession(ctx context.Context, accessToken string) error {
	sess, err := s.store.FindBy(ctx, session.FieldAccessToken, accessToken)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if err := s.store.Remove(ctx, accessToken); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	s.events.Emit(lookingglass.Event{
		Type:   lookingglass.EventTypeSessionEnded,
		Title:  "Session ended",
		FlowID: sess.SessionID,
	})
	return nil
}

func (s *Service) rejected(grant GrantType) {
	s.events.Emit(lookingglass.Event{
		Type:  lookingglass.EventTypeTokenRejected,
		Title: "Token request rejected",
		Data:  map[string]interface{}{"grantType": grant},
	})
}

func tokenResponse(sess *session.Session) *models.TokenResponse {
	return &models.TokenResponse{
		AccessToken:  sess.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    ExpiresIn,
		Scope:        sess.Scope,
		RefreshToken: sess.RefreshToken,
		IDToken:      sess.AccessToken,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
