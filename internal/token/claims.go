package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Fixed values the emulated provider puts in every token
const (
	SubjectID             = "5add6531-c8c8-4e78-b57b-071002f21887"
	Email                 = "test@example.com"
	AuthMethod            = "one"
	AssuranceLevel        = "1"
	LevelOfAssurance      = 1
	EnrolmentCount        = 1
	EnrolmentRequestCount = 0
	Version               = "1.0"

	// Lifetime is how long an access token is valid for
	Lifetime = 24 * time.Hour
	// ClockSkew backdates nbf so slightly slow clients accept a fresh token
	ClockSkew = 30 * time.Second
)

// Identity is the part of the claim set that describes who signed in and for
// which organisation. It is fixed when a session is created and carried
// unchanged through every refresh.
type Identity struct {
	Audience              string   `json:"aud"`
	Issuer                string   `json:"iss"`
	AMR                   string   `json:"amr"`
	AAL                   string   `json:"aal"`
	ServiceID             string   `json:"serviceId"`
	CorrelationID         string   `json:"correlationId"`
	CurrentRelationshipID string   `json:"currentRelationshipId"`
	SessionID             string   `json:"sessionId"`
	ContactID             int64    `json:"contactId"`
	Subject               string   `json:"sub"`
	Email                 string   `json:"email"`
	FirstName             string   `json:"firstName"`
	LastName              string   `json:"lastName"`
	LOA                   int      `json:"loa"`
	EnrolmentCount        int      `json:"enrolmentCount"`
	EnrolmentRequestCount int      `json:"enrolmentRequestCount"`
	Relationships         []string `json:"relationships"`
	Roles                 []string `json:"roles"`
	AuthorizedParty       string   `json:"azp"`
	Version               string   `json:"ver"`
	Nonce                 string   `json:"nonce,omitempty"`
}

// Timing holds the claims that change on every issue: a unique token id and
// the time-based claims in Unix seconds
type Timing struct {
	ID        string `json:"jti"`
	ExpiresAt int64  `json:"exp"`
	NotBefore int64  `json:"nbf"`
	IssuedAt  int64  `json:"iat"`
}

// NewTiming returns the timing claims of a token issued at now. The jti keeps
// two tokens issued within the same second distinct.
func NewTiming(now time.Time) Timing {
	iat := now.Unix()
	return Timing{
		ID:        uuid.New().String(),
		ExpiresAt: iat + int64(Lifetime/time.Second),
		NotBefore: iat - int64(ClockSkew/time.Second),
		IssuedAt:  iat,
	}
}

// Claims is the full payload of an access/ID token. Both halves serialize
// into one flat JSON object.
type Claims struct {
	Identity
	Timing
}

// Reissued returns the same identity with timing for a token issued at now
func (c Claims) Reissued(now time.Time) Claims {
	return Claims{Identity: c.Identity, Timing: NewTiming(now)}
}

var _ jwt.Claims = Claims{}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.NotBefore, 0)), nil
}

func (c Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}
