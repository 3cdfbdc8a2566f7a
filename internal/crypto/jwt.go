package crypto

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService signs and parses RS256 tokens with the managed keypair
type JWTService struct {
	keys *KeyManager
}

// NewJWTService creates a new JWT service
func NewJWTService(keys *KeyManager) *JWTService {
	return &JWTService{keys: keys}
}

// Sign serializes claims into a compact JWS carrying the fixed kid header
func (s *JWTService) Sign(claims jwt.Claims) (string, error) {
	priv, err := s.keys.PrivateKey()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature of tokenString and decodes its payload into claims.
// Time-based claims are not validated; callers decide what expiry means to them.
func (s *JWTService) Parse(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	return nil
}

func (s *JWTService) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}

	jwks, err := s.keys.PublicJWKS()
	if err != nil {
		return nil, err
	}
	jwk, err := jwks.GetKeyByID(kid)
	if err != nil {
		return nil, err
	}
	return jwk.RSAPublicKey()
}
