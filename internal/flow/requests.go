package flow

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ParleSec/defra-id-stub/internal/token"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// ValidationError lists the request parameters that failed validation
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ". ")
}

type validator struct {
	values   url.Values
	problems []string
}

func (v *validator) required(name string) string {
	value := v.values.Get(name)
	if value == "" {
		v.problems = append(v.problems, fmt.Sprintf("%q is required", name))
	}
	return value
}

func (v *validator) requiredURI(name string) string {
	value := v.required(name)
	if value != "" && !isAbsoluteURI(value) {
		v.problems = append(v.problems, fmt.Sprintf("%q must be a valid uri", name))
	}
	return value
}

func (v *validator) optionalBool(name string) bool {
	raw := v.values.Get(name)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		v.problems = append(v.problems, fmt.Sprintf("%q must be a boolean", name))
	}
	return b
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

func isAbsoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

// ParseAuthorizationRequest validates the query of an authorize request
func ParseAuthorizationRequest(values url.Values) (*models.AuthorizationRequest, error) {
	v := &validator{values: values}
	req := &models.AuthorizationRequest{
		ServiceID:        v.required("serviceId"),
		ClientID:         v.required("client_id"),
		RedirectURI:      v.requiredURI("redirect_uri"),
		Scope:            v.required("scope"),
		State:            values.Get("state"),
		Nonce:            values.Get("nonce"),
		ResponseMode:     values.Get("response_mode"),
		ResponseType:     values.Get("response_type"),
		RelationshipID:   values.Get("relationshipId"),
		Prompt:           values.Get("prompt"),
		ForceReselection: v.optionalBool("forceReselection"),
		P:                values.Get("p"),
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	return req, nil
}

// TokenRequest is a validated token endpoint request
type TokenRequest struct {
	GrantType    token.GrantType
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	Scope        string
	RefreshToken string
}

// ParseTokenRequest validates token endpoint parameters. Callers merge the
// query string and form body before calling.
func ParseTokenRequest(values url.Values) (*TokenRequest, error) {
	v := &validator{values: values}
	req := &TokenRequest{
		GrantType:    token.GrantType(v.required("grant_type")),
		RedirectURI:  v.requiredURI("redirect_uri"),
		ClientID:     v.required("client_id"),
		ClientSecret: v.required("client_secret"),
		Scope:        values.Get("scope"),
	}

	switch req.GrantType {
	case token.GrantAuthorizationCode:
		req.Code = v.required("code")
		req.RefreshToken = values.Get("refresh_token")
	case token.GrantRefreshToken:
		req.RefreshToken = v.required("refresh_token")
		req.Code = values.Get("code")
	case "":
	default:
		v.problems = append(v.problems, `"grant_type" must be one of [authorization_code, refresh_token]`)
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return req, nil
}

// SignOutRequest is a validated sign-out request
type SignOutRequest struct {
	PostLogoutRedirectURI string
	IDTokenHint           string
	State                 string
}

// ParseSignOutRequest validates the query of a sign-out request
func ParseSignOutRequest(values url.Values) (*SignOutRequest, error) {
	v := &validator{values: values}
	req := &SignOutRequest{
		PostLogoutRedirectURI: v.requiredURI("post_logout_redirect_uri"),
		IDTokenHint:           v.required("id_token_hint"),
		State:                 values.Get("state"),
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	return req, nil
}
