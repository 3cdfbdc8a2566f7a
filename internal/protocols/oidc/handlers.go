package oidc

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/flow"
	"github.com/ParleSec/defra-id-stub/internal/token"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// Token endpoint rejection messages
const (
	MsgInvalidCode         = "Invalid authorization code"
	MsgInvalidRefreshToken = "Invalid refresh token"
)

func (p *Plugin) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.Config().Hosts.DiscoveryDocument())
}

func (p *Plugin) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	outcome := p.Config().Machine.Authorize(r.Context(), state, r.URL.Query())
	p.pages.Respond(w, r, state, outcome)
}

func (p *Plugin) handleToken(w http.ResponseWriter, r *http.Request) {
	values, err := tokenParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := flow.ParseTokenRequest(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := p.Config().Tokens.Redeem(r.Context(), req.Code, req.GrantType, req.RefreshToken)
	if errors.Is(err, token.ErrUnsupportedGrant) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		p.Config().Logger.Error("Token request failed", zap.String("grantType", string(req.GrantType)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}
	if tokens == nil {
		message := MsgInvalidCode
		if req.GrantType == token.GrantRefreshToken {
			message = MsgInvalidRefreshToken
		}
		writeError(w, http.StatusUnauthorized, message)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (p *Plugin) handleSignOut(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	outcome, err := p.Config().Machine.SignOut(r.Context(), state, r.URL.Query())
	if err != nil {
		p.pages.Fail(w, r, err)
		return
	}
	p.pages.Respond(w, r, state, outcome)
}

func (p *Plugin) handleKeys(w http.ResponseWriter, r *http.Request) {
	jwks, err := p.Config().Keys.PublicJWKS()
	if err != nil {
		p.Config().Logger.Error("Failed to build JWKS", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

// tokenParams merges the query string with the request body. Body values win.
// The body may be form encoded or a JSON object of strings.
func tokenParams(r *http.Request) (url.Values, error) {
	values := url.Values{}
	for k, v := range r.URL.Query() {
		values[k] = v
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errors.New("invalid request payload JSON format")
		}
		for k, v := range body {
			values.Set(k, v)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid request payload")
		}
		for k, v := range r.PostForm {
			values[k] = v
		}
	}
	return values, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}
