package oidc

import (
	"context"
	"errors"

	"github.com/go-chi/chi/v5"

	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/browser"
)

// Plugin serves the endpoints a relying party is configured with
type Plugin struct {
	*plugin.BasePlugin
	pages *browser.Pages
}

// NewPlugin creates the OpenID Connect plugin
func NewPlugin() *Plugin {
	return &Plugin{
		BasePlugin: plugin.NewBasePlugin(plugin.PluginInfo{
			ID:          "openid",
			Name:        "OpenID Connect",
			Version:     "1.0.0",
			Description: "Discovery, authorize, token, sign-out and key endpoints of the Defra ID B2C tenant",
			Tags:        []string{"oauth2", "oidc", "discovery", "jwks"},
		}),
	}
}

// Initialize initializes the plugin
func (p *Plugin) Initialize(ctx context.Context, config plugin.PluginConfig) error {
	if config.Hosts == nil || config.Keys == nil || config.Tokens == nil || config.Machine == nil {
		return errors.New("hosts, keys, tokens and machine are required")
	}
	if config.Cookies == nil || config.Views == nil {
		return errors.New("cookies and views are required")
	}
	p.SetConfig(config)
	p.pages = browser.New(config.Cookies, config.Views, p.Config().Logger)
	return nil
}

// RegisterRoutes registers the plugin's HTTP routes
func (p *Plugin) RegisterRoutes(router chi.Router) {
	router.Get(openid.WellKnownPath, p.handleWellKnown)
	router.Get(openid.AuthorizePath, p.handleAuthorize)
	router.Post(openid.TokenPath, p.handleToken)
	router.Get(openid.SignOutPath, p.handleSignOut)
	router.Get(openid.KeysPath, p.handleKeys)
}

// GetFlowDefinitions returns the authorization code flow as the stub runs it
func (p *Plugin) GetFlowDefinitions() []plugin.FlowDefinition {
	return []plugin.FlowDefinition{
		{
			ID:          "authorization-code",
			Name:        "Authorization code",
			Description: "Sign in, pick an organisation and redeem the code for tokens",
			Steps: []plugin.FlowStep{
				{
					Order: 1, Name: "Authorization request", From: "Relying party", To: "Stub", Type: "request",
					Description: "The browser is sent to the authorize endpoint and the request is kept in the session cookie",
					Parameters: map[string]string{
						"serviceId":    "Required",
						"client_id":    "Required",
						"redirect_uri": "Required absolute URI",
						"scope":        "Required",
					},
					Events: []string{string(lookingglass.EventTypeAuthorizeReceived)},
				},
				{
					Order: 2, Name: "Sign in", From: "Browser", To: "Stub", Type: "request",
					Description: "Any password is accepted for a CRN the data source knows",
					Parameters:  map[string]string{"crn": "Customer reference number", "password": "Any value"},
					Events:      []string{string(lookingglass.EventTypeSignInSucceeded), string(lookingglass.EventTypeSignInFailed)},
				},
				{
					Order: 3, Name: "Organisation selection", From: "Browser", To: "Stub", Type: "request",
					Description: "relationshipId, a remembered organisation or a sole organisation skip the picker",
					Parameters:  map[string]string{"sbi": "Single business identifier"},
					Events:      []string{string(lookingglass.EventTypeOrganisationSelected), string(lookingglass.EventTypeNoOrganisations), string(lookingglass.EventTypeSessionCreated)},
				},
				{
					Order: 4, Name: "Authorization response", From: "Stub", To: "Relying party", Type: "redirect",
					Description: "The browser returns to redirect_uri with code and state",
					Parameters:  map[string]string{"code": "Authorization code", "state": "Echoed state"},
				},
				{
					Order: 5, Name: "Token request", From: "Relying party", To: "Stub", Type: "request",
					Description: "The code is exchanged for the access, ID and refresh tokens",
					Parameters: map[string]string{
						"grant_type":    "authorization_code",
						"code":          "Authorization code",
						"client_id":     "Required",
						"client_secret": "Required, not checked",
						"redirect_uri":  "Required absolute URI",
					},
					Events: []string{string(lookingglass.EventTypeTokenRedeemed), string(lookingglass.EventTypeTokenRejected)},
				},
			},
		},
		{
			ID:          "refresh",
			Name:        "Refresh",
			Description: "Exchange a refresh token for new tokens with the same identity claims",
			Steps: []plugin.FlowStep{
				{
					Order: 1, Name: "Token request", From: "Relying party", To: "Stub", Type: "request",
					Description: "The refresh token is rotated and the access token re-signed with new timing claims",
					Parameters:  map[string]string{"grant_type": "refresh_token", "refresh_token": "Current refresh token"},
					Events:      []string{string(lookingglass.EventTypeTokenRefreshed), string(lookingglass.EventTypeTokenRejected)},
				},
			},
		},
		{
			ID:          "sign-out",
			Name:        "Sign out",
			Description: "End the session and forget the browser",
			Steps: []plugin.FlowStep{
				{
					Order: 1, Name: "Sign-out request", From: "Browser", To: "Stub", Type: "request",
					Parameters: map[string]string{"post_logout_redirect_uri": "Required absolute URI", "id_token_hint": "Access token of the session", "state": "Optional"},
					Events:     []string{string(lookingglass.EventTypeSessionEnded)},
				},
			},
		},
	}
}
