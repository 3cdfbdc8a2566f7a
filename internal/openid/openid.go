// Package openid resolves the browser-facing and API-facing hosts of the stub
// and builds the discovery document clients configure themselves from.
package openid

import (
	"fmt"
	"strings"

	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// Paths served by the stub. They mirror the emulated Azure B2C tenant so that
// clients can switch between the stub and the real provider by host alone.
const (
	TenantID = "131a35fb-0422-49c9-8753-15217cec5411"

	WellKnownPath    = "/idphub/b2c/b2c_1a_cui_cpdev_signupsigninsfi/.well-known/openid-configuration"
	AuthorizePath    = "/dcidmtest.onmicrosoft.com/b2c_1a_cui_cpdev_signupsigninsfi/oauth2/v2.0/authorize"
	TokenPath        = "/dcidmtest.onmicrosoft.com/b2c_1a_cui_cpdev_signupsigninsfi/oauth2/v2.0/token"
	SignOutPath      = "/idphub/b2c/b2c_1a_cui_cpdev_signupsigninsfi/signout"
	KeysPath         = "/dcidmtest.onmicrosoft.com/b2c_1a_cui_cpdev_signupsigninsfi/discovery/v2.0/keys"
	AuthResponsePath = "/dcidmtest.onmicrosoft.com/oauth2/authresp"
	OrganisationPath = "/organisations"
)

// HostConfig holds the settings host resolution depends on
type HostConfig struct {
	Environment string
	Port        int
	// WellKnownHost overrides the browser-facing host
	WellKnownHost string
	// WellKnownAPIHost overrides the host used for server-to-server calls
	WellKnownAPIHost string
}

// Hosts resolves the stub's public hosts
type Hosts struct {
	cfg HostConfig
}

// NewHosts creates a resolver for cfg
func NewHosts(cfg HostConfig) *Hosts {
	return &Hosts{cfg: cfg}
}

// Host is the browser-facing host, without a trailing slash
func (h *Hosts) Host() string {
	if h.cfg.WellKnownHost != "" {
		return strings.TrimSuffix(h.cfg.WellKnownHost, "/")
	}
	if h.cfg.Environment == "local" {
		return fmt.Sprintf("http://localhost:%d", h.cfg.Port)
	}
	return fmt.Sprintf("https://fcp-defra-id-stub.%s.cdp-int.defra.cloud", h.cfg.Environment)
}

// APIHost is the host clients reach the token and keys endpoints on. A loopback
// browser host is swapped for the Docker host gateway so containerised clients
// can call back into the stub.
func (h *Hosts) APIHost() string {
	if h.cfg.WellKnownAPIHost != "" {
		return strings.TrimSuffix(h.cfg.WellKnownAPIHost, "/")
	}
	host := h.Host()
	if strings.Contains(host, "localhost") {
		return strings.Replace(host, "localhost", "host.docker.internal", 1)
	}
	return host
}

// Issuer is the iss value of every token
func (h *Hosts) Issuer() string {
	return fmt.Sprintf("%s/%s/v2.0/", h.APIHost(), TenantID)
}

// DiscoveryDocument builds the openid-configuration document
func (h *Hosts) DiscoveryDocument() models.DiscoveryDocument {
	host := h.Host()
	apiHost := h.APIHost()

	return models.DiscoveryDocument{
		Issuer:                h.Issuer(),
		AuthorizationEndpoint: host + AuthorizePath,
		TokenEndpoint:         apiHost + TokenPath,
		EndSessionEndpoint:    host + SignOutPath,
		JwksURI:               apiHost + KeysPath,
		ResponseModesSupported: []string{
			"query",
			"fragment",
			"form_post",
		},
		ResponseTypesSupported: []string{
			"code",
			"code id_token",
			"code token",
			"code id_token token",
			"id_token",
			"id_token token",
			"token",
			"token id_token",
		},
		ScopesSupported:                  []string{"openid"},
		SubjectTypesSupported:            []string{"pairwise"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post",
			"client_secret_basic",
		},
		ClaimsSupported: []string{
			"sub",
			"contactId",
			"email",
			"firstName",
			"lastName",
			"serviceId",
			"correlationId",
			"sessionId",
			"uniqueReference",
			"loa",
			"aal",
			"enrolmentCount",
			"enrolmentRequestCount",
			"currentRelationshipId",
			"relationships",
			"roles",
			"amr",
			"iss",
			"iat",
			"exp",
			"aud",
			"acr",
			"nonce",
			"auth_time",
		},
	}
}
