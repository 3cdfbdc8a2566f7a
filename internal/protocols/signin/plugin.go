// Package signin serves the pages a person sees between the authorize
// redirect and the return to the relying party.
package signin

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/browser"
)

// Plugin serves the sign-in and organisation pages
type Plugin struct {
	*plugin.BasePlugin
	pages *browser.Pages
}

// NewPlugin creates the sign-in plugin
func NewPlugin() *Plugin {
	return &Plugin{
		BasePlugin: plugin.NewBasePlugin(plugin.PluginInfo{
			ID:          "signin",
			Name:        "Sign in",
			Version:     "1.0.0",
			Description: "Credential form and organisation picker",
			Tags:        []string{"pages", "organisations"},
		}),
	}
}

// Initialize initializes the plugin
func (p *Plugin) Initialize(ctx context.Context, config plugin.PluginConfig) error {
	if config.Machine == nil || config.Cookies == nil || config.Views == nil {
		return errors.New("machine, cookies and views are required")
	}
	p.SetConfig(config)
	p.pages = browser.New(config.Cookies, config.Views, p.Config().Logger)
	return nil
}

// RegisterRoutes registers the plugin's HTTP routes
func (p *Plugin) RegisterRoutes(router chi.Router) {
	router.Get(openid.AuthResponsePath, p.handleSignIn)
	router.Post(openid.AuthResponsePath, p.handleSignInSubmit)
	router.Get(openid.OrganisationPath, p.handleOrganisations)
	router.Post(openid.OrganisationPath, p.handleOrganisationSubmit)
}

func (p *Plugin) handleSignIn(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	outcome := p.Config().Machine.ShowSignIn(r.Context(), state)
	p.pages.Respond(w, r, state, outcome)
}

func (p *Plugin) handleSignInSubmit(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	if err := r.ParseForm(); err != nil {
		p.pages.Fail(w, r, err)
		return
	}

	outcome, err := p.Config().Machine.SubmitCredentials(r.Context(), state, r.PostFormValue("crn"), r.PostFormValue("password"))
	if err != nil {
		p.pages.Fail(w, r, err)
		return
	}
	p.pages.Respond(w, r, state, outcome)
}

func (p *Plugin) handleOrganisations(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	outcome, err := p.Config().Machine.ResolveOrganisation(r.Context(), state)
	if err != nil {
		p.pages.Fail(w, r, err)
		return
	}
	p.pages.Respond(w, r, state, outcome)
}

func (p *Plugin) handleOrganisationSubmit(w http.ResponseWriter, r *http.Request) {
	state := p.pages.Load(r)
	if err := r.ParseForm(); err != nil {
		p.pages.Fail(w, r, err)
		return
	}

	outcome, err := p.Config().Machine.SelectOrganisation(r.Context(), state, r.PostFormValue("sbi"))
	if err != nil {
		p.pages.Fail(w, r, err)
		return
	}
	p.pages.Respond(w, r, state, outcome)
}
