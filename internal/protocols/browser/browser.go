// Package browser carries the authorization flow's state between requests in
// the session cookie and turns flow outcomes into HTTP responses.
package browser

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/cookiesession"
	"github.com/ParleSec/defra-id-stub/internal/flow"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/views"
)

// Pages loads and saves browser state and renders outcomes
type Pages struct {
	cookies *cookiesession.Manager
	views   *views.Renderer
	logger  *zap.Logger
}

// New creates a page responder
func New(cookies *cookiesession.Manager, renderer *views.Renderer, logger *zap.Logger) *Pages {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pages{cookies: cookies, views: renderer, logger: logger}
}

// Load returns the browser state in the request cookie. A missing or
// unreadable cookie gives an empty state, so a later step that needs the
// authorization request reports it as missing.
func (p *Pages) Load(r *http.Request) *flow.BrowserState {
	state := &flow.BrowserState{}
	err := p.cookies.Load(r, state)
	switch {
	case err == nil:
	case errors.Is(err, cookiesession.ErrNoCookie):
	default:
		p.logger.Warn("Discarding unreadable session cookie",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		state = &flow.BrowserState{}
	}
	return state
}

// Respond saves state and writes outcome: a redirect, or the named view
func (p *Pages) Respond(w http.ResponseWriter, r *http.Request, state *flow.BrowserState, outcome flow.Outcome) {
	if err := p.cookies.Save(w, state); err != nil {
		p.Fail(w, r, err)
		return
	}

	if outcome.Redirect != "" {
		http.Redirect(w, r, outcome.Redirect, outcome.Status)
		return
	}

	var err error
	switch outcome.View {
	case flow.ViewSignIn:
		err = p.views.Render(w, outcome.Status, views.SignIn, views.FlowPage{
			Action:  openid.AuthResponsePath,
			Message: outcome.Message,
			CRN:     outcome.CRN,
		})
	case flow.ViewOrganisations:
		err = p.views.Render(w, outcome.Status, views.Organisations, views.FlowPage{
			Action:        openid.OrganisationPath,
			Message:       outcome.Message,
			Person:        outcome.Person,
			Organisations: outcome.Organisations,
		})
	case flow.ViewNoOrganisations:
		err = p.views.Render(w, outcome.Status, views.NoOrganisations, views.FlowPage{
			Person: outcome.Person,
		})
	default:
		err = p.views.RenderError(w, outcome.Status, outcome.Message)
	}
	if err != nil {
		p.logger.Error("Failed to render page", zap.String("view", string(outcome.View)), zap.Error(err))
	}
}

// Fail logs err and writes a 500 error page
func (p *Pages) Fail(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	if renderErr := p.views.RenderError(w, http.StatusInternalServerError, ""); renderErr != nil {
		p.logger.Error("Failed to render error page", zap.Error(renderErr))
	}
}
