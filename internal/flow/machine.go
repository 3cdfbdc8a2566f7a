package flow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/session"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// User-facing messages
const (
	MsgMissingAuthRequest = "Cannot retrieve original request from session cookie"
	MsgMissingPerson      = "Cannot retrieve signed in person from session cookie"
	MsgBadCredentials     = "Your CRN and/or password is incorrect"
	MsgSelectOrganisation = "Select an organisation"
)

// PromptLogin forces the sign-in form even for an authenticated browser
const PromptLogin = "login"

// Directory is the person and organisation lookup the flow depends on
type Directory interface {
	ValidateCredentials(ctx context.Context, crn int64, password, clientID string) (bool, error)
	GetPerson(ctx context.Context, crn int64, clientID string) (*people.Person, error)
	GetOrganisations(ctx context.Context, crn int64, clientID string) ([]people.Organisation, error)
	GetSelectedOrganisation(ctx context.Context, crn int64, sel people.Selector, clientID string) (*people.Organisation, error)
}

// Sessions creates the token session on completion and ends it on sign-out
type Sessions interface {
	CreateSession(ctx context.Context, person *people.Person, organisationID string, relationships, roles []string, req *models.AuthorizationRequest) (*session.Session, error)
	EndSession(ctx context.Context, accessToken string) error
}

// View names a page the handler renders
type View string

const (
	ViewSignIn          View = "sign-in"
	ViewOrganisations   View = "organisations"
	ViewNoOrganisations View = "no-organisations"
	ViewError           View = "error"
)

// Outcome is what a transition asks the handler to respond with: a redirect
// when Redirect is set, otherwise View rendered with Status.
type Outcome struct {
	Status        int
	Redirect      string
	View          View
	Message       string
	CRN           string
	Person        *people.Person
	Organisations []people.Organisation
}

func redirect(location string) Outcome {
	return Outcome{Status: http.StatusFound, Redirect: location}
}

func failure(message string) Outcome {
	return Outcome{Status: http.StatusBadRequest, View: ViewError, Message: message}
}

// Machine runs the transitions
type Machine struct {
	directory Directory
	sessions  Sessions
	events    lookingglass.Emitter
	logger    *zap.Logger
}

// NewMachine creates a state machine. A nil emitter or logger discards output.
func NewMachine(directory Directory, sessions Sessions, events lookingglass.Emitter, logger *zap.Logger) *Machine {
	if events == nil {
		events = lookingglass.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{directory: directory, sessions: sessions, events: events, logger: logger}
}

func (m *Machine) emit(state *BrowserState, t lookingglass.EventType, title string, data map[string]interface{}) {
	m.events.Emit(lookingglass.Event{Type: t, Title: title, FlowID: state.FlowID, Data: data})
}

// Authorize validates an authorize request and stores it for the sign-in step.
// Invalid requests are rejected outright since the redirect uri cannot be trusted.
func (m *Machine) Authorize(_ context.Context, state *BrowserState, query url.Values) Outcome {
	req, err := ParseAuthorizationRequest(query)
	if err != nil {
		return failure(err.Error())
	}

	state.AuthRequest = req
	state.FlowID = uuid.New().String()

	m.emit(state, lookingglass.EventTypeAuthorizeReceived, "Authorization request received", map[string]interface{}{
		"clientId":         req.ClientID,
		"serviceId":        req.ServiceID,
		"redirectUri":      req.RedirectURI,
		"scope":            req.Scope,
		"prompt":           req.Prompt,
		"relationshipId":   req.RelationshipID,
		"forceReselection": req.ForceReselection,
	})
	return redirect(openid.AuthResponsePath)
}

// ShowSignIn renders the credential form, or skips it for a browser that is
// already signed in unless the request asks for prompt=login
func (m *Machine) ShowSignIn(_ context.Context, state *BrowserState) Outcome {
	if state.AuthRequest == nil {
		return failure(MsgMissingAuthRequest)
	}
	if state.Authenticated && state.Person != nil && state.AuthRequest.Prompt != PromptLogin {
		return redirect(openid.OrganisationPath)
	}
	return Outcome{Status: http.StatusOK, View: ViewSignIn}
}

// SubmitCredentials signs the person in. Every failure gives the same message.
func (m *Machine) SubmitCredentials(ctx context.Context, state *BrowserState, rawCRN, password string) (Outcome, error) {
	if state.AuthRequest == nil {
		return failure(MsgMissingAuthRequest), nil
	}
	clientID := state.AuthRequest.ClientID

	badCredentials := func(reason string) Outcome {
		m.emit(state, lookingglass.EventTypeSignInFailed, "Sign in failed", map[string]interface{}{"reason": reason})
		return Outcome{Status: http.StatusBadRequest, View: ViewSignIn, Message: MsgBadCredentials, CRN: rawCRN}
	}

	crn, err := strconv.ParseInt(strings.TrimSpace(rawCRN), 10, 64)
	if err != nil || password == "" {
		return badCredentials("invalid input"), nil
	}

	valid, err := m.directory.ValidateCredentials(ctx, crn, password, clientID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to validate credentials: %w", err)
	}
	if !valid {
		return badCredentials("unknown crn"), nil
	}

	person, err := m.directory.GetPerson(ctx, crn, clientID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to look up person: %w", err)
	}
	if person == nil {
		return badCredentials("unknown crn"), nil
	}

	if state.Person == nil || state.Person.CRN != person.CRN {
		state.forgetOrganisation()
	}
	state.Person = identityOf(person)

	m.emit(state, lookingglass.EventTypeSignInSucceeded, "Signed in", map[string]interface{}{
		"crn":       person.CRN,
		"firstName": person.FirstName,
		"lastName":  person.LastName,
	})
	return redirect(openid.OrganisationPath), nil
}

// ResolveOrganisation picks the organisation without asking when it can: an
// explicit relationshipId first, then the cached organisation unless
// reselection is forced, then a sole organisation. Otherwise it shows the picker.
func (m *Machine) ResolveOrganisation(ctx context.Context, state *BrowserState) (Outcome, error) {
	if outcome, ok := m.requireSignedIn(state); !ok {
		return outcome, nil
	}
	req := state.AuthRequest
	person := state.Person

	if req.RelationshipID != "" {
		org, err := m.directory.GetSelectedOrganisation(ctx, person.CRN, people.Selector{OrganisationID: req.RelationshipID}, req.ClientID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to resolve relationship: %w", err)
		}
		if org != nil {
			return m.complete(ctx, state, org, "relationshipId")
		}
	}

	if state.OrganisationID != "" && !req.ForceReselection {
		org, err := m.directory.GetSelectedOrganisation(ctx, person.CRN, people.Selector{OrganisationID: state.OrganisationID}, req.ClientID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to resolve cached organisation: %w", err)
		}
		if org != nil {
			return m.complete(ctx, state, org, "cached")
		}
	}

	orgs, err := m.directory.GetOrganisations(ctx, person.CRN, req.ClientID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list organisations: %w", err)
	}

	switch len(orgs) {
	case 0:
		m.emit(state, lookingglass.EventTypeNoOrganisations, "No businesses found", map[string]interface{}{"crn": person.CRN})
		return Outcome{Status: http.StatusOK, View: ViewNoOrganisations, Person: person}, nil
	case 1:
		return m.complete(ctx, state, &orgs[0], "only organisation")
	default:
		return Outcome{Status: http.StatusOK, View: ViewOrganisations, Person: person, Organisations: orgs}, nil
	}
}

// SelectOrganisation completes the flow with the organisation chosen in the picker
func (m *Machine) SelectOrganisation(ctx context.Context, state *BrowserState, rawSBI string) (Outcome, error) {
	if outcome, ok := m.requireSignedIn(state); !ok {
		return outcome, nil
	}
	req := state.AuthRequest
	person := state.Person

	var org *people.Organisation
	if sbi, err := strconv.ParseInt(strings.TrimSpace(rawSBI), 10, 64); err == nil {
		org, err = m.directory.GetSelectedOrganisation(ctx, person.CRN, people.Selector{SBI: sbi}, req.ClientID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to resolve organisation: %w", err)
		}
	}
	if org != nil {
		return m.complete(ctx, state, org, "picker")
	}

	orgs, err := m.directory.GetOrganisations(ctx, person.CRN, req.ClientID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list organisations: %w", err)
	}
	return Outcome{
		Status:        http.StatusBadRequest,
		View:          ViewOrganisations,
		Message:       MsgSelectOrganisation,
		Person:        person,
		Organisations: orgs,
	}, nil
}

func (m *Machine) requireSignedIn(state *BrowserState) (Outcome, bool) {
	if state.AuthRequest == nil {
		return failure(MsgMissingAuthRequest), false
	}
	if state.Person == nil {
		return failure(MsgMissingPerson), false
	}
	return Outcome{}, true
}

// complete issues the session and sends the browser back to the client with the code
func (m *Machine) complete(ctx context.Context, state *BrowserState, org *people.Organisation, via string) (Outcome, error) {
	req := state.AuthRequest

	relationships := appendUnique(append([]string(nil), state.Relationships...), RelationshipTuple(*org))
	roles := appendUnique(append([]string(nil), state.Roles...), RoleTuple(*org))

	sess, err := m.sessions.CreateSession(ctx, state.Person, org.OrganisationID, relationships, roles, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create session: %w", err)
	}

	location, err := url.Parse(req.RedirectURI)
	if err != nil {
		return Outcome{}, fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := location.Query()
	q.Set("code", sess.AccessCode)
	q.Set("state", req.State)
	location.RawQuery = q.Encode()

	state.OrganisationID = org.OrganisationID
	state.Relationships = relationships
	state.Roles = roles
	state.Authenticated = true
	state.AuthRequest = nil

	m.logger.Debug("Authorization complete",
		zap.String("clientId", req.ClientID),
		zap.String("organisationId", org.OrganisationID),
		zap.String("via", via),
	)
	m.emit(state, lookingglass.EventTypeOrganisationSelected, "Organisation selected", map[string]interface{}{
		"organisationId": org.OrganisationID,
		"sbi":            org.SBI,
		"name":           org.Name,
		"via":            via,
		"sessionId":      sess.SessionID,
		"relationships":  relationships,
		"roles":          roles,
	})
	return redirect(location.String()), nil
}

// SignOut ends the session, forgets the browser state and returns to the client
func (m *Machine) SignOut(ctx context.Context, state *BrowserState, query url.Values) (Outcome, error) {
	req, err := ParseSignOutRequest(query)
	if err != nil {
		return failure(err.Error()), nil
	}

	if err := m.sessions.EndSession(ctx, req.IDTokenHint); err != nil {
		return Outcome{}, err
	}
	state.Reset()

	location, err := url.Parse(req.PostLogoutRedirectURI)
	if err != nil {
		return Outcome{}, fmt.Errorf("invalid post logout redirect uri: %w", err)
	}
	if req.State != "" {
		q := location.Query()
		q.Set("state", req.State)
		location.RawQuery = q.Encode()
	}
	return redirect(location.String()), nil
}
