package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/session"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

type fakeDirectory struct {
	people      map[int64]*people.Person
	validCalls  int
	orgListings int
}

func (d *fakeDirectory) ValidateCredentials(_ context.Context, crn int64, _ string, _ string) (bool, error) {
	d.validCalls++
	_, ok := d.people[crn]
	return ok, nil
}

func (d *fakeDirectory) GetPerson(_ context.Context, crn int64, _ string) (*people.Person, error) {
	return d.people[crn], nil
}

func (d *fakeDirectory) GetOrganisations(_ context.Context, crn int64, _ string) ([]people.Organisation, error) {
	d.orgListings++
	p := d.people[crn]
	if p == nil {
		return []people.Organisation{}, nil
	}
	return p.Organisations, nil
}

func (d *fakeDirectory) GetSelectedOrganisation(_ context.Context, crn int64, sel people.Selector, _ string) (*people.Organisation, error) {
	p := d.people[crn]
	if p == nil {
		return nil, nil
	}
	for _, org := range p.Organisations {
		if (sel.SBI != 0 && org.SBI == sel.SBI) || (sel.SBI == 0 && org.OrganisationID == sel.OrganisationID) {
			o := org
			return &o, nil
		}
	}
	return nil, nil
}

type created struct {
	person         *people.Person
	organisationID string
	relationships  []string
	roles          []string
	req            *models.AuthorizationRequest
}

type fakeSessions struct {
	created []created
	ended   []string
}

func (s *fakeSessions) CreateSession(_ context.Context, person *people.Person, organisationID string, relationships, roles []string, req *models.AuthorizationRequest) (*session.Session, error) {
	s.created = append(s.created, created{person, organisationID, relationships, roles, req})
	return &session.Session{SessionID: "sid", AccessCode: "code-123"}, nil
}

func (s *fakeSessions) EndSession(_ context.Context, accessToken string) error {
	s.ended = append(s.ended, accessToken)
	return nil
}

var (
	acme = people.Organisation{OrganisationID: "42", SBI: 111111111, Name: "Acme"}
	beta = people.Organisation{OrganisationID: "43", SBI: 222222222, Name: "Beta Farms"}
)

func newMachine() (*Machine, *fakeDirectory, *fakeSessions) {
	dir := &fakeDirectory{people: map[int64]*people.Person{
		1234567890: {CRN: 1234567890, FirstName: "John", LastName: "Doe", Organisations: []people.Organisation{acme, beta}},
		1111111111: {CRN: 1111111111, FirstName: "Sole", LastName: "Trader", Organisations: []people.Organisation{acme}},
		2222222222: {CRN: 2222222222, FirstName: "No", LastName: "Business", Organisations: []people.Organisation{}},
	}}
	sessions := &fakeSessions{}
	return NewMachine(dir, sessions, nil, nil), dir, sessions
}

func authorizeQuery(extra map[string]string) url.Values {
	q := url.Values{
		"serviceId":    {"S"},
		"client_id":    {"C"},
		"redirect_uri": {"https://cb"},
		"scope":        {"openid"},
		"state":        {"st"},
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	return q
}

func signedIn(t *testing.T, m *Machine, crn string, extra map[string]string) *BrowserState {
	t.Helper()
	state := &BrowserState{}
	out := m.Authorize(context.Background(), state, authorizeQuery(extra))
	require.Equal(t, http.StatusFound, out.Status)
	out, err := m.SubmitCredentials(context.Background(), state, crn, "x")
	require.NoError(t, err)
	require.Equal(t, openid.OrganisationPath, out.Redirect)
	return state
}

func TestScenario_AuthorizeSignInPickComplete(t *testing.T) {
	m, _, sessions := newMachine()
	ctx := context.Background()
	state := &BrowserState{}

	out := m.Authorize(ctx, state, authorizeQuery(nil))
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, openid.AuthResponsePath, out.Redirect)
	require.NotNil(t, state.AuthRequest)
	assert.NotEmpty(t, state.FlowID)

	out = m.ShowSignIn(ctx, state)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, ViewSignIn, out.View)

	out, err := m.SubmitCredentials(ctx, state, "1234567890", "x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, openid.OrganisationPath, out.Redirect)
	assert.Equal(t, "John", state.Person.FirstName)

	out, err = m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, ViewOrganisations, out.View)
	assert.Equal(t, []people.Organisation{acme, beta}, out.Organisations)

	out, err = m.SelectOrganisation(ctx, state, "111111111")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, "https://cb?code=code-123&state=st", out.Redirect)

	require.Len(t, sessions.created, 1)
	c := sessions.created[0]
	assert.Equal(t, "42", c.organisationID)
	assert.Contains(t, c.relationships, "42:111111111:Acme:1:External:0")
	assert.Contains(t, c.roles, "42:Agent:3")
	assert.Equal(t, "C", c.req.ClientID)

	assert.Nil(t, state.AuthRequest)
	assert.True(t, state.Authenticated)
	assert.Equal(t, "42", state.OrganisationID)
}

func TestAuthorize_Validation(t *testing.T) {
	m, _, _ := newMachine()

	tests := []struct {
		name  string
		query url.Values
	}{
		{name: "missing serviceId", query: func() url.Values { q := authorizeQuery(nil); q.Del("serviceId"); return q }()},
		{name: "missing client_id", query: func() url.Values { q := authorizeQuery(nil); q.Del("client_id"); return q }()},
		{name: "missing scope", query: func() url.Values { q := authorizeQuery(nil); q.Del("scope"); return q }()},
		{name: "relative redirect_uri", query: authorizeQuery(map[string]string{"redirect_uri": "/callback"})},
		{name: "bad forceReselection", query: authorizeQuery(map[string]string{"forceReselection": "maybe"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BrowserState{}
			out := m.Authorize(context.Background(), state, tt.query)
			assert.Equal(t, http.StatusBadRequest, out.Status)
			assert.Empty(t, out.Redirect)
			assert.Nil(t, state.AuthRequest)
		})
	}
}

func TestAuthorize_ParsesOptionalParameters(t *testing.T) {
	req, err := ParseAuthorizationRequest(authorizeQuery(map[string]string{
		"nonce":            "n",
		"prompt":           "login",
		"relationshipId":   "43",
		"forceReselection": "true",
		"response_mode":    "query",
		"response_type":    "code",
		"p":                "B2C_1A_SIGNIN",
	}))
	require.NoError(t, err)
	assert.Equal(t, &models.AuthorizationRequest{
		ServiceID:        "S",
		ClientID:         "C",
		RedirectURI:      "https://cb",
		Scope:            "openid",
		State:            "st",
		Nonce:            "n",
		ResponseMode:     "query",
		ResponseType:     "code",
		RelationshipID:   "43",
		Prompt:           "login",
		ForceReselection: true,
		P:                "B2C_1A_SIGNIN",
	}, req)
}

func TestShowSignIn_MissingAuthRequest(t *testing.T) {
	m, _, _ := newMachine()
	out := m.ShowSignIn(context.Background(), &BrowserState{})
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, MsgMissingAuthRequest, out.Message)

	out, err := m.SubmitCredentials(context.Background(), &BrowserState{}, "1234567890", "x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, MsgMissingAuthRequest, out.Message)
	assert.Equal(t, ViewError, out.View)
}

func TestShowSignIn_SilentReauth(t *testing.T) {
	m, _, _ := newMachine()
	ctx := context.Background()
	state := signedIn(t, m, "1111111111", nil)
	_, err := m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	require.True(t, state.Authenticated)

	m.Authorize(ctx, state, authorizeQuery(nil))
	out := m.ShowSignIn(ctx, state)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, openid.OrganisationPath, out.Redirect)

	m.Authorize(ctx, state, authorizeQuery(map[string]string{"prompt": "login"}))
	out = m.ShowSignIn(ctx, state)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, ViewSignIn, out.View)
}

func TestSubmitCredentials_Failures(t *testing.T) {
	m, dir, _ := newMachine()
	ctx := context.Background()

	tests := []struct {
		name          string
		crn, password string
		wantLookup    bool
	}{
		{name: "non numeric crn", crn: "abc", password: "x"},
		{name: "empty password", crn: "1234567890", password: ""},
		{name: "unknown crn", crn: "9999999999", password: "x", wantLookup: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir.validCalls = 0
			state := &BrowserState{}
			m.Authorize(ctx, state, authorizeQuery(nil))

			out, err := m.SubmitCredentials(ctx, state, tt.crn, tt.password)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, out.Status)
			assert.Equal(t, ViewSignIn, out.View)
			assert.Equal(t, MsgBadCredentials, out.Message)
			assert.Equal(t, tt.crn, out.CRN)
			assert.Nil(t, state.Person)
			assert.Equal(t, tt.wantLookup, dir.validCalls > 0)
		})
	}
}

func TestResolveOrganisation_SingleOrganisationSkipsPicker(t *testing.T) {
	m, _, sessions := newMachine()
	state := signedIn(t, m, "1111111111", nil)

	out, err := m.ResolveOrganisation(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, "https://cb?code=code-123&state=st", out.Redirect)
	require.Len(t, sessions.created, 1)
	assert.Equal(t, "42", sessions.created[0].organisationID)
}

func TestResolveOrganisation_NoOrganisations(t *testing.T) {
	m, _, sessions := newMachine()
	state := signedIn(t, m, "2222222222", nil)

	out, err := m.ResolveOrganisation(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, ViewNoOrganisations, out.View)
	assert.Empty(t, sessions.created)
	assert.False(t, state.Authenticated)
}

func TestResolveOrganisation_RelationshipIDBeatsCacheAndReselection(t *testing.T) {
	m, dir, sessions := newMachine()
	ctx := context.Background()
	state := signedIn(t, m, "1234567890", nil)
	_, err := m.SelectOrganisation(ctx, state, "111111111")
	require.NoError(t, err)
	require.Equal(t, "42", state.OrganisationID)

	m.Authorize(ctx, state, authorizeQuery(map[string]string{"relationshipId": "43", "forceReselection": "true"}))
	listings := dir.orgListings

	out, err := m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, listings, dir.orgListings)
	assert.Equal(t, "43", sessions.created[len(sessions.created)-1].organisationID)
	assert.Equal(t, "43", state.OrganisationID)
}

func TestResolveOrganisation_CachedOrganisation(t *testing.T) {
	m, _, sessions := newMachine()
	ctx := context.Background()
	state := signedIn(t, m, "1234567890", nil)
	_, err := m.SelectOrganisation(ctx, state, "222222222")
	require.NoError(t, err)

	m.Authorize(ctx, state, authorizeQuery(nil))
	out, err := m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, "43", sessions.created[len(sessions.created)-1].organisationID)

	m.Authorize(ctx, state, authorizeQuery(map[string]string{"forceReselection": "true"}))
	out, err = m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, ViewOrganisations, out.View)
}

func TestResolveOrganisation_UnknownRelationshipFallsThrough(t *testing.T) {
	m, _, _ := newMachine()
	state := signedIn(t, m, "1234567890", map[string]string{"relationshipId": "999"})

	out, err := m.ResolveOrganisation(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, ViewOrganisations, out.View)
}

func TestResolveOrganisation_RequiresSignIn(t *testing.T) {
	m, _, _ := newMachine()
	state := &BrowserState{}
	m.Authorize(context.Background(), state, authorizeQuery(nil))

	out, err := m.ResolveOrganisation(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, MsgMissingPerson, out.Message)

	out, err = m.ResolveOrganisation(context.Background(), &BrowserState{})
	require.NoError(t, err)
	assert.Equal(t, MsgMissingAuthRequest, out.Message)
}

func TestSelectOrganisation_RequiresSelection(t *testing.T) {
	m, _, sessions := newMachine()
	state := signedIn(t, m, "1234567890", nil)

	for _, raw := range []string{"", "abc", "333333333"} {
		out, err := m.SelectOrganisation(context.Background(), state, raw)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, out.Status)
		assert.Equal(t, ViewOrganisations, out.View)
		assert.Equal(t, MsgSelectOrganisation, out.Message)
		assert.Len(t, out.Organisations, 2)
	}
	assert.Empty(t, sessions.created)
	assert.NotNil(t, state.AuthRequest)
}

func TestComplete_DeduplicatesTuples(t *testing.T) {
	m, _, sessions := newMachine()
	ctx := context.Background()
	state := signedIn(t, m, "1234567890", nil)

	_, err := m.SelectOrganisation(ctx, state, "111111111")
	require.NoError(t, err)
	m.Authorize(ctx, state, authorizeQuery(map[string]string{"forceReselection": "true"}))
	_, err = m.SelectOrganisation(ctx, state, "222222222")
	require.NoError(t, err)
	m.Authorize(ctx, state, authorizeQuery(map[string]string{"forceReselection": "true"}))
	_, err = m.SelectOrganisation(ctx, state, "111111111")
	require.NoError(t, err)

	last := sessions.created[len(sessions.created)-1]
	assert.Equal(t, []string{"42:111111111:Acme:1:External:0", "43:222222222:Beta Farms:1:External:0"}, last.relationships)
	assert.Equal(t, []string{"42:Agent:3", "43:Agent:3"}, last.roles)
	assert.Equal(t, last.relationships, state.Relationships)
}

func TestSubmitCredentials_DifferentPersonForgetsOrganisation(t *testing.T) {
	m, _, _ := newMachine()
	ctx := context.Background()
	state := signedIn(t, m, "1234567890", nil)
	_, err := m.SelectOrganisation(ctx, state, "222222222")
	require.NoError(t, err)

	m.Authorize(ctx, state, authorizeQuery(map[string]string{"prompt": "login"}))
	_, err = m.SubmitCredentials(ctx, state, "1111111111", "x")
	require.NoError(t, err)

	assert.Empty(t, state.OrganisationID)
	assert.Empty(t, state.Relationships)
	assert.False(t, state.Authenticated)
}

func TestSignOut(t *testing.T) {
	m, _, sessions := newMachine()
	ctx := context.Background()

	state := &BrowserState{Authenticated: true, OrganisationID: "42"}
	out, err := m.SignOut(ctx, state, url.Values{
		"post_logout_redirect_uri": {"https://cb2"},
		"id_token_hint":            {"token"},
		"state":                    {"abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, out.Status)
	assert.Equal(t, "https://cb2?state=abc", out.Redirect)
	assert.Equal(t, []string{"token"}, sessions.ended)
	assert.Equal(t, BrowserState{}, *state)

	out, err = m.SignOut(ctx, &BrowserState{}, url.Values{
		"post_logout_redirect_uri": {"https://cb2"},
		"id_token_hint":            {"token"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cb2", out.Redirect)

	out, err = m.SignOut(ctx, &BrowserState{}, url.Values{"post_logout_redirect_uri": {"https://cb2"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Len(t, sessions.ended, 2)
}

func TestParseTokenRequest(t *testing.T) {
	base := func(extra map[string]string) url.Values {
		v := url.Values{
			"redirect_uri":  {"https://cb"},
			"client_id":     {"C"},
			"client_secret": {"secret"},
		}
		for k, val := range extra {
			v.Set(k, val)
		}
		return v
	}

	tests := []struct {
		name    string
		values  url.Values
		wantErr bool
	}{
		{name: "authorization code", values: base(map[string]string{"grant_type": "authorization_code", "code": "c"})},
		{name: "refresh", values: base(map[string]string{"grant_type": "refresh_token", "refresh_token": "r"})},
		{name: "code missing", values: base(map[string]string{"grant_type": "authorization_code"}), wantErr: true},
		{name: "refresh token missing", values: base(map[string]string{"grant_type": "refresh_token", "code": "c"}), wantErr: true},
		{name: "unsupported grant", values: base(map[string]string{"grant_type": "password"}), wantErr: true},
		{name: "missing grant", values: base(nil), wantErr: true},
		{name: "missing secret", values: url.Values{"grant_type": {"authorization_code"}, "code": {"c"}, "redirect_uri": {"https://cb"}, "client_id": {"C"}}, wantErr: true},
		{name: "invalid redirect", values: base(map[string]string{"grant_type": "authorization_code", "code": "c", "redirect_uri": "nope"}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseTokenRequest(tt.values)
			if tt.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "C", req.ClientID)
		})
	}
}

func TestTuples(t *testing.T) {
	assert.Equal(t, "42:111111111:Acme:1:External:0", RelationshipTuple(acme))
	assert.Equal(t, "42:Agent:3", RoleTuple(acme))
	assert.Equal(t, []string{"a", "b"}, appendUnique([]string{"a", "b"}, "a"))
	assert.Equal(t, []string{"a", "b"}, appendUnique([]string{"a"}, "b"))
}

func TestSubmitCredentials_StateKeepsOnlyIdentity(t *testing.T) {
	m, dir, _ := newMachine()
	ctx := context.Background()

	orgs := make([]people.Organisation, 0, 200)
	for i := 0; i < 200; i++ {
		orgs = append(orgs, people.Organisation{
			OrganisationID: fmt.Sprintf("%d", 5000000+i),
			SBI:            int64(100000000 + i),
			Name:           fmt.Sprintf("Holding number %d Farming Partnership", i),
		})
	}
	dir.people[3333333333] = &people.Person{CRN: 3333333333, FirstName: "Big", LastName: "Estate", Organisations: orgs}

	state := signedIn(t, m, "3333333333", nil)
	require.NotNil(t, state.Person)
	assert.Equal(t, int64(3333333333), state.Person.CRN)
	assert.Equal(t, "Big", state.Person.FirstName)
	assert.Equal(t, "Estate", state.Person.LastName)
	assert.Empty(t, state.Person.Organisations)

	raw, err := json.Marshal(state)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Farming Partnership")
	assert.Less(t, len(raw), 1024)

	// The picker still lists every organisation from the directory
	out, err := m.ResolveOrganisation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, ViewOrganisations, out.View)
	assert.Len(t, out.Organisations, 200)

	// The directory entry is untouched
	assert.Len(t, dir.people[3333333333].Organisations, 200)
}
