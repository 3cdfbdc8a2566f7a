// Package flow is the authorization state machine: authorize, sign in, pick an
// organisation, complete. Each exported transition takes the browser state,
// updates it and returns what the handler should send back.
package flow

import (
	"fmt"

	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// BrowserState is everything the stub remembers about one browser. It lives
// in the encrypted session cookie, so Person carries only who signed in;
// organisations are looked up again through the Directory.
type BrowserState struct {
	// FlowID correlates the events of one authorization flow
	FlowID         string                       `json:"flowId,omitempty"`
	AuthRequest    *models.AuthorizationRequest `json:"authRequest,omitempty"`
	Person         *people.Person               `json:"person,omitempty"`
	OrganisationID string                       `json:"organisationId,omitempty"`
	Relationships  []string                     `json:"relationships,omitempty"`
	Roles          []string                     `json:"roles,omitempty"`
	Authenticated  bool                         `json:"authenticated,omitempty"`
}

// identityOf returns the person without their organisations
func identityOf(p *people.Person) *people.Person {
	return &people.Person{CRN: p.CRN, FirstName: p.FirstName, LastName: p.LastName}
}

// Reset forgets everything, as on sign-out
func (s *BrowserState) Reset() {
	*s = BrowserState{}
}

// forgetOrganisation drops the cached organisation and the claims derived from it
func (s *BrowserState) forgetOrganisation() {
	s.OrganisationID = ""
	s.Relationships = nil
	s.Roles = nil
	s.Authenticated = false
}

// RelationshipTuple encodes a person's link to org as carried in the
// relationships claim
func RelationshipTuple(org people.Organisation) string {
	return fmt.Sprintf("%s:%d:%s:1:External:0", org.OrganisationID, org.SBI, org.Name)
}

// RoleTuple encodes the role the person holds for org
func RoleTuple(org people.Organisation) string {
	return fmt.Sprintf("%s:Agent:3", org.OrganisationID)
}

// appendUnique appends v unless list already holds it
func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
