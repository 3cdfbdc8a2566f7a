package people

import (
	"context"
)

// Selector picks one of a person's organisations, by SBI when set, otherwise by organisation id
type Selector struct {
	SBI            int64
	OrganisationID string
}

// Directory answers person and organisation lookups over whichever source is configured
type Directory struct {
	source Source
}

// NewDirectory creates a directory over source
func NewDirectory(source Source) *Directory {
	return &Directory{source: source}
}

// ValidateCredentials reports whether crn resolves to a person. The password is never checked.
func (d *Directory) ValidateCredentials(ctx context.Context, crn int64, _ string, clientID string) (bool, error) {
	person, err := d.GetPerson(ctx, crn, clientID)
	if err != nil {
		return false, err
	}
	return person != nil, nil
}

// GetPerson resolves crn, returning nil when unknown
func (d *Directory) GetPerson(ctx context.Context, crn int64, clientID string) (*Person, error) {
	data, err := d.source.GetData(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return findPerson(data, crn), nil
}

// GetOrganisations lists the organisations of crn, empty when the person is unknown
func (d *Directory) GetOrganisations(ctx context.Context, crn int64, clientID string) ([]Organisation, error) {
	person, err := d.GetPerson(ctx, crn, clientID)
	if err != nil || person == nil {
		return []Organisation{}, err
	}
	if person.Organisations == nil {
		return []Organisation{}, nil
	}
	return person.Organisations, nil
}

// GetSelectedOrganisation resolves one organisation of crn by sel, nil when none matches
func (d *Directory) GetSelectedOrganisation(ctx context.Context, crn int64, sel Selector, clientID string) (*Organisation, error) {
	person, err := d.GetPerson(ctx, crn, clientID)
	if err != nil || person == nil {
		return nil, err
	}

	for i := range person.Organisations {
		org := person.Organisations[i]
		switch {
		case sel.SBI != 0:
			if org.SBI == sel.SBI {
				return &org, nil
			}
		case sel.OrganisationID != "":
			if org.OrganisationID == sel.OrganisationID {
				return &org, nil
			}
		default:
			return nil, nil
		}
	}
	return nil, nil
}

func findPerson(data Data, crn int64) *Person {
	if data.MatchAnyCRN && !data.UsedS3 {
		if len(data.People) == 0 {
			return nil
		}
		p := data.People[0]
		return &p
	}

	for i := range data.People {
		if data.People[i].CRN == crn {
			p := data.People[i]
			return &p
		}
	}
	return nil
}
