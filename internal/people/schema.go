// Package people supplies the mock identities the stub signs in as: the data
// source variants, their validation and the person/organisation lookups.
package people

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalidDataset is returned when a dataset does not match the people schema
	ErrInvalidDataset = errors.New("invalid people dataset")
	// ErrNotFound is returned when a requested dataset file does not exist
	ErrNotFound = errors.New("dataset not found")
)

// Organisation is a business a person can act for
type Organisation struct {
	OrganisationID string `json:"organisationId"`
	SBI            int64  `json:"sbi"`
	Name           string `json:"name"`
}

// Person is a customer identified by CRN
type Person struct {
	CRN           int64          `json:"crn"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Organisations []Organisation `json:"organisations"`
}

// Dataset is the document format shared by the fixture, override files and S3 objects
type Dataset struct {
	People []Person `json:"people"`
}

const datasetSchema = `{
  "type": "object",
  "required": ["people"],
  "properties": {
    "people": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["crn", "firstName", "lastName", "organisations"],
        "properties": {
          "crn": { "type": "integer" },
          "firstName": { "type": "string", "minLength": 1 },
          "lastName": { "type": "string", "minLength": 1 },
          "organisations": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["organisationId", "sbi", "name"],
              "properties": {
                "organisationId": { "type": "string", "minLength": 1 },
                "sbi": { "type": "integer" },
                "name": { "type": "string", "minLength": 1 }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(datasetSchema))
	if err != nil {
		panic(fmt.Sprintf("people: invalid dataset schema: %v", err))
	}
	return schema
}

// ParseDataset validates raw JSON against the people schema and decodes it.
// Every schema violation is reported in the error.
func ParseDataset(data []byte) (*Dataset, error) {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDataset, strings.Join(msgs, "; "))
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return &ds, nil
}
