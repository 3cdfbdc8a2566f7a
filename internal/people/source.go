package people

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// Mode selects how a CRN is matched against the fixture dataset
type Mode string

const (
	// ModeBasic signs every CRN in as the first fixture person
	ModeBasic Mode = "basic"
	// ModeMock requires the CRN to exist in the dataset
	ModeMock Mode = "mock"
)

//go:embed data.json
var fixtureJSON []byte

// OverridePattern is the accepted AUTH_OVERRIDE format
var OverridePattern = regexp.MustCompile(`^(\d{10}):([a-zA-Z\s]+):([a-zA-Z\s]+):(\d+):(\d{9}):(.+)$`)

// OverrideFilePattern is the accepted AUTH_OVERRIDE_FILE format
var OverrideFilePattern = regexp.MustCompile(`^.+\.json$`)

// Data is what a source resolves for a client
type Data struct {
	People []Person
	// UsedS3 is true when People came from the remote bucket
	UsedS3 bool
	// MatchAnyCRN makes every CRN resolve to the first person
	MatchAnyCRN bool
}

// Source resolves the people available to a client
type Source interface {
	GetData(ctx context.Context, clientID string) (Data, error)
}

// StaticSource serves a fixed list of people loaded at startup
type StaticSource struct {
	people      []Person
	matchAnyCRN bool
}

// GetData returns the fixed list
func (s *StaticSource) GetData(_ context.Context, _ string) (Data, error) {
	return Data{People: s.people, MatchAnyCRN: s.matchAnyCRN}, nil
}

// NewFixtureSource serves the embedded dataset. In basic mode any CRN signs in
// as the first person.
func NewFixtureSource(mode Mode) (*StaticSource, error) {
	ds, err := ParseDataset(fixtureJSON)
	if err != nil {
		return nil, fmt.Errorf("embedded dataset: %w", err)
	}
	return &StaticSource{people: ds.People, matchAnyCRN: mode == ModeBasic}, nil
}

// NewOverrideSource serves the single person described by an AUTH_OVERRIDE value
// of the form crn:firstName:lastName:organisationId:sbi:organisationName.
func NewOverrideSource(override string) (*StaticSource, error) {
	person, err := ParseOverride(override)
	if err != nil {
		return nil, err
	}
	return &StaticSource{people: []Person{*person}}, nil
}

// ParseOverride parses an AUTH_OVERRIDE value
func ParseOverride(override string) (*Person, error) {
	m := OverridePattern.FindStringSubmatch(override)
	if m == nil {
		return nil, errors.New(`override must be in format "crn:firstName:lastName:organisationId:sbi:organisationName" where crn is 10 digits, firstName/lastName are letters and spaces, organisationId is a number, sbi is 9 digits, and organisationName can be anything`)
	}

	crn, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid crn: %w", err)
	}
	sbi, err := strconv.ParseInt(m[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sbi: %w", err)
	}

	return &Person{
		CRN:       crn,
		FirstName: m[2],
		LastName:  m[3],
		Organisations: []Organisation{{
			OrganisationID: m[4],
			SBI:            sbi,
			Name:           m[6],
		}},
	}, nil
}

// NewFileSource serves the dataset in dataDir/name, validated against the schema
func NewFileSource(dataDir, name string) (*StaticSource, error) {
	if !OverrideFilePattern.MatchString(name) {
		return nil, errors.New(`override file must be in format "*.json"`)
	}

	path := filepath.Join(dataDir, filepath.Clean("/"+name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}

	ds, err := ParseDataset(data)
	if err != nil {
		return nil, fmt.Errorf("invalid override file data: %w", err)
	}
	return &StaticSource{people: ds.People}, nil
}

// RemoteSource prefers the newest dataset in the bucket for the client and falls
// back to a local source when there is none or it cannot be used.
type RemoteSource struct {
	remote   *S3Store
	fallback Source
}

// NewRemoteSource wraps fallback with an S3 lookup
func NewRemoteSource(remote *S3Store, fallback Source) *RemoteSource {
	return &RemoteSource{remote: remote, fallback: fallback}
}

// GetData returns the bucket's people for clientID, or the fallback data
func (s *RemoteSource) GetData(ctx context.Context, clientID string) (Data, error) {
	if clientID != "" {
		people := s.remote.LatestPeople(ctx, clientID)
		if len(people) > 0 {
			return Data{People: people, UsedS3: true}, nil
		}
	}
	return s.fallback.GetData(ctx, clientID)
}

// SourceConfig selects the source variant
type SourceConfig struct {
	Mode         Mode
	Override     string
	OverrideFile string
	DataDir      string
	// S3 enables the remote source when non-nil
	S3 *S3Store
}

// NewSource builds the configured variant. An override file takes precedence over
// an override string, which takes precedence over the fixture.
func NewSource(cfg SourceConfig, logger *zap.Logger) (Source, error) {
	var (
		local Source
		err   error
	)

	switch {
	case cfg.OverrideFile != "":
		logger.Info("Using override data file", zap.String("file", cfg.OverrideFile))
		local, err = NewFileSource(cfg.DataDir, cfg.OverrideFile)
	case cfg.Override != "":
		logger.Info("Using override person")
		local, err = NewOverrideSource(cfg.Override)
	default:
		local, err = NewFixtureSource(cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if cfg.S3 != nil {
		logger.Info("S3 datasets enabled", zap.String("bucket", cfg.S3.Bucket()))
		return NewRemoteSource(cfg.S3, local), nil
	}
	return local, nil
}
