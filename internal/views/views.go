// Package views renders the stub's HTML pages
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/ParleSec/defra-id-stub/internal/people"
)

//go:embed templates/*.html
var files embed.FS

// Page names
const (
	SignIn          = "sign-in"
	Organisations   = "organisations"
	NoOrganisations = "no-organisations"
	Error           = "error"
	Home            = "home"
	S3              = "s3"
)

// Renderer holds one parsed template set per page
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the embedded templates
func New() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, page := range []string{SignIn, Organisations, NoOrganisations, Error, Home, S3} {
		t, err := template.ParseFS(files, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", page, err)
		}
		r.pages[page] = t
	}
	return r, nil
}

// Render writes page with status. The page is rendered to a buffer first so a
// template error still produces a clean 500.
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data interface{}) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// ErrorPage is the data of the error page
type ErrorPage struct {
	Status  int
	Message string
}

// StatusText returns the reason phrase for Status
func (p ErrorPage) StatusText() string {
	return http.StatusText(p.Status)
}

// RenderError writes the error page
func (r *Renderer) RenderError(w http.ResponseWriter, status int, message string) error {
	return r.Render(w, status, Error, ErrorPage{Status: status, Message: message})
}

// FlowPage is the data of the sign-in and organisation pages
type FlowPage struct {
	Action        string
	Message       string
	CRN           string
	Person        *people.Person
	Organisations []people.Organisation
}

// HomePage is the data of the home page
type HomePage struct {
	Message        string
	WellKnown      string
	Issuer         string
	Mode           string
	SingleUseCodes bool
	S3Enabled      bool
}

// DatasetsPage is the data of the dataset listing
type DatasetsPage struct {
	Message  string
	Bucket   string
	Datasets []people.ClientDatasets
}
