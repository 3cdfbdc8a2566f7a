package lookingglass

// Annotation explains an event to the developer watching the feed
type Annotation struct {
	Type        AnnotationType `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity,omitempty"` // info, warning
	Reference   string         `json:"reference,omitempty"`
}

// AnnotationType categorizes annotations
type AnnotationType string

const (
	AnnotationTypeExplanation  AnnotationType = "explanation"
	AnnotationTypeSecurityHint AnnotationType = "security_hint"
	AnnotationTypeStubBehavior AnnotationType = "stub_behavior"
)

var defaultAnnotations = map[EventType][]Annotation{
	EventTypeAuthorizeReceived: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Authorization Request",
			Description: "The request is held in the encrypted session cookie until an organisation is chosen.",
			Reference:   "RFC 6749 Section 4.1.1",
		},
	},
	EventTypeSignInSucceeded: {
		{
			Type:        AnnotationTypeStubBehavior,
			Title:       "Credentials Not Verified",
			Description: "Any password is accepted for a CRN that resolves to a person in the active dataset.",
			Severity:    "info",
		},
	},
	EventTypeOrganisationSelected: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Relationships and Roles",
			Description: "The organisation is added to the relationships and roles claims as {organisationId}:{sbi}:{name}:1:External:0 and {organisationId}:Agent:3.",
		},
	},
	EventTypeSessionCreated: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Session Lifetime",
			Description: "The authorization code and refresh token resolve for one hour. The access token itself expires after 24 hours.",
		},
	},
	EventTypeTokenRedeemed: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "ID Token",
			Description: "The id_token is the same signed JWT as the access_token.",
		},
	},
	EventTypeTokenRefreshed: {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Refresh Token Rotation",
			Description: "A new refresh token replaces the old one. Identity claims are carried forward and only iat, nbf and exp change.",
			Reference:   "RFC 6749 Section 6",
		},
	},
}

// ReusableCodeAnnotation is attached when an authorization code can be redeemed
// more than once
var ReusableCodeAnnotation = Annotation{
	Type:        AnnotationTypeSecurityHint,
	Title:       "Reusable Authorization Code",
	Description: "Codes are not invalidated on redemption. Set AUTH_SINGLE_USE_CODES=true to reject replays.",
	Severity:    "warning",
	Reference:   "RFC 6749 Section 4.1.2",
}

func annotationsFor(t EventType) []Annotation {
	return defaultAnnotations[t]
}
