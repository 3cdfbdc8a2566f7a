// Package lookingglass records what the stub does during a sign-in flow and
// streams it to anyone watching, so client developers can see each step.
package lookingglass

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHistory is how many events the engine keeps for late subscribers
const DefaultHistory = 200

// Event is one observable step of a flow
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	// FlowID groups the events of one browser flow (the session id once issued)
	FlowID      string                 `json:"flowId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Annotations []Annotation           `json:"annotations,omitempty"`
}

// EventType categorizes events
type EventType string

const (
	EventTypeAuthorizeReceived    EventType = "authorize.received"
	EventTypeSignInSucceeded      EventType = "signin.succeeded"
	EventTypeSignInFailed         EventType = "signin.failed"
	EventTypeOrganisationSelected EventType = "organisation.selected"
	EventTypeNoOrganisations      EventType = "organisation.none"
	EventTypeSessionCreated       EventType = "session.created"
	EventTypeTokenRedeemed        EventType = "token.redeemed"
	EventTypeTokenRefreshed       EventType = "token.refreshed"
	EventTypeTokenRejected        EventType = "token.rejected"
	EventTypeSessionEnded         EventType = "session.ended"
)

// Emitter accepts flow events
type Emitter interface {
	Emit(event Event)
}

// Discard is an Emitter that drops every event
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Engine keeps recent events and fans them out to websocket subscribers
type Engine struct {
	limit   int
	history []Event
	clients map[*Client]bool
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewEngine creates an engine keeping the last limit events
func NewEngine(limit int, logger *zap.Logger) *Engine {
	if limit <= 0 {
		limit = DefaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		limit:   limit,
		logger:  logger,
		history: make([]Event, 0, limit),
		clients: make(map[*Client]bool),
	}
}

// Emit stamps event, appends the standard annotations for its type, records it
// and broadcasts it to connected clients.
func (e *Engine) Emit(event Event) {
	event.ID = uuid.New().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Annotations = append(event.Annotations, annotationsFor(event.Type)...)

	e.mu.Lock()
	if len(e.history) == e.limit {
		copy(e.history, e.history[1:])
		e.history = e.history[:e.limit-1]
	}
	e.history = append(e.history, event)
	e.mu.Unlock()

	e.broadcast(event)
}

// History returns the recorded events, oldest first. A non-empty flowID keeps
// only that flow's events.
func (e *Engine) History(flowID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]Event, 0, len(e.history))
	for _, ev := range e.history {
		if flowID == "" || ev.FlowID == flowID {
			events = append(events, ev)
		}
	}
	return events
}

// Clear drops the recorded history
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = e.history[:0]
}

// Subscribers returns the number of connected websocket clients
func (e *Engine) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}
