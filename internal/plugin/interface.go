package plugin

import (
	"context"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/cookiesession"
	"github.com/ParleSec/defra-id-stub/internal/crypto"
	"github.com/ParleSec/defra-id-stub/internal/flow"
	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/token"
	"github.com/ParleSec/defra-id-stub/internal/views"
)

// RoutePlugin is a group of endpoints mounted on the server
type RoutePlugin interface {
	// Info returns metadata about the plugin
	Info() PluginInfo

	// Lifecycle management
	Initialize(ctx context.Context, config PluginConfig) error
	Shutdown(ctx context.Context) error

	// HTTP routing - plugin registers its own routes
	RegisterRoutes(router chi.Router)

	// Flow descriptions served at /api/flows
	GetFlowDefinitions() []FlowDefinition
}

// PluginInfo contains metadata about a plugin
type PluginInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	// BasePath mounts the routes under a prefix; empty mounts them at the root
	BasePath string   `json:"basePath,omitempty"`
	Tags     []string `json:"tags"`
}

// PluginConfig provides the shared services to plugins during initialization
type PluginConfig struct {
	Hosts        *openid.Hosts
	Keys         *crypto.KeyManager
	Tokens       *token.Service
	Machine      *flow.Machine
	Cookies      *cookiesession.Manager
	Views        *views.Renderer
	Datasets     *people.S3Store // nil when S3 is disabled
	LookingGlass *lookingglass.Engine
	Logger       *zap.Logger
}

// FlowDefinition describes a flow for the event feed viewer
type FlowDefinition struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Steps       []FlowStep `json:"steps"`
}

// FlowStep represents a single step in a flow
type FlowStep struct {
	Order       int               `json:"order"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	From        string            `json:"from"` // Actor sending
	To          string            `json:"to"`   // Actor receiving
	Type        string            `json:"type"` // "request", "response", "redirect"
	Parameters  map[string]string `json:"parameters,omitempty"`
	Events      []string          `json:"events,omitempty"` // Event types emitted by the step
}

// BasePlugin provides common functionality for plugins
type BasePlugin struct {
	info   PluginInfo
	config PluginConfig
}

// NewBasePlugin creates a new base plugin with the given info
func NewBasePlugin(info PluginInfo) *BasePlugin {
	return &BasePlugin{info: info}
}

// Info returns the plugin information
func (p *BasePlugin) Info() PluginInfo {
	return p.info
}

// SetConfig stores the plugin configuration
func (p *BasePlugin) SetConfig(config PluginConfig) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	p.config = config
}

// Config returns the plugin configuration
func (p *BasePlugin) Config() PluginConfig {
	return p.config
}

// Shutdown is a no-op for plugins without resources of their own
func (p *BasePlugin) Shutdown(ctx context.Context) error {
	return nil
}

// GetFlowDefinitions returns no flows
func (p *BasePlugin) GetFlowDefinitions() []FlowDefinition {
	return nil
}
