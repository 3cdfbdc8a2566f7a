package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/views"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// Server is the main HTTP server of the stub
type Server struct {
	config   *Config
	registry *plugin.Registry
	services plugin.PluginConfig
	logger   *zap.Logger
	router   chi.Router
}

// NewServer creates a new server instance
func NewServer(cfg *Config, registry *plugin.Registry, services plugin.PluginConfig) *Server {
	logger := services.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		registry: registry,
		services: services,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(Recovery(s.logger))
	r.Use(RequestLogger(s.logger))

	// Limit on the connection's peer address, before RealIP trusts forwarding headers
	if s.config.RateLimitPerMinute > 0 {
		rateLimiter := NewRateLimiter(s.config.RateLimitPerMinute, time.Minute)
		r.Use(rateLimiter.Limit)
	}

	r.Use(middleware.RealIP)
	r.Use(SecurityHeaders)
	r.Use(middleware.Timeout(60 * time.Second))

	if origins := s.config.CORSOriginList(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/plugins", s.handleListPlugins)
		r.Get("/flows", s.handleListFlows)
		r.Get("/events", s.handleListEvents)
		r.Delete("/events", s.handleClearEvents)
		r.Post("/decode", s.handleDecodeToken)
	})

	r.Get("/ws/events", s.services.LookingGlass.HandleWebSocket)

	for _, p := range s.registry.List() {
		if base := p.Info().BasePath; base != "" {
			r.Route(base, p.RegisterRoutes)
		} else {
			r.Group(p.RegisterRoutes)
		}
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "success"})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	hosts := s.services.Hosts
	page := views.HomePage{
		WellKnown:      hosts.Host() + openid.WellKnownPath,
		Issuer:         hosts.Issuer(),
		Mode:           s.config.DataSource(),
		SingleUseCodes: s.config.SingleUseCodes,
		S3Enabled:      s.services.Datasets != nil,
	}
	if err := s.services.Views.Render(w, http.StatusOK, views.Home, page); err != nil {
		s.logger.Error("Failed to render home page", zap.Error(err))
	}
}

// PluginListResponse lists the mounted plugins
type PluginListResponse struct {
	Plugins []plugin.PluginInfo `json:"plugins"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins := make([]plugin.PluginInfo, 0)
	for _, p := range s.registry.List() {
		plugins = append(plugins, p.Info())
	}
	writeJSON(w, http.StatusOK, PluginListResponse{Plugins: plugins})
}

// FlowListResponse lists the flow definitions of every plugin
type FlowListResponse struct {
	Flows []plugin.FlowDefinition `json:"flows"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FlowListResponse{Flows: s.registry.FlowDefinitions()})
}

// EventListResponse is the recorded event history
type EventListResponse struct {
	Events      []lookingglass.Event `json:"events"`
	Subscribers int                  `json:"subscribers"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	lg := s.services.LookingGlass
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:      lg.History(r.URL.Query().Get("flowId")),
		Subscribers: lg.Subscribers(),
	})
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	s.services.LookingGlass.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// DecodeRequest carries a token to decode
type DecodeRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleDecodeToken(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, err := lookingglass.DecodeClaims(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}
