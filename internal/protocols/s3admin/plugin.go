// Package s3admin lists and serves the people datasets uploaded to the bucket
package s3admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/views"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

// Plugin serves the dataset admin routes
type Plugin struct {
	*plugin.BasePlugin
}

// NewPlugin creates the dataset admin plugin
func NewPlugin() *Plugin {
	return &Plugin{
		BasePlugin: plugin.NewBasePlugin(plugin.PluginInfo{
			ID:          "s3",
			Name:        "Datasets",
			Version:     "1.0.0",
			Description: "People datasets stored in S3, grouped by client id",
			BasePath:    "/s3",
			Tags:        []string{"s3", "datasets"},
		}),
	}
}

// Initialize initializes the plugin
func (p *Plugin) Initialize(ctx context.Context, config plugin.PluginConfig) error {
	if config.Datasets == nil {
		return errors.New("dataset store is required")
	}
	if config.Views == nil {
		return errors.New("views are required")
	}
	p.SetConfig(config)
	return nil
}

// RegisterRoutes registers the plugin's HTTP routes
func (p *Plugin) RegisterRoutes(router chi.Router) {
	router.Get("/", p.handleList)
	router.Get("/download", p.handleDownload)
}

func (p *Plugin) handleList(w http.ResponseWriter, r *http.Request) {
	store := p.Config().Datasets
	datasets, err := store.Datasets(r.Context())
	if err != nil {
		p.Config().Logger.Error("Failed to list datasets", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Unable to list datasets")
		return
	}

	if wantsHTML(r) {
		page := views.DatasetsPage{Bucket: store.Bucket(), Datasets: datasets}
		if err := p.Config().Views.Render(w, http.StatusOK, views.S3, page); err != nil {
			p.Config().Logger.Error("Failed to render datasets", zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket":   store.Bucket(),
		"datasets": datasets,
	})
}

func (p *Plugin) handleDownload(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	filename := r.URL.Query().Get("filename")

	var missing []string
	if clientID == "" {
		missing = append(missing, `"clientId" is required`)
	}
	if filename == "" {
		missing = append(missing, `"filename" is required`)
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, strings.Join(missing, ". "))
		return
	}

	data, err := p.Config().Datasets.Download(r.Context(), clientID, filename)
	if errors.Is(err, people.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		p.Config().Logger.Error("Failed to download dataset",
			zap.String("clientId", clientID),
			zap.String("filename", filename),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "Unable to download dataset")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(filename, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// wantsHTML reports whether the client prefers a page over JSON
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

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
