package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"sagastream/models"
	"sagastream/services/metadata"
)

// errInvalidConfig marks an unparseable config path segment; it maps to a
// 400, never a retry.
var errInvalidConfig = errors.New("invalid config parameters")

type metadataService interface {
	StreamsForContent(ctx context.Context, cfg models.UserConfig, externalID, userAgent string) ([]models.Stream, error)
}

var _ metadataService = (*metadata.Service)(nil)

// StreamHandler serves the addon's manifest and stream resources.
type StreamHandler struct {
	Service metadataService
	// ServerAPIKey, when set, overrides whatever key the install supplies.
	ServerAPIKey string
	log          *slog.Logger
}

func NewStreamHandler(service metadataService, serverAPIKey string) *StreamHandler {
	return &StreamHandler{
		Service:      service,
		ServerAPIKey: serverAPIKey,
		log:          slog.Default().With("component", "handlers"),
	}
}

// Manifest serves the addon manifest at /manifest.json and
// /{config}/manifest.json.
func (h *StreamHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, models.DefaultManifest())
}

// Streams handles /{config}/stream/{type}/{id}.json. Missing credentials and
// unresolvable content both answer with an empty stream list; only a broken
// config segment or an upstream failure is an error.
func (h *StreamHandler) Streams(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	externalID := strings.TrimSuffix(vars["id"], ".json")
	userAgent := r.Header.Get("User-Agent")

	cfg, err := parseUserConfig(vars["config"], r.URL.Query(), h.ServerAPIKey)
	if err != nil {
		h.log.Error("failed to decode config parameters", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid config parameters"})
		return
	}
	if cfg.APIKey == "" || cfg.Language == "" {
		h.log.Warn("request without API key or language, returning no streams")
		writeJSON(w, models.StreamsResponse{Streams: []models.Stream{}})
		return
	}

	streams, err := h.Service.StreamsForContent(r.Context(), cfg, externalID, userAgent)
	if err != nil {
		// Upstream detail stays in the log; callers get a generic failure.
		h.log.Error("failed to build streams", "externalId", externalID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, models.StreamsResponse{Streams: streams})
}

// parseUserConfig merges the URL-encoded JSON config segment over the query
// parameters. Checkbox fields arrive as the string "on" from the configure
// page, but plain booleans are tolerated too.
func parseUserConfig(segment string, query url.Values, serverAPIKey string) (models.UserConfig, error) {
	apiKey := query.Get("tmdbApiKey")
	language := query.Get("language")
	showRating := checkboxValue(query.Get("showRating"))
	showTagline := checkboxValue(query.Get("showTagline"))

	if segment != "" {
		// The router may hand the segment over still escaped, depending on
		// how the client encoded it.
		decoded, err := url.QueryUnescape(segment)
		if err != nil {
			decoded = segment
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(decoded), &fields); err != nil {
			return models.UserConfig{}, errInvalidConfig
		}
		if v, ok := fields["tmdbApiKey"].(string); ok && v != "" {
			apiKey = v
		}
		if v, ok := fields["language"].(string); ok && v != "" {
			language = v
		}
		if v, ok := fields["showRating"]; ok {
			showRating = checkboxValue(v)
		}
		if v, ok := fields["showTagline"]; ok {
			showTagline = checkboxValue(v)
		}
	}

	if serverAPIKey != "" {
		apiKey = serverAPIKey
	}
	return models.UserConfig{
		APIKey:      strings.TrimSpace(apiKey),
		Language:    strings.TrimSpace(language),
		ShowRating:  showRating,
		ShowTagline: showTagline,
	}, nil
}

func checkboxValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "on" || t == "true"
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
