package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/reload"
)

// ReloadSource is the part of a reload registry the API reads from.
type ReloadSource interface {
	Watched() []string
	Targets(resolvedPath string) []reload.Target
	ListenerCount(resolvedPath string) int
	History() []reload.Notification
	Subscribe() (<-chan reload.Notification, func())
}

// ReloadFunc reloads the configured module named by specifier on demand.
type ReloadFunc func(ctx context.Context, specifier string) error

type RestHandler struct {
	Source  ReloadSource
	Metrics *metrics.Registry
	Reload  ReloadFunc
	Logger  *logging.Logger
}

type moduleResponse struct {
	Path      string           `json:"path"`
	Listeners int              `json:"listeners"`
	Targets   []targetResponse `json:"targets"`
}

type targetResponse struct {
	Module    string          `json:"module"`
	SubModule string          `json:"sub_module,omitempty"`
	Exports   *module.Exports `json:"exports,omitempty"`
}

type reloadRequest struct {
	Module string `json:"module"`
}

func (h *RestHandler) handleModules(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Source == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "reload registry unavailable"}
	}
	watched := h.Source.Watched()
	response := make([]moduleResponse, 0, len(watched))
	for _, path := range watched {
		entry := moduleResponse{
			Path:      path,
			Listeners: h.Source.ListenerCount(path),
			Targets:   []targetResponse{},
		}
		for _, target := range h.Source.Targets(path) {
			entry.Targets = append(entry.Targets, targetResponse{
				Module:    target.SourcePath,
				SubModule: target.SubModule,
				Exports:   target.Exports,
			})
		}
		response = append(response, entry)
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleReloadHistory(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Source == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "reload registry unavailable"}
	}
	history := h.Source.History()
	if history == nil {
		history = []reload.Notification{}
	}
	writeJSON(w, http.StatusOK, history)
	return nil
}

func (h *RestHandler) handleReload(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if h.Reload == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "manual reload unavailable"}
	}
	specifier := strings.TrimSpace(r.URL.Query().Get("module"))
	if specifier == "" {
		var request reloadRequest
		if err := decodeJSONBody(w, r, &request); err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid request body"}
		}
		specifier = strings.TrimSpace(request.Module)
	}
	if specifier == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "module is required"}
	}

	if err := h.Reload(r.Context(), specifier); err != nil {
		if errors.Is(err, module.ErrModuleNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: err.Error()}
		}
		h.Logger.Warn("manual reload failed", map[string]string{
			logging.FieldModule: specifier,
			logging.FieldError:  err.Error(),
		})
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, map[string]string{"module": specifier, "status": "reloaded"})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Metrics == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "metrics unavailable"}
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, h.Metrics.Summary())
		return nil
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.Metrics.WritePrometheus(w); err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to write metrics"}
	}
	return nil
}
