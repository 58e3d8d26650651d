package api

import (
	"net/http"

	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/reload"
)

type Config struct {
	Source         ReloadSource
	Metrics        *metrics.Registry
	Reload         ReloadFunc
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

// RegisterRoutes mounts the REST endpoints and the reload websocket on mux.
func RegisterRoutes(mux *http.ServeMux, config Config) {
	logger := config.Logger.Category("api")
	rest := &RestHandler{
		Source:  config.Source,
		Metrics: config.Metrics,
		Reload:  config.Reload,
		Logger:  logger,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, handler)
	}

	mux.Handle("/api/modules", wrap(restHandler(config.AuthToken, rest.handleModules)))
	mux.Handle("/api/modules/reload", wrap(restHandler(config.AuthToken, rest.handleReload)))
	mux.Handle("/api/reloads", wrap(restHandler(config.AuthToken, rest.handleReloadHistory)))
	mux.Handle("/api/metrics", wrap(restHandler(config.AuthToken, rest.handleMetrics)))

	var subscribe func() (<-chan reload.Notification, func())
	if config.Source != nil {
		subscribe = config.Source.Subscribe
	}
	mux.Handle("/ws/reloads", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWSStream(w, r, wsStreamConfig[reload.Notification]{
			Logger:         logger,
			AuthToken:      config.AuthToken,
			AllowedOrigins: config.AllowedOrigins,
			Subscribe:      subscribe,
			BuildPayload: func(notification reload.Notification) (any, bool) {
				return map[string]any{
					"type":    "reload",
					"id":      notification.ID,
					"path":    notification.Path,
					"op":      notification.Op,
					"targets": notification.Targets,
					"at":      notification.At,
				}, true
			},
		})
	})))
}
