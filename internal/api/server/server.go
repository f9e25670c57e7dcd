// Package server provides the administrative REST API for proxyreg.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/rennerdo30/proxyreg/internal/logging"
	"github.com/rennerdo30/proxyreg/internal/metrics"
	"github.com/rennerdo30/proxyreg/internal/proxy"
	"github.com/rennerdo30/proxyreg/internal/version"
)

// Backend is the registry owner the API operates on.
type Backend interface {
	// Do runs fn with exclusive access to the registry.
	Do(fn func(reg *proxy.Registry) error) error
	// Dump writes the registry diagnostic dump to w.
	Dump(w io.Writer) error
	// ReloadConfig replaces the registry from the config file.
	ReloadConfig() error
	// SaveConfig writes the registry to the config file and returns the
	// backup path when backup is set.
	SaveConfig(backup bool) (string, error)
	// ConfigPath returns the config file in use.
	ConfigPath() string
}

// API provides the REST API for proxyreg.
type API struct {
	backend   Backend
	token     string
	tokenHash string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	started   time.Time
}

// Config holds API configuration.
type Config struct {
	Backend   Backend
	Token     string
	TokenHash string           // bcrypt hash, checked when Token is empty
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger     // optional
}

// New creates a new API server.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	return &API{
		backend:   cfg.Backend,
		token:     cfg.Token,
		tokenHash: cfg.TokenHash,
		metrics:   cfg.Metrics,
		logger:    logger,
		started:   time.Now(),
	}
}

// Router returns the HTTP router for the API.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health stays reachable without credentials
	r.Get("/api/v1/health", a.handleHealth)

	r.Group(func(r chi.Router) {
		if a.token != "" || a.tokenHash != "" {
			r.Use(a.authMiddleware)
		}
		a.addAPIRoutes(r)
	})

	return r
}

// addAPIRoutes adds all authenticated API routes to the router.
func (a *API) addAPIRoutes(r chi.Router) {
	r.Get("/api/v1/version", a.handleVersion)
	r.Get("/api/v1/status", a.handleStatus)
	r.Get("/api/v1/dump", a.handleDump)

	r.Route("/api/v1/proxies", func(r chi.Router) {
		r.Get("/", a.handleListProxies)
		r.Post("/", a.handleCreateProxy)
		r.Get("/{name}", a.handleGetProxy)
		r.Patch("/{name}", a.handleUpdateProxy)
		r.Delete("/{name}", a.handleDeleteProxy)
		r.Put("/{name}/{property}", a.handleSetProperty)
		r.Get("/{name}/options/{field}", a.handleGetOption)
	})

	r.Route("/api/v1/config", func(r chi.Router) {
		r.Post("/reload", a.handleReloadConfig)
		r.Post("/save", a.handleSaveConfig)
	})
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		// Remove "Bearer " prefix if present
		token = strings.TrimPrefix(token, "Bearer ")

		if !a.checkToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) checkToken(token string) bool {
	if token == "" {
		return false
	}
	if a.token != "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(token)) == nil
}

// requestLogger logs each request through slog and counts it.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
		if a.metrics != nil {
			a.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		}
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, version.GetInfo())
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status     string `json:"status"`
	Time       string `json:"time"`
	Uptime     string `json:"uptime"`
	Version    string `json:"version"`
	Proxies    int    `json:"proxies"`
	ConfigPath string `json:"config_path,omitempty"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	var n int
	_ = a.backend.Do(func(reg *proxy.Registry) error {
		n = reg.Len()
		return nil
	})

	a.writeJSON(w, http.StatusOK, StatusResponse{
		Status:     "running",
		Time:       time.Now().Format(time.RFC3339),
		Uptime:     time.Since(a.started).Round(time.Second).String(),
		Version:    version.Short(),
		Proxies:    n,
		ConfigPath: a.backend.ConfigPath(),
	})
}

func (a *API) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := a.backend.Dump(w); err != nil {
		a.logger.Error("Dump failed", "error", err)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
