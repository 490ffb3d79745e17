package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/metrics"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/wake"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// DirectoryLoader builds the current host directory.
type DirectoryLoader interface {
	Load(ctx context.Context) (*hostdir.Directory, error)
}

// Waker sends wake packets.
type Waker interface {
	Dispatch(ctx context.Context, mac, name string) (*wake.Outcome, error)
	WakeForm(ctx context.Context, f wake.Form) (*wake.Outcome, error)
	Availability() wake.Availability
	Selected() (wake.Backend, error)
}

// Pinner mutates the pinned host set.
type Pinner interface {
	Pin(ctx context.Context, req pinning.PinRequest) (*pinning.Result, error)
	Unpin(ctx context.Context, mac string) (*pinning.Result, error)
	ReplaceAll(ctx context.Context, rows []pinning.Row) (*pinning.Result, error)
}

// Services are the collaborators the server exposes.
type Services struct {
	Directory DirectoryLoader
	Wake      Waker
	Pins      Pinner
	// Store opens a fresh config store session per request.
	Store  func() configstore.Client
	Events *notify.Bus
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string shown in the UI.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics serves reg on /metrics and records request metrics.
func WithMetrics(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = reg
		s.httpMetrics = metrics.NewHTTPMetrics(reg)
	}
}

// Server is the HTTP server for the web interface and API.
type Server struct {
	svc            Services
	templates      map[string]*template.Template
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	handler        http.Handler
	apiKey         string
	allowedOrigins []string
	version        string
	registry       *prometheus.Registry
	httpMetrics    *metrics.HTTPMetrics
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server.
func NewServer(svc Services, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	// Parse each page template separately with layout to avoid {{define "content"}} conflicts.
	base, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pages := []string{"index.html"}
	tmpl := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		cloned, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", page, err)
		}
		t, err := cloned.ParseFS(templateFS, "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		tmpl[page] = t
	}

	s := &Server{
		svc:       svc,
		templates: tmpl,
		logger:    logger.With("component", "web"),
		mux:       http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Relay every notification to WebSocket clients.
	if svc.Events != nil {
		s.unsubEvents = svc.Events.OnAll(s.wsHub.Broadcast)
	}

	s.routes()
	s.handler = s.httpMetrics.Middleware(s.mux)
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Static files
	s.mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))

	// HTML pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	// REST API
	s.mux.HandleFunc("GET /api/hosts", s.handleAPIListHosts)
	s.mux.HandleFunc("POST /api/hosts/{mac}/wake", s.handleAPIWakeHost)
	s.mux.HandleFunc("POST /api/wake", s.handleAPIWakeForm)
	s.mux.HandleFunc("GET /api/backends", s.handleAPIBackends)
	s.mux.HandleFunc("POST /api/pins", s.handleAPIPin)
	s.mux.HandleFunc("PUT /api/pins", s.handleAPIReplacePins)
	s.mux.HandleFunc("DELETE /api/pins/{mac}", s.handleAPIUnpin)
	s.mux.HandleFunc("GET /api/changes", s.handleAPIListChanges)
	s.mux.HandleFunc("POST /api/changes/apply", s.handleAPIApplyChanges)
	s.mux.HandleFunc("DELETE /api/changes/{config}", s.handleAPIRevertChanges)
	s.mux.HandleFunc("POST /api/leases", s.handleAPIAddLease)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	if s.registry != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.registry))
	}

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only /api/ is protected: browsers cannot send custom headers on
		// page navigation or WS upgrade.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.handler.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HostView is one directory row as rendered on the page.
type HostView struct {
	hostdir.HostRecord
	Badges  []string
	Compact string
}

func hostViews(rows []hostdir.HostRecord) []HostView {
	views := make([]HostView, 0, len(rows))
	for _, h := range rows {
		v := HostView{HostRecord: h, Compact: hostdir.CompactMAC(h.MAC)}
		for _, o := range h.Origins {
			v.Badges = append(v.Badges, o.String())
		}
		views = append(views, v)
	}
	return views
}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	dir, err := s.svc.Directory.Load(r.Context())
	if err != nil {
		s.logger.Error("load directory for index", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	avail := s.svc.Wake.Availability()
	selected, selErr := s.svc.Wake.Selected()

	s.renderTemplate(w, "index.html", map[string]interface{}{
		"PageTitle":    "Wake on LAN",
		"Pinned":       hostViews(dir.Pinned),
		"Static":       hostViews(dir.Static),
		"Discovered":   hostViews(dir.Discovered),
		"Choices":      dir.Choices,
		"Availability": avail,
		"ChooseTool":   avail.Etherwake && avail.Wol,
		"Selected":     selected,
		"BackendError": errString(selErr),
	})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// renderTemplate renders to a buffer first, so partial write failures don't corrupt the response.
func (s *Server) renderTemplate(w http.ResponseWriter, name string, data interface{}) {
	t, ok := s.templates[name]
	if !ok {
		s.logger.Error("template not found", "name", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// Inject version and API key into template data if it's a map.
	if m, ok := data.(map[string]interface{}); ok {
		m["Version"] = s.version
		if s.apiKey != "" {
			m["APIKey"] = s.apiKey
		}
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template", "name", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write template response", "name", name, "err", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
