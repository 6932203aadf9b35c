// Package api exposes the case engine over HTTP. All state-changing
// operations go through the engine so audit logging and persistence
// behave the same whether a change comes from the API or the CLI.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/custodian-dfir/custodian/internal/config"
	"github.com/custodian-dfir/custodian/internal/engine"
	"github.com/custodian-dfir/custodian/internal/websocket"
)

// VersionInfo describes the running build. Populated from ldflags in main.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Runtime   string `json:"runtime"`
}

// Router handles all HTTP routing for Custodian.
type Router struct {
	mux     *http.ServeMux
	cfg     *config.Config
	engine  *engine.Engine
	hub     *websocket.Hub
	version VersionInfo
	started time.Time
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg *config.Config, eng *engine.Engine, hub *websocket.Hub, version VersionInfo) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		engine:  eng,
		hub:     hub,
		version: version,
		started: time.Now(),
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	// Open endpoints.
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)

	// Case lifecycle.
	r.mux.HandleFunc("/api/cases", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			r.handleListCases(w, req)
		case http.MethodPost:
			r.handleCreateCase(w, req)
		default:
			writeMethodNotAllowed(w)
		}
	})
	r.mux.HandleFunc("/api/cases/", r.handleCaseSubroutes)
	r.mux.HandleFunc("/api/state", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		r.handleState(w, req)
	})
	r.mux.HandleFunc("/api/save", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleSave(w, req)
	})

	// Evidence.
	r.mux.HandleFunc("/api/evidence", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleRecordEvidence(w, req)
	})
	r.mux.HandleFunc("/api/evidence/digest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleAddDigest(w, req)
	})
	r.mux.HandleFunc("/api/evidence/verify", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleVerifyEvidence(w, req)
	})

	// Mounts.
	r.mux.HandleFunc("/api/mounts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleMount(w, req)
	})
	r.mux.HandleFunc("/api/mounts/unmount", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleUnmount(w, req)
	})
	r.mux.HandleFunc("/api/mounts/forget", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleForgetMount(w, req)
	})
	r.mux.HandleFunc("/api/partitions", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		r.handlePartitions(w, req)
	})

	// Reconciliation.
	r.mux.HandleFunc("/api/reconcile", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		r.handleReconcile(w, req)
	})

	// Audit trail.
	r.mux.HandleFunc("/api/audit", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		r.handleAuditQuery(w, req)
	})

	// WebSocket for live case state.
	r.mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		if r.hub == nil {
			writeErrorMessage(w, http.StatusServiceUnavailable, "websocket hub not running")
			return
		}
		r.hub.HandleWebSocket(w, req)
	})

	// Prometheus metrics.
	r.mux.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	addSecurityHeaders(w, req)

	if !r.authorize(w, req) {
		return
	}

	r.mux.ServeHTTP(w, req)

	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("HTTP request")
}

// authorize enforces the API token when one is configured. The health
// and version endpoints stay open so probes and update checks work
// without credentials. Returns false after writing the error response.
func (r *Router) authorize(w http.ResponseWriter, req *http.Request) bool {
	if r.cfg == nil || r.cfg.APIToken == "" {
		return true
	}
	if req.URL.Path == "/api/health" || req.URL.Path == "/api/version" {
		return true
	}
	if !strings.HasPrefix(req.URL.Path, "/api/") && req.URL.Path != "/ws" && req.URL.Path != "/metrics" {
		return true
	}

	token := bearerToken(req)
	if token == "" && req.URL.Path == "/ws" {
		// Browser WebSocket clients cannot set headers.
		token = req.URL.Query().Get("token")
	}
	if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.cfg.APIToken)) == 1 {
		return true
	}

	log.Warn().
		Str("path", req.URL.Path).
		Str("remote", req.RemoteAddr).
		Msg("Rejected request with missing or invalid API token")
	writeErrorMessage(w, http.StatusUnauthorized, "invalid or missing API token")
	return false
}

// bearerToken extracts the token from the Authorization header,
// accepting both "Bearer <token>" and the raw token.
func bearerToken(req *http.Request) string {
	auth := strings.TrimSpace(req.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return auth
}

func addSecurityHeaders(w http.ResponseWriter, req *http.Request) {
	if !strings.HasPrefix(req.URL.Path, "/api/") && req.URL.Path != "/ws" && req.URL.Path != "/metrics" {
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(r.started).Seconds(),
	}
	writeJSON(w, http.StatusOK, health)
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.version)
}
