// Package api exposes the HTTP surface. Handlers stay thin: parse, call the
// owning component, translate errors through the apperr taxonomy.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nhooyr.io/websocket"

	"dockerflow/internal/action"
	"dockerflow/internal/alert"
	"dockerflow/internal/apperr"
	"dockerflow/internal/config"
	"dockerflow/internal/docker"
	"dockerflow/internal/quota"
	"dockerflow/internal/reconcile"
	"dockerflow/internal/store"
)

const (
	headerUser = "X-DockerFlow-User"
	headerRole = "X-DockerFlow-Role"
)

type Server struct {
	cfg         config.Config
	store       *store.Store
	engine      *docker.Engine
	reconciler  *reconcile.Reconciler
	quota       *quota.Enforcer
	actions     *action.Orchestrator
	alerts      *alert.Emitter
	broadcaster *Broadcaster
}

func NewServer(cfg config.Config, st *store.Store, engine *docker.Engine, reconciler *reconcile.Reconciler, enforcer *quota.Enforcer, actions *action.Orchestrator, alerts *alert.Emitter, broadcaster *Broadcaster) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		engine:      engine,
		reconciler:  reconciler,
		quota:       enforcer,
		actions:     actions,
		alerts:      alerts,
		broadcaster: broadcaster,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Route("/containers", func(r chi.Router) {
			r.Get("/", s.handleListContainers)
			r.Post("/", s.handleCreateContainer)
			r.Get("/{id}", s.handleGetContainer)
			r.Post("/{id}/start", s.handleAction(action.Start))
			r.Post("/{id}/stop", s.handleAction(action.Stop))
			r.Post("/{id}/restart", s.handleAction(action.Restart))
			r.Delete("/{id}", s.handleAction(action.Delete))
			r.Get("/{id}/logs", s.handleContainerLogs)
			r.Get("/{id}/stats", s.handleContainerStats)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", s.handleListImages)
			r.Post("/pull", s.handlePullImage)
			r.Post("/build", s.handleBuildImage)
			r.Delete("/{id}", s.handleDeleteImage)
			r.Post("/{id}/tag", s.handleTagImage)
		})

		r.Route("/volumes", func(r chi.Router) {
			r.Get("/", s.handleListVolumes)
			r.Post("/", s.handleCreateVolume)
			r.Delete("/{id}", s.handleDeleteVolume)
			r.Get("/{id}/backups", s.handleListBackups)
			r.Post("/{id}/backups", s.handleCreateBackup)
		})
		r.Post("/backups/{id}/restore", s.handleRestoreBackup)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/{id}/acknowledge", s.handleAcknowledgeAlert)
			r.Post("/{id}/resolve", s.handleTransitionAlert(store.AlertStatusResolved))
			r.Post("/{id}/dismiss", s.handleTransitionAlert(store.AlertStatusDismissed))
			r.Delete("/", s.handlePurgeAlerts)
		})

		r.Get("/activity", s.handleListActivity)

		r.Get("/quotas/{userID}", s.handleGetQuota)
		r.Put("/quotas/{userID}", s.handlePutQuota)
		r.Post("/users/{id}/quota-defaults", s.handleQuotaDefaults)

		r.Get("/events/stream", s.handleStream)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	peer := clientIP(r)
	log.Printf("ws connect: %s", peer)
	defer func() {
		log.Printf("ws disconnect: %s", peer)
		conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	s.broadcaster.Add(conn)
	defer s.broadcaster.Remove(conn)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Identity is resolved upstream; the backend trusts the forwarded headers.
type Identity struct {
	UserID string
	Admin  bool
}

type ctxKey int

const identityKey ctxKey = 0

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(headerUser)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing "+headerUser+" header")
			return
		}
		ident := Identity{UserID: user, Admin: r.Header.Get(headerRole) == "admin"}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

func identityFrom(r *http.Request) Identity {
	ident, _ := r.Context().Value(identityKey).(Identity)
	return ident
}

func (s *Server) actorFrom(r *http.Request) action.Actor {
	ident := identityFrom(r)
	return action.Actor{
		UserID:    ident.UserID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperr.HTTPStatus(err), err.Error())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for the
// websocket upgrade.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("http %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return ip
	}
	return r.RemoteAddr
}
