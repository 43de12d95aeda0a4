// Package httpserver exposes the control API and the request-path routing
// decision endpoint.
package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/braincanary/braincanary/internal/auth"
	"github.com/braincanary/braincanary/internal/config"
	"github.com/braincanary/braincanary/internal/controller"
	"github.com/braincanary/braincanary/internal/deployment"
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/store"
)

type Server struct {
	runtime *deployment.Runtime
	store   store.Store
	auth    auth.Config
}

func New(runtime *deployment.Runtime, st store.Store, authCfg auth.Config) *Server {
	return &Server{
		runtime: runtime,
		store:   st,
		auth:    authCfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/route", s.handleRoute)
	r.Get("/v1/deployments", s.handleList)
	r.Get("/v1/deployments/active", s.handleActive)
	r.Get("/v1/deployments/{id}/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.auth))
		r.Post("/v1/deployments", s.handleStart)
		r.Post("/v1/deployments/active/pause", s.handlePause)
		r.Post("/v1/deployments/active/resume", s.handleResume)
		r.Post("/v1/deployments/active/promote", s.handlePromote)
		r.Post("/v1/deployments/active/rollback", s.handleRollback)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if err := s.store.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["store_error"] = err.Error()
	}
	if snap := s.runtime.Controller().Snapshot(); snap != nil {
		resp["deployment_id"] = snap.ID
		resp["deployment_state"] = snap.State
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	decision := s.runtime.Route(r.URL.Query().Get("sticky"))
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := config.ParseDeployment(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.runtime.StartDeployment(r.Context(), cfg)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	snap := s.runtime.Controller().Snapshot()
	if snap == nil {
		respondError(w, http.StatusNotFound, "no active deployment")
		return
	}
	gates, action := s.runtime.Controller().LatestGates()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deployment":  snap,
		"gates":       gates,
		"next_action": action,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.ListDeployments(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := s.store.ListEvents(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, evs)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.manualOp(w, r, func() error { return s.runtime.Controller().Pause(r.Context()) })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.manualOp(w, r, func() error { return s.runtime.Controller().Resume(r.Context()) })
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	s.manualOp(w, r, func() error { return s.runtime.Controller().Promote(r.Context(), force) })
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.manualOp(w, r, func() error { return s.runtime.Controller().Rollback(r.Context(), req.Reason) })
}

func (s *Server) manualOp(w http.ResponseWriter, r *http.Request, op func() error) {
	if err := op(); err != nil {
		status := http.StatusConflict
		switch {
		case errors.Is(err, controller.ErrNoActiveDeployment):
			status = http.StatusNotFound
		case errors.Is(err, controller.ErrInvalidTransition):
			status = http.StatusConflict
		case errors.Is(err, models.ErrInvalidConfig):
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.runtime.Controller().Snapshot())
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
