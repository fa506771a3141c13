// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the livedemo HTTP surface: session control, source
// listing, status and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halocam/livedemo/internal/adapter"
	"github.com/halocam/livedemo/internal/api/middleware"
	"github.com/halocam/livedemo/internal/broker"
	"github.com/halocam/livedemo/internal/live"
	"github.com/halocam/livedemo/internal/log"
	"github.com/halocam/livedemo/internal/source"
)

// SessionController is the subset of the live controller the API drives.
type SessionController interface {
	State() live.State
	ActiveSession() *broker.Session
	Candidates() []source.Source
	Selected() string
	Category() string
	Remaining() time.Duration
	LastNotice() *live.Notice
	SetCategory(ctx context.Context, category string) error
	Start(ctx context.Context, sourceID string) error
	StartAuto(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FrameSource serves the most recently rendered frame.
type FrameSource interface {
	LastFrame() adapter.Frame
	FrameCount() uint64
}

// Config holds the API server settings.
type Config struct {
	Version      string
	RequestLimit int
	Tracing      bool
}

// Server wires the HTTP routes to the session controller.
type Server struct {
	ctrl    SessionController
	frames  FrameSource
	cfg     Config
	started time.Time
}

func New(ctrl SessionController, frames FrameSource, cfg Config) *Server {
	return &Server{ctrl: ctrl, frames: frames, cfg: cfg, started: time.Now()}
}

// Routes builds the router with the canonical middleware stack.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics())
	if s.cfg.Tracing {
		r.Use(middleware.Tracing("livedemo-api"))
	}
	r.Use(log.Middleware())
	if s.cfg.RequestLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RequestLimit, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sources", s.handleSources)
		r.Put("/category", s.handleSetCategory)
		r.Get("/frame", s.handleFrame)
		r.Route("/demo", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// statusResponse is the session snapshot shown in the demo UI.
type statusResponse struct {
	State            live.State      `json:"state"`
	Category         string          `json:"category"`
	Selected         string          `json:"selected_source_id,omitempty"`
	Session          *broker.Session `json:"session,omitempty"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	Notice           *live.Notice    `json:"notice,omitempty"`
	FrameCount       uint64          `json:"frame_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:            s.ctrl.State(),
		Category:         s.ctrl.Category(),
		Selected:         s.ctrl.Selected(),
		Session:          s.ctrl.ActiveSession(),
		RemainingSeconds: int64(s.ctrl.Remaining() / time.Second),
		Notice:           s.ctrl.LastNotice(),
	}
	if s.frames != nil {
		resp.FrameCount = s.frames.FrameCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	list := s.ctrl.Candidates()
	if list == nil {
		list = []source.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": list})
}

type categoryRequest struct {
	Category string `json:"category"`
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "category is required"})
		return
	}
	if err := s.ctrl.SetCategory(r.Context(), req.Category); err != nil {
		// The category switched; only the candidate fetch failed.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "source catalog unavailable"})
		return
	}
	s.handleStatus(w, r)
}

type startRequest struct {
	SourceID string `json:"source_id"`
}

// handleStart begins a session. With a source_id the start is manual and a
// failure is returned to the caller; without one the controller walks the
// ranked candidate list.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, err)
			return
		}
	}

	var err error
	if req.SourceID != "" {
		err = s.ctrl.Start(r.Context(), req.SourceID)
	} else {
		err = s.ctrl.StartAuto(r.Context())
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session": s.ctrl.ActiveSession(),
		"state":   s.ctrl.State(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.ctrl.State()})
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	if s.frames == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frame source"})
		return
	}
	frame := s.frames.LastFrame()
	if len(frame.Data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", frame.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)
}
