// Package api exposes the pipeline's operational surface over HTTP: the
// lifecycle state, the metrics snapshot and the recent event history. It is a
// read-only debug surface for operators; event delivery to other systems goes
// through the notify sinks, not through this API.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/httputil"
	"github.com/argus-sensing/sentinel.vision/internal/version"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

// Pipeline is the part of the orchestrator the API reads.
type Pipeline interface {
	State() string
	Metrics() vision.MetricsSnapshot
}

// EventReader is the part of the event store the API reads. It is nil when
// the host runs without persistence.
type EventReader interface {
	RecentEvents(ctx context.Context, limit int) ([]vision.Event, error)
}

const defaultEventLimit = 50

// Server serves the status API.
type Server struct {
	pipeline Pipeline
	events   EventReader
}

// NewServer creates a status API server. events may be nil.
func NewServer(pipeline Pipeline, events EventReader) *Server {
	return &Server{pipeline: pipeline, events: events}
}

// Routes registers the API handlers on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/version", s.handleVersion)
}

type statusResponse struct {
	State   string                 `json:"state"`
	Metrics vision.MetricsSnapshot `json:"metrics"`
	Time    time.Time              `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		State:   s.pipeline.State(),
		Metrics: s.pipeline.Metrics(),
		Time:    time.Now().UTC(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.events == nil {
		httputil.NotFound(w, "event store not configured")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.events.RecentEvents(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to read events")
		return
	}
	if events == nil {
		events = []vision.Event{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
