package server

import (
	"net/http"
	"runtime"
	"time"
)

// Version is the control-plane version reported by /health.
const Version = "0.1.0"

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Uptime      string `json:"uptime"`
	Scheduler   string `json:"scheduler"`
	Store       string `json:"store"`
	Ticks       uint64 `json:"ticks"`
	Subscribers int    `json:"subscribers"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:      "healthy",
		Version:     Version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Scheduler:   "not_started",
		Store:       "disabled",
		Ticks:       s.sched.Ticks(),
		Subscribers: s.hub.subscribers(),
	}
	if s.sched.Started() {
		resp.Scheduler = "running"
	}
	if err := s.sched.Err(); err != nil {
		resp.Status = "degraded"
		resp.Scheduler = "halted"
		resp.Error = err.Error()
	}
	if s.store != nil {
		resp.Store = "sqlite"
		if s.recorder != nil {
			if err := s.recorder.Err(); err != nil {
				resp.Status = "degraded"
				resp.Store = "failing"
			}
		}
	}
	respondOK(w, reqID, resp)
}
