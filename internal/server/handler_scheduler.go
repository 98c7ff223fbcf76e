package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/me/smpsched/pkg/model"
)

// maxTickBatch bounds the ticks one POST /scheduler/tick may apply.
const maxTickBatch = 10000

func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sched.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if err := s.sched.Start(); err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	s.logger.Info("scheduler started", "cores", s.config.Scheduler.Cores)
	respondOK(w, reqID, s.sched.Snapshot())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	req := model.TickRequest{Count: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if req.Count < 1 || req.Count > maxTickBatch {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid tick count",
				model.FieldError{Field: "count", Message: "must be between 1 and 10000"}))
		return
	}

	for i := 0; i < req.Count; i++ {
		if err := s.sched.Tick(); err != nil {
			respondSchedulerError(w, reqID, err)
			return
		}
	}
	respondOK(w, reqID, s.sched.Snapshot())
}
