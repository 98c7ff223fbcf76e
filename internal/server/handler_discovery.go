package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Cores       int            `json:"cores"`
	Priorities  [2]int         `json:"priorities"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	cfg := s.config.Scheduler
	respondOK(w, reqID, discoveryResponse{
		Name:        "smpsched API",
		Version:     "v1",
		Description: "SMP preemptive priority scheduler with round-robin timeslicing",
		Cores:       cfg.Cores,
		Priorities:  [2]int{cfg.MinPriority, cfg.MaxPriority},
		Endpoints: []endpointInfo{
			{"/api/v1/scheduler", []string{"GET"}, "Scheduler snapshot: cores, tasks, ready levels"},
			{"/api/v1/scheduler/start", []string{"POST"}, "Start the scheduler and place initial tasks"},
			{"/api/v1/scheduler/tick", []string{"POST"}, "Deliver one or more timer ticks (body: {\"count\": n})"},
			{"/api/v1/tasks", []string{"GET", "POST"}, "List tasks (?state=) or create a task"},
			{"/api/v1/tasks/{id}", []string{"GET", "DELETE"}, "Single task state, or delete it"},
			{"/api/v1/tasks/{id}/priority", []string{"PUT"}, "Change a task's priority"},
			{"/api/v1/tasks/{id}/block", []string{"POST"}, "Block a ready or running task"},
			{"/api/v1/tasks/{id}/unblock", []string{"POST"}, "Make a blocked task ready again"},
			{"/api/v1/events", []string{"GET"}, "Server-Sent Events stream of scheduling events"},
			{"/api/v1/runs", []string{"GET"}, "Recorded scheduler runs"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single recorded run"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Events of a recorded run"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
