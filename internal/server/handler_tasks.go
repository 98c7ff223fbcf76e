package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/smpsched/internal/scheduler"
	"github.com/me/smpsched/pkg/model"
)

// listOptions reads limit and offset query parameters.
func listOptions(r *http.Request) model.ListOptions {
	opts := model.DefaultListOptions()
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = v
	}
	opts.Clamp()
	return opts
}

// taskID parses the {id} URL parameter, responding with 400 on failure.
func taskID(w http.ResponseWriter, r *http.Request, reqID string) (model.TaskID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid task id",
				model.FieldError{Field: "id", Message: "must be an integer, got " + strconv.Quote(raw)}))
		return 0, false
	}
	return model.TaskID(n), true
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptions(r)

	var stateFilter model.TaskState
	if state := r.URL.Query().Get("state"); state != "" {
		stateFilter = model.TaskState(state)
		if !stateFilter.IsValid() {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid state filter",
					model.FieldError{Field: "state", Message: "unknown state " + strconv.Quote(state)}))
			return
		}
	}

	snap := s.sched.Snapshot()
	tasks := make([]model.TaskView, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if stateFilter == "" || t.State == stateFilter {
			tasks = append(tasks, t)
		}
	}
	total := len(tasks)
	lo := min(opts.Offset, total)
	hi := min(lo+opts.Limit, total)

	respondList(w, reqID, tasks[lo:hi], &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: hi < total,
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	var opts []scheduler.CreateOption
	if req.Name != "" {
		opts = append(opts, scheduler.WithName(req.Name))
	}
	id, err := s.sched.Create(req.Priority, opts...)
	if err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	view, err := s.sched.Task(id)
	if err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	s.logger.Info("task created", "task", id, "priority", req.Priority, "state", view.State)
	respondCreated(w, reqID, view)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskID(w, r, reqID)
	if !ok {
		return
	}
	view, err := s.sched.Task(id)
	if err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	respondOK(w, reqID, view)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskID(w, r, reqID)
	if !ok {
		return
	}
	if err := s.sched.Delete(id); err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	s.logger.Info("task deleted", "task", id)
	respondOK(w, reqID, map[string]any{
		"id":    id,
		"state": model.TaskStateDeleted,
	})
}

func (s *Server) handleBlockTask(w http.ResponseWriter, r *http.Request) {
	s.mutateTask(w, r, "blocked", s.sched.Block)
}

func (s *Server) handleUnblockTask(w http.ResponseWriter, r *http.Request) {
	s.mutateTask(w, r, "unblocked", s.sched.Unblock)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskID(w, r, reqID)
	if !ok {
		return
	}

	var req model.SetPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if req.Priority == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing priority",
				model.FieldError{Field: "priority", Message: "is required"}))
		return
	}

	if err := s.sched.SetPriority(id, *req.Priority); err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	s.logger.Info("task priority changed", "task", id, "priority", *req.Priority)
	s.respondTask(w, reqID, id)
}

// mutateTask applies op to the {id} task and responds with its new view.
func (s *Server) mutateTask(w http.ResponseWriter, r *http.Request, verb string, op func(model.TaskID) error) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskID(w, r, reqID)
	if !ok {
		return
	}
	if err := op(id); err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	s.logger.Info("task "+verb, "task", id)
	s.respondTask(w, reqID, id)
}

func (s *Server) respondTask(w http.ResponseWriter, reqID string, id model.TaskID) {
	view, err := s.sched.Task(id)
	if err != nil {
		respondSchedulerError(w, reqID, err)
		return
	}
	respondOK(w, reqID, view)
}
