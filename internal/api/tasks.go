package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/syncd-io/syncd/internal/worker"
)

const defaultFullResultTimeout = 30 * time.Second

func (s *Server) handleTriggerAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NumWorkers int `json:"num_workers"`
	}
	if err := decodeJSON(r, &req); err != nil && err.Error() != "EOF" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid request body"})
		return
	}
	if req.NumWorkers == 0 {
		req.NumWorkers = 1
	}
	if req.NumWorkers < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "num_workers must be a positive integer"})
		return
	}

	taskID, err := s.Trigger(r.Context(), req.NumWorkers)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "success",
		"task_id":          taskID,
		"check_result_url": "/tasks/result/" + taskID,
		"full_result_url":  "/tasks/full-result/" + taskID,
	})
}

// handleResult is the quick, non-blocking status lookup.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	rec, ok := s.Store.Get(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "task_id": taskID, "message": "unknown task"})
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(rec))
}

// handleFullResult blocks until the task completes or the timeout
// elapses (408 on timeout).
func (s *Server) handleFullResult(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	timeout := defaultFullResultTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	if _, ok := s.Store.Get(taskID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "task_id": taskID, "message": "unknown task"})
		return
	}

	rec, done := s.Store.Wait(r.Context(), taskID, timeout)
	if !done {
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"status":  "timeout",
			"task_id": taskID,
			"message": "task did not complete within " + timeout.String(),
		})
		return
	}
	if rec.State == worker.TaskFailed {
		writeJSON(w, http.StatusInternalServerError, taskResponse(rec))
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(rec))
}

func (s *Server) handleBatchResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.TaskIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "task_ids must be a non-empty array"})
		return
	}

	results := make([]map[string]any, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		rec, ok := s.Store.Get(id)
		if !ok {
			results = append(results, map[string]any{"task_id": id, "state": "unknown"})
			continue
		}
		results = append(results, taskResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"total":   len(req.TaskIDs),
		"results": results,
	})
}

func taskResponse(rec worker.TaskRecord) map[string]any {
	resp := map[string]any{
		"task_id": rec.ID,
		"status":  string(rec.State),
	}
	switch rec.State {
	case worker.TaskSuccess:
		resp["result"] = rec.Result
	case worker.TaskFailed:
		resp["error"] = rec.Error
		if rec.Result != nil {
			resp["result"] = rec.Result
		}
	}
	return resp
}
