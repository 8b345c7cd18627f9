package api

import (
	"net/http"
)

type healingTarget struct {
	Repository string   `json:"repository"`
	Branch     string   `json:"branch"`
	Files      []string `json:"files,omitempty"`
	File       string   `json:"file,omitempty"`
	Key        string   `json:"key,omitempty"`
}

func (s *Server) handleDetectDrift(w http.ResponseWriter, r *http.Request) {
	var req healingTarget
	if err := decodeJSON(r, &req); err != nil || req.Repository == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "repository and branch are required"})
		return
	}
	report, err := s.Healing.DetectDrift(r.Context(), req.Repository, req.Branch, req.Files)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"drift_count": len(report.DriftDetected),
		"report":      report,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req healingTarget
	if err := decodeJSON(r, &req); err != nil || req.Repository == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "repository and branch are required"})
		return
	}
	report, err := s.Healing.ReconcileNow(r.Context(), req.Repository, req.Branch)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"drift_count":   len(report.DriftDetected),
		"fixes_applied": len(report.FixesApplied),
		"report":        report,
	})
}

func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req healingTarget
	if err := decodeJSON(r, &req); err != nil || req.Repository == "" || req.Branch == "" || req.File == "" || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "repository, branch, file, and key are required"})
		return
	}
	manager, ok := s.Healing.Manager(req.Repository, req.Branch)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "no schedule registered for " + req.Repository + ":" + req.Branch})
		return
	}
	inSync, err := manager.ValidateKey(r.Context(), req.Repository, req.Branch, req.File, req.Key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"in_sync": inSync, "key": req.Key})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Healing.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req healingTarget
	if err := decodeJSON(r, &req); err != nil || req.Repository == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "repository and branch are required"})
		return
	}
	if !s.Healing.SetEnabled(req.Repository, req.Branch, true) {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "no schedule registered for " + req.Repository + ":" + req.Branch})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "enabled"})
}
