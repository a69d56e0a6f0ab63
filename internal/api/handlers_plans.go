package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
)

// loadPlan writes the error response itself and returns nil on failure.
func (s *Server) loadPlan(w http.ResponseWriter, r *http.Request) *plan.Plan {
	hash := chi.URLParam(r, "hash")
	p, err := s.orchestrator.Store().GetPlan(r.Context(), hash)
	if errors.Is(err, planstore.ErrNotFound) {
		jsonError(w, "plan not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		s.log.Error("plan lookup failed", "content_hash", hash, "error", err)
		jsonError(w, "failed to load plan", http.StatusInternalServerError)
		return nil
	}
	return p
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if p := s.loadPlan(w, r); p != nil {
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	p := s.loadPlan(w, r)
	if p == nil {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(plan.RenderMap(p)))
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	err := s.orchestrator.Store().DeletePlan(r.Context(), hash)
	if errors.Is(err, planstore.ErrNotFound) {
		jsonError(w, "plan not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("plan delete failed", "content_hash", hash, "error", err)
		jsonError(w, "failed to delete plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": hash})
}

type mergeRequest struct {
	Results []merge.Result `json:"results"`
	merge.Options
}

type mergeResponse struct {
	Merged string       `json:"merged"`
	Report merge.Report `json:"report"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	p := s.loadPlan(w, r)
	if p == nil {
		return
	}

	var req mergeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid merge request: "+err.Error(), http.StatusBadRequest)
		return
	}

	merged, rep, err := s.reconciler.Merge(p, req.Results, req.Options)
	var integrity *merge.IntegrityError
	if errors.As(err, &integrity) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"report": integrity.Report,
		})
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(rep.Warnings) > 0 {
		s.log.Warn("merge completed with warnings", "content_hash", p.ContentHash, "warnings", rep.Warnings)
	}
	writeJSON(w, http.StatusOK, mergeResponse{Merged: merged, Report: rep})
}
