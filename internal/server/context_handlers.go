package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/model"
	"github.com/contextpilot/contextpilot/internal/store"
)

type addUnitRequest struct {
	Kind       string   `json:"kind"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source,omitempty"`
}

func (s *Server) handleAddUnit(w http.ResponseWriter, r *http.Request) {
	var req addUnitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	unit, err := s.store.Add(r.Context(), store.AddParams{
		Kind:       model.Kind(req.Kind),
		Content:    req.Content,
		Confidence: confidence,
		Tags:       req.Tags,
		Source:     req.Source,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.embed(r.Context(), unit.ID, unit.Content)
	writeJSON(w, http.StatusCreated, unit)
}

// embed computes and stores the unit's vector. Best-effort: ranking
// degrades to keyword overlap for units without embeddings.
func (s *Server) embed(ctx context.Context, id, content string) {
	if s.enc == nil {
		return
	}
	vec, err := s.enc.Encode(ctx, content)
	if err != nil {
		logger.Warn("embedding computation failed", "unit", id, "error", err)
		return
	}
	if err := s.store.SetEmbedding(ctx, id, vec); err != nil {
		logger.Warn("embedding store failed", "unit", id, "error", err)
	}
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.Filter{
		Kind:             model.Kind(q.Get("kind")),
		ContentSubstring: q.Get("q"),
		Status:           model.Status(q.Get("status")),
	}
	if tags, ok := q["tag"]; ok {
		f.Tags = tags
	}
	includeSuperseded := q.Get("include_superseded") == "true"

	units, err := s.store.List(r.Context(), includeSuperseded, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if units == nil {
		units = []model.ContextUnit{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

type updateUnitRequest struct {
	Kind       *string   `json:"kind,omitempty"`
	Content    *string   `json:"content,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
}

func (s *Server) handleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	var req updateUnitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	fields := store.UpdateFields{
		Content:    req.Content,
		Confidence: req.Confidence,
		Tags:       req.Tags,
	}
	if req.Kind != nil {
		k := model.Kind(*req.Kind)
		fields.Kind = &k
	}

	unit, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	// content edits invalidate the stored vector; recompute
	if req.Content != nil {
		s.embed(r.Context(), unit.ID, unit.Content)
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type supersedeRequest struct {
	NewID string `json:"new_id"`
}

func (s *Server) handleSupersede(w http.ResponseWriter, r *http.Request) {
	var req supersedeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	oldID := chi.URLParam(r, "id")
	if err := s.store.Supersede(r.Context(), oldID, req.NewID); err != nil {
		writeError(w, err)
		return
	}

	unit, err := s.store.Get(r.Context(), oldID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}
