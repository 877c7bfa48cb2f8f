package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/contextpilot/contextpilot/internal/composer"
	"github.com/contextpilot/contextpilot/internal/dispatch"
	"github.com/contextpilot/contextpilot/internal/model"
)

type rankRequest struct {
	Task       string `json:"task"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = dispatch.DefaultMaxContext
	}

	ranked, err := s.engine.Rank(r.Context(), s.store, req.Task, req.MaxResults)
	if err != nil {
		writeError(w, err)
		return
	}
	if ranked == nil {
		ranked = []model.RankedUnit{}
	}
	writeJSON(w, http.StatusOK, ranked)
}

type dispatchRequest struct {
	Task        string   `json:"task"`
	Layout      string   `json:"layout,omitempty"`
	MaxContext  int      `json:"max_context,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

func (d dispatchRequest) toRequest() dispatch.Request {
	return dispatch.Request{
		Task:        d.Task,
		Layout:      composer.Layout(d.Layout),
		MaxContext:  d.MaxContext,
		Provider:    d.Provider,
		Model:       d.Model,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	preview, err := s.dispatcher.Preview(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List(r.Context()))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("provider"); name != "" {
		writeJSON(w, http.StatusOK, s.catalog.Models(name))
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.All())
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	convs, err := s.conversations.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.conversations.Delete(r.Context(), chi.URLParam(r, "id"))
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
