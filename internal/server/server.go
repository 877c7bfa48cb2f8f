// Package server exposes the HTTP API: context unit CRUD, relevance
// ranking, prompt preview, dispatch, and provider/conversation inspection.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/contextpilot/contextpilot/internal/catalog"
	"github.com/contextpilot/contextpilot/internal/conversation"
	"github.com/contextpilot/contextpilot/internal/dispatch"
	"github.com/contextpilot/contextpilot/internal/encoder"
	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/provider"
	"github.com/contextpilot/contextpilot/internal/relevance"
	"github.com/contextpilot/contextpilot/internal/store"
)

type Server struct {
	store         store.Store
	engine        *relevance.Engine
	dispatcher    *dispatch.Service
	registry      *provider.Registry
	catalog       *catalog.Catalog
	conversations *conversation.Store
	enc           encoder.Encoder
}

func New(st store.Store, engine *relevance.Engine, d *dispatch.Service,
	reg *provider.Registry, cat *catalog.Catalog, convs *conversation.Store,
	enc encoder.Encoder) *Server {
	return &Server{
		store:         st,
		engine:        engine,
		dispatcher:    d,
		registry:      reg,
		catalog:       cat,
		conversations: convs,
		enc:           enc,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/context", func(r chi.Router) {
			r.Post("/", s.handleAddUnit)
			r.Get("/", s.handleListUnits)
			r.Get("/{id}", s.handleGetUnit)
			r.Patch("/{id}", s.handleUpdateUnit)
			r.Delete("/{id}", s.handleDeleteUnit)
			r.Post("/{id}/supersede", s.handleSupersede)
		})

		r.Post("/rank", s.handleRank)
		r.Post("/preview", s.handlePreview)
		r.Post("/dispatch", s.handleDispatch)

		r.Get("/providers", s.handleListProviders)
		r.Get("/models", s.handleListModels)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
		})
	})

	return r
}

// --- response plumbing ---

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error("encode response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := "INTERNAL_ERROR"
	var coder errs.Coder
	if errors.As(err, &coder) {
		code = coder.Code()
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, statusFor(code), body)
}

func statusFor(code string) int {
	switch code {
	case errs.CodeValidation, errs.CodeUnsupportedCapability:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeProviderCall, errs.CodeModelProvisioning:
		return http.StatusBadGateway
	case errs.CodeAllProvidersExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
