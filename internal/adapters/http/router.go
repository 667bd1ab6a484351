package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lexrag/query-engine/internal/core/domain"
	"github.com/lexrag/query-engine/internal/core/ports"
)

// Router exposes the query engine over HTTP.
type Router struct {
	queryRouter    ports.QueryRouter
	metricsHandler http.Handler
	middleware     func(http.Handler) http.Handler
}

func NewRouter(queryRouter ports.QueryRouter, metricsHandler http.Handler, middleware func(http.Handler) http.Handler) *Router {
	return &Router{
		queryRouter:    queryRouter,
		metricsHandler: metricsHandler,
		middleware:     middleware,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.routeQuery)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	if rt.middleware != nil {
		handler = rt.middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question      string `json:"question"`
	CaseID        string `json:"case_id"`
	IncludeGlobal *bool  `json:"include_global"`
}

type queryResponse struct {
	Answer     string                `json:"answer"`
	Sources    []domain.SearchResult `json:"sources"`
	Confidence float64               `json:"confidence"`
	FromCache  bool                  `json:"from_cache"`
	QueryType  domain.QueryType      `json:"query_type"`
	Strategies []string              `json:"strategies"`
}

func (rt *Router) routeQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	// Library documents are searched by default; callers opt out explicitly.
	includeGlobal := true
	if req.IncludeGlobal != nil {
		includeGlobal = *req.IncludeGlobal
	}
	scope := domain.Scope{
		CaseID:        strings.TrimSpace(req.CaseID),
		IncludeGlobal: includeGlobal,
	}

	resp, err := rt.queryRouter.Route(r.Context(), req.Question, scope)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:     resp.Answer,
		Sources:    sources,
		Confidence: resp.Confidence,
		FromCache:  resp.FromCache,
		QueryType:  resp.QueryType,
		Strategies: resp.Strategies,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
