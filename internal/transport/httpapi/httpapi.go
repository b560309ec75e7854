// Package httpapi exposes the facade's three operations over a minimal
// stdlib HTTP mux: POST /index, GET /search, GET /status. This is the one
// transport deliberately built on net/http alone rather than a
// third-party framework (see DESIGN.md).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	amanerr "github.com/vector-index-mcp/vector-index-mcp/internal/errors"
	"github.com/vector-index-mcp/vector-index-mcp/internal/facade"
)

// Handler is the http.Handler serving the three routes.
type Handler struct {
	mux    *http.ServeMux
	facade *facade.Facade
	logger *slog.Logger
}

// NewHandler builds a Handler bound to f.
func NewHandler(f *facade.Facade) *Handler {
	h := &Handler{facade: f, logger: slog.Default()}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /index", h.handleIndex)
	h.mux.HandleFunc("GET /search", h.handleSearch)
	h.mux.HandleFunc("GET /status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type indexRequest struct {
	ForceReindex bool `json:"force_reindex"`
}

type indexResponse struct {
	Message string `json:"message,omitempty"`
	Conflict string `json:"conflict,omitempty"`
}

// handleIndex implements POST /index: 202 on accepted, 409 on conflict.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(amanerr.ConfigError("malformed request body", err)))
			return
		}
	}

	result := h.facade.TriggerIndex(req.ForceReindex)
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, indexResponse{Conflict: result.Reason})
		return
	}
	writeJSON(w, http.StatusAccepted, indexResponse{Message: "scan started"})
}

type searchResultBody struct {
	FilePath   string  `json:"file_path"`
	ChunkIndex uint32  `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

type searchResponse struct {
	Results []searchResultBody `json:"results"`
}

// handleSearch implements GET /search?q=...&top_k=...: 200 on success,
// 400 on invalid arguments, 503 if the index isn't ready yet.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(amanerr.InvalidQueryError("top_k must be an integer")))
			return
		}
		topK = n
	}

	results, err := h.facade.Search(r.Context(), query, topK)
	if err != nil {
		writeJSON(w, statusCodeFor(err), errorBody(err))
		return
	}

	resp := searchResponse{Results: make([]searchResultBody, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchResultBody{
			FilePath:   res.FilePath,
			ChunkIndex: res.ChunkIndex,
			Text:       res.ExtractedTextChunk,
			Score:      res.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	State             string `json:"state"`
	IndexedChunkCount int    `json:"indexed_chunk_count"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// handleStatus implements GET /status: always 200, reflecting whatever
// the registry's current snapshot says (including the Error state).
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	record := h.facade.GetStatus()
	writeJSON(w, http.StatusOK, statusResponse{
		State:             string(record.State),
		IndexedChunkCount: record.IndexedChunkCount,
		ErrorMessage:      record.ErrorMessage,
	})
}

// statusCodeFor maps a facade error to the HTTP status §6 assigns it.
func statusCodeFor(err error) int {
	switch amanerr.GetCode(err) {
	case amanerr.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case amanerr.ErrCodeNotReady:
		return http.StatusServiceUnavailable
	case amanerr.ErrCodeAlreadyScanning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorBody(err error) errorResponse {
	return errorResponse{Error: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: write response failed", slog.String("error", err.Error()))
	}
}
