package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/models"
)

const (
	defaultDocumentLimit = 100
	maxDocumentLimit     = 1000
	maxBodyBytes         = 1 << 20
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "invalid_argument"})
		return
	}
	s.logger.Debug("Query request", zap.Int("top_k", req.TopK), zap.Bool("allow_generation", req.AllowGeneration))
	resp, err := s.backend.Query(r.Context(), req)
	if err != nil {
		s.respondError(w, "query", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp.ToQueryResponse())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Ingest(r.Context())
	if err != nil {
		s.respondError(w, "ingest", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.Evaluate(r.Context())
	if err != nil {
		s.respondError(w, "evaluate", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.Status(r.Context())
	if err != nil {
		s.respondError(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "offset must be a non-negative integer", Kind: "invalid_argument"})
		return
	}
	limit, err := queryInt(r, "limit", defaultDocumentLimit)
	if err != nil || limit <= 0 {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Kind: "invalid_argument"})
		return
	}
	docs, err := s.backend.Documents(r.Context(), offset, min(limit, maxDocumentLimit))
	if err != nil {
		s.respondError(w, "documents", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "offset": offset})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// StatusFor maps an error to its HTTP status by kind.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondJSON(w, status, errorBody{Error: err.Error(), Kind: models.ErrorKind(err)})
}
