// Package chi exposes the engine over HTTP: sync, query, summaries,
// digests, stats, health, metrics.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	healthuc "github.com/Triyansha/newsletter-rag/internal/usecase/health"
	ingestuc "github.com/Triyansha/newsletter-rag/internal/usecase/ingest"
	queryuc "github.com/Triyansha/newsletter-rag/internal/usecase/query"
	statsuc "github.com/Triyansha/newsletter-rag/internal/usecase/stats"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the usecases to HTTP handlers.
type Server struct {
	ingest        *ingestuc.Service
	query         *queryuc.Service
	stats         *statsuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest *ingestuc.Service,
	query *queryuc.Service,
	stats *statsuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingest: ingest,
		query:  query,
		stats:  stats,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidConfig, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrSourceNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, "temporarily_unavailable"),
		sentinelHandler(domain.ErrGenerationUnavailable, http.StatusServiceUnavailable, "temporarily_unavailable"),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "temporarily_unavailable"),
	}
	return s
}

// Routes registers the API routes on a router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/sync", s.Sync)
	r.Post("/v1/query", s.Query)
	r.Post("/v1/summarize", s.Summarize)
	r.Post("/v1/related", s.Related)
	r.Post("/v1/digest", s.Digest)
	r.Post("/v1/topics", s.Topics)
	r.Get("/v1/newsletters", s.Newsletters)
	r.Get("/v1/stats", s.Stats)
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type syncRequest struct {
	Messages []domain.RawMessage `json:"messages"`
}

type syncItem struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

type syncResponse struct {
	Ingested int        `json:"ingested"`
	Skipped  int        `json:"skipped"`
	Failed   int        `json:"failed"`
	Items    []syncItem `json:"items"`
}

// Sync handles POST /v1/sync.
func (s *Server) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "At least one message is required")
		return
	}

	report, err := s.ingest.Sync(r.Context(), req.Messages)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]syncItem, len(report.Items))
	for i, item := range report.Items {
		items[i] = syncItem{
			SourceID: item.SourceID(),
			Status:   string(item.Status()),
			Reason:   item.Reason(),
		}
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Ingested: report.Ingested,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
		Items:    items,
	})
}

type queryRequest struct {
	Question string     `json:"question"`
	K        int        `json:"k,omitempty"`
	Sender   string     `json:"sender,omitempty"`
	After    *time.Time `json:"after,omitempty"`
	Before   *time.Time `json:"before,omitempty"`
}

type citation struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Sender   string  `json:"sender"`
	Date     string  `json:"date,omitempty"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet,omitempty"`
}

type queryResponse struct {
	Answer    string     `json:"answer"`
	Grounded  bool       `json:"grounded"`
	Citations []citation `json:"citations"`
}

// Query handles POST /v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Question is required")
		return
	}

	var after, before time.Time
	if req.After != nil {
		after = *req.After
	}
	if req.Before != nil {
		before = *req.Before
	}
	f, err := filter.New(req.Sender, after, before)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	resp, err := s.query.Answer(r.Context(), queryuc.Request{
		Question: req.Question,
		TopK:     req.K,
		Filter:   f,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    resp.Answer,
		Grounded:  resp.Grounded,
		Citations: toCitations(resp.Citations),
	})
}

func toCitations(cs []queryuc.Citation) []citation {
	out := make([]citation, len(cs))
	for i, c := range cs {
		out[i] = citation{
			SourceID: c.SourceID,
			Title:    c.Title,
			Sender:   c.Sender,
			Date:     formatDate(c.Timestamp),
			Score:    c.Score,
			Snippet:  c.Snippet,
		}
	}
	return out
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format("2006-01-02")
}

type summarizeRequest struct {
	SourceID string `json:"source_id"`
}

// Summarize handles POST /v1/summarize.
func (s *Server) Summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "source_id is required")
		return
	}

	resp, err := s.query.Summarize(r.Context(), req.SourceID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    resp.Answer,
		Grounded:  resp.Grounded,
		Citations: toCitations(resp.Citations),
	})
}

type relatedRequest struct {
	SourceID string `json:"source_id"`
	K        int    `json:"k,omitempty"`
}

type relatedItem struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Sender   string  `json:"sender"`
	Date     string  `json:"date,omitempty"`
	Score    float64 `json:"score"`
}

type relatedResponse struct {
	Related []relatedItem `json:"related"`
}

// Related handles POST /v1/related.
func (s *Server) Related(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "source_id is required")
		return
	}

	related, err := s.query.FindRelated(r.Context(), req.SourceID, req.K)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]relatedItem, len(related))
	for i, rel := range related {
		items[i] = relatedItem{
			SourceID: rel.SourceID,
			Title:    rel.Title,
			Sender:   rel.Sender,
			Date:     formatDate(rel.Timestamp),
			Score:    rel.Score,
		}
	}
	writeJSON(w, http.StatusOK, relatedResponse{Related: items})
}

type windowRequest struct {
	Days   int        `json:"days,omitempty"`
	After  *time.Time `json:"after,omitempty"`
	Before *time.Time `json:"before,omitempty"`
}

// Digest handles POST /v1/digest.
func (s *Server) Digest(w http.ResponseWriter, r *http.Request) {
	s.windowed(w, r, s.query.Digest)
}

// Topics handles POST /v1/topics.
func (s *Server) Topics(w http.ResponseWriter, r *http.Request) {
	s.windowed(w, r, s.query.Topics)
}

// windowed decodes a time-window request and runs a window-scoped query
// operation. An empty body means the default window of the last 7 days.
func (s *Server) windowed(w http.ResponseWriter, r *http.Request, run func(context.Context, time.Time, time.Time) (queryuc.Response, error)) {
	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	var since, until time.Time
	if req.After != nil {
		since = *req.After
	}
	if req.Before != nil {
		until = *req.Before
	}
	if since.IsZero() {
		days := req.Days
		if days <= 0 {
			days = 7
		}
		since = time.Now().AddDate(0, 0, -days)
	}
	if !until.IsZero() && until.Before(since) {
		writeError(w, http.StatusBadRequest, "validation_failed", "before must not precede after")
		return
	}

	resp, err := run(r.Context(), since, until)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    resp.Answer,
		Grounded:  resp.Grounded,
		Citations: toCitations(resp.Citations),
	})
}

type newsletterItem struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Sender   string `json:"sender"`
	Date     string `json:"date,omitempty"`
	Chunks   int    `json:"chunk_count"`
}

type newslettersResponse struct {
	Newsletters []newsletterItem `json:"newsletters"`
}

// Newsletters handles GET /v1/newsletters.
func (s *Server) Newsletters(w http.ResponseWriter, r *http.Request) {
	infos, err := s.stats.Newsletters(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]newsletterItem, len(infos))
	for i, info := range infos {
		items[i] = newsletterItem{
			SourceID: info.SourceID,
			Title:    info.Title,
			Sender:   info.Sender,
			Date:     formatDate(info.Timestamp),
			Chunks:   info.Chunks,
		}
	}
	writeJSON(w, http.StatusOK, newslettersResponse{Newsletters: items})
}

type statsResponse struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Get(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		DocumentCount: st.Documents,
		ChunkCount:    st.Chunks,
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidConfig,
		domain.ErrSourceNotFound,
		domain.ErrEmbeddingUnavailable,
		domain.ErrGenerationUnavailable,
		domain.ErrStoreUnavailable,
		domain.ErrDimensionMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	// Dimension mismatches land here on purpose: a miswired deployment
	// should fail loudly, not degrade quietly.
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", msg)
}
