// Package httpapi exposes the RAG pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ragqa/internal/chunker"
	"ragqa/internal/config"
	"ragqa/internal/domain"
	"ragqa/internal/metrics"
	"ragqa/internal/service"
)

const maxBodyBytes = 8 << 20

// Service is the pipeline surface the HTTP adapter needs.
type Service interface {
	ChunkOptions() chunker.Options
	Ingest(ctx context.Context, doc domain.Document, opts chunker.Options) (service.IngestResult, error)
	Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievedUnit, error)
	Ask(ctx context.Context, q domain.RetrievalQuery) (domain.Answer, error)
	Collections(ctx context.Context) ([]string, error)
}

// IngestRequest is the body of POST /v1/documents. Chunk parameters override
// the configured defaults when set.
type IngestRequest struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text"`
	SourceName  string `json:"source_name"`
	ContentType string `json:"content_type,omitempty"`
	ChunkSize   *int   `json:"chunk_size,omitempty"`
	Overlap     *int   `json:"overlap,omitempty"`
}

// RetrieveResponse is the body returned by POST /v1/retrieve.
type RetrieveResponse struct {
	Units []domain.RetrievedUnit `json:"units"`
}

// CollectionsResponse is the body returned by GET /collections.
type CollectionsResponse struct {
	Collections []string `json:"collections"`
}

// Server serves the pipeline endpoints.
type Server struct {
	svc     Service
	cfg     config.ServerConfig
	metrics *metrics.Metrics
	limiter *rate.Limiter
	log     zerolog.Logger
	handler http.Handler
}

// NewServer builds the routes and middleware. m may be nil.
func NewServer(svc Service, cfg config.ServerConfig, m *metrics.Metrics, log zerolog.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "http").Logger(),
	}
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /collections", s.handleCollections)
	mux.HandleFunc("POST /v1/documents", s.handleIngest)
	mux.HandleFunc("POST /v1/retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /v1/query", s.handleQuery)

	s.handler = s.observe(s.cors(s.rateLimit(mux)))
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on the configured address until ctx is cancelled, then drains
// in-flight requests for the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info().Dur("timeout", timeout).Msg("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.Collections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CollectionsResponse{Collections: names})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	opts := s.svc.ChunkOptions()
	if req.ChunkSize != nil {
		opts.ChunkSize = *req.ChunkSize
	}
	if req.Overlap != nil {
		opts.Overlap = *req.Overlap
	}
	res, err := s.svc.Ingest(r.Context(), domain.Document{
		ID:          req.ID,
		RawText:     req.Text,
		SourceName:  req.SourceName,
		ContentType: req.ContentType,
	}, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	units, err := s.svc.Retrieve(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if units == nil {
		units = []domain.RetrievedUnit{}
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Units: units})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	ans, err := s.svc.Ask(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if ans.SourceUnits == nil {
		ans.SourceUnits = []domain.RetrievedUnit{}
	}
	writeJSON(w, http.StatusOK, ans)
}

// decodeQuery reports malformed bodies as invalid queries.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (domain.RetrievalQuery, bool) {
	var q domain.RetrievalQuery
	if err := decodeJSON(w, r, &q, maxBodyBytes); err != nil {
		writeError(w, domain.NewError(domain.StageRetrieval, domain.ErrInvalidQuery, "malformed body", err))
		return q, false
	}
	return q, true
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			if slices.Contains(s.cfg.CORSOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) bool {
	return slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
}

// observe logs every request and records it under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), elapsed)

		ev := s.log.Info()
		if rec.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Error: "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
