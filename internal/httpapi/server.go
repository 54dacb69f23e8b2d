// Package httpapi exposes upload, query and streamed query endpoints over
// HTTP. It holds no retrieval logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"docrag/internal/domain"
	"docrag/internal/ingest"
	"docrag/internal/metrics"
)

// Uploader stores and ingests one uploaded file.
type Uploader interface {
	Upload(ctx context.Context, dir, filename string, r io.Reader) (ingest.Result, string, error)
}

// Answerer answers questions in one shot or as an event stream.
type Answerer interface {
	Answer(ctx context.Context, query string, topK int) (domain.Answer, error)
	Stream(ctx context.Context, query string, topK int) <-chan domain.StreamEvent
}

// Counter reports how many records are indexed.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Config carries the transport settings.
type Config struct {
	UploadDir string
	TopK      int
	// MaxUploadBytes caps request bodies on /upload.
	MaxUploadBytes int64
	// RequestsPerSecond limits each client address; zero disables limiting.
	RequestsPerSecond float64
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	uploader Uploader
	answerer Answerer
	counter  Counter
	limiter  *RateLimiter
	logger   *slog.Logger
}

func New(cfg Config, uploader Uploader, answerer Answerer, counter Counter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	s := &Server{cfg: cfg, uploader: uploader, answerer: answerer, counter: counter, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = NewRateLimiter(cfg.RequestsPerSecond, max(1, int(cfg.RequestsPerSecond)))
	}
	return s
}

// Handler returns the routed handler with CORS and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.Upload)
	mux.HandleFunc("GET /query", s.Query)
	mux.HandleFunc("POST /query", s.Query)
	mux.HandleFunc("GET /query/stream", s.QueryStream)
	mux.HandleFunc("POST /query/stream", s.QueryStream)
	mux.HandleFunc("GET /healthz", s.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return s.logRequests(withCORS(h))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, traceparent, tracestate, X-File-Name")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
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

// Flush keeps streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
