package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"docrag/internal/domain"
)

type uploadResponse struct {
	Success   bool   `json:"success"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Hash      string `json:"hash"`
}

// Upload handles POST /upload. The file is either the raw body named by the
// X-File-Name header or the "file" field of a multipart form.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	filename := r.Header.Get("X-File-Name")
	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, uploadStatus(err), "Missing file field: "+err.Error())
			return
		}
		defer file.Close()
		filename, body = header.Filename, file
	}
	if filename == "" {
		writeError(w, http.StatusBadRequest, "Missing X-File-Name header")
		return
	}

	res, hash, err := s.uploader.Upload(r.Context(), s.cfg.UploadDir, filename, body)
	if err != nil {
		status := uploadStatus(err)
		msg := err.Error()
		if status == http.StatusConflict {
			msg = "Document already exists"
		}
		s.logger.Warn("upload rejected", "file", filename, "status", status, "error", err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Documents: res.Documents, Chunks: res.Chunks, Hash: hash})
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, http.ErrMissingFile) {
		return http.StatusBadRequest
	}
	return statusFor(err)
}

type queryRequest struct {
	Q    string `json:"q"`
	TopK int    `json:"topK"`
}

// parseQuery reads q and topK from the URL, or from a JSON body on POST.
func (s *Server) parseQuery(r *http.Request) (queryRequest, error) {
	req := queryRequest{Q: r.URL.Query().Get("q")}
	if v := r.URL.Query().Get("topK"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("topK %q: %w", v, domain.ErrInvalidInput)
		}
		req.TopK = k
	}
	if req.Q == "" && r.Method == http.MethodPost {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("decode body: %w", domain.ErrInvalidInput)
		}
	}
	if strings.TrimSpace(req.Q) == "" {
		return req, fmt.Errorf("missing query: %w", domain.ErrInvalidInput)
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.TopK
	}
	return req, nil
}

// Query handles GET/POST /query and returns the answer as JSON. A failed
// answer is still returned as the body, with status 500.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ans, err := s.answerer.Answer(r.Context(), req.Q, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ans)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// QueryStream handles /query/stream as server-sent events: token events,
// one sources event, then done. Failures send an error event before done.
func (s *Server) QueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.answerer.Stream(r.Context(), req.Q, req.TopK) {
		if err := writeEvent(w, ev); err != nil {
			s.logger.Debug("stream client gone", "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, ev domain.StreamEvent) error {
	var payload any
	switch ev.Type {
	case domain.EventToken:
		payload = map[string]string{"token": ev.Token}
	case domain.EventSources:
		sources := ev.Sources
		if sources == nil {
			sources = []domain.Source{}
		}
		payload = map[string][]domain.Source{"sources": sources}
	case domain.EventError:
		msg := "stream failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		payload = map[string]string{"error": msg}
	case domain.EventDone:
		_, err := fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
		return err
	default:
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// Health handles GET /healthz. It reports 503 when the store cannot be read.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	n, err := s.counter.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Records: n})
}
