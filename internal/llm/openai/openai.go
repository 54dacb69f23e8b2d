// Package openai provides a chat completions model over the OpenAI API or
// any compatible server, in batch and server-sent-event streaming modes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"docrag/internal/domain"
)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 800
)

const provider = "openai chat"

// Config holds configuration for the chat model.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the chat model to use (default: gpt-4o-mini).
	Model string

	// Timeout bounds batch requests. Streams are bounded by the caller's context.
	Timeout time.Duration

	MaxTokens   int
	Temperature float64
}

// Model implements domain.Model.
type Model struct {
	client       *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int
	temperature  float64
}

var _ domain.Model = (*Model)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// New creates a chat model. It fails with domain.ErrMissingCredential when
// no API key is set.
func New(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", provider, domain.ErrMissingCredential)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Model{
		client:       &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
	}, nil
}

// Name returns the configured model name.
func (m *Model) Name() string { return m.model }

func (m *Model) newRequest(ctx context.Context, prompt string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       m.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// Generate returns the full completion for prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	req, err := m.newRequest(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &domain.ProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ProviderError{Provider: provider, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &domain.ProviderError{Provider: provider, Status: resp.StatusCode, Err: errors.New(errorMessage(body))}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &domain.ProviderError{Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != nil {
		return "", &domain.ProviderError{Provider: provider, Err: errors.New(out.Error.Message)}
	}
	if len(out.Choices) == 0 {
		return "", &domain.ProviderError{Provider: provider, Err: errors.New("no response choices returned")}
	}
	return out.Choices[0].Message.Content, nil
}

func errorMessage(body []byte) string {
	var out chatResponse
	if json.Unmarshal(body, &out) == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Stream starts a streamed completion. The returned stream must be closed.
func (m *Model) Stream(ctx context.Context, prompt string) (domain.TokenStream, error) {
	req, err := m.newRequest(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	resp, err := m.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ProviderError{Provider: provider, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.ProviderError{Provider: provider, Status: resp.StatusCode, Err: errors.New(errorMessage(body))}
	}
	return newEventStream(ctx, resp.Body), nil
}

// eventStream decodes "data: " lines from a server-sent-event body. Bytes
// after the last newline are held until the next read completes the line.
type eventStream struct {
	ctx     context.Context
	body    io.ReadCloser
	buf     []byte
	readBuf []byte
	pending []string
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(ctx context.Context, body io.ReadCloser) *eventStream {
	return &eventStream{ctx: ctx, body: body, readBuf: make([]byte, 4096)}
}

func (s *eventStream) Recv() (string, error) {
	for {
		if len(s.pending) > 0 {
			tok := s.pending[0]
			s.pending = s.pending[1:]
			return tok, nil
		}
		if s.done {
			return "", io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.buf = append(s.buf, s.readBuf[:n]...)
			s.drainLines()
			continue
		}
		if errors.Is(err, io.EOF) {
			// unterminated trailing line is discarded
			s.buf = nil
			s.done = true
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return "", s.ctx.Err()
			}
			return "", &domain.ProviderError{Provider: provider, Err: fmt.Errorf("read stream: %w", err)}
		}
	}
}

// drainLines moves every complete line out of buf and queues its token.
func (s *eventStream) drainLines() {
	for !s.done {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimRight(string(s.buf[:i]), "\r")
		s.buf = s.buf[i+1:]

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			s.buf = nil
			return
		}
		var chunk chatChunk
		if json.Unmarshal([]byte(data), &chunk) != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			s.pending = append(s.pending, chunk.Choices[0].Delta.Content)
		}
	}
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.body.Close() })
	return s.closeErr
}
