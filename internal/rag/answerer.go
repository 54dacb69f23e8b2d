// Package rag answers questions from retrieved document chunks. It builds a
// numbered-context prompt, calls the model once and maps the citations in
// the reply back to the retrieved records.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docrag/internal/domain"
	"docrag/internal/llm"
	"docrag/internal/metrics"
)

// NoContextAnswer is returned, without calling the model, when retrieval
// finds nothing.
const NoContextAnswer = "I don't have enough context to answer that question. Try ingesting relevant documents first."

// FailedAnswer is the answer text of a failed query.
const FailedAnswer = "Sorry, an error occurred while generating the answer."

const (
	DefaultTopK          = 3
	DefaultSnippetLength = 200
	// StreamBuffer bounds the event channel returned by Stream.
	StreamBuffer = 16
)

// Answerer runs the retrieval-augmented answer chain.
type Answerer struct {
	retriever  domain.Retriever
	model      domain.Model
	logger     *slog.Logger
	snippetLen int
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Answerer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSnippetLength bounds source snippets to n runes.
func WithSnippetLength(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.snippetLen = n
		}
	}
}

func New(retriever domain.Retriever, model domain.Model, opts ...Option) *Answerer {
	a := &Answerer{
		retriever:  retriever,
		model:      model,
		logger:     slog.Default(),
		snippetLen: DefaultSnippetLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildPrompt numbers each retrieved context [1], [2], ... in retrieval order.
func BuildPrompt(query string, results []domain.RetrievalResult) string {
	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Record.Text
	}
	return llm.Prompt{Question: query, Contexts: contexts}.Render()
}

// retrieve treats a store without any corpus as an empty result.
func (a *Answerer) retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	ctx, span := metrics.StartSpan(ctx, "rag.retrieve", attribute.Int("top_k", topK))
	defer span.End()

	results, err := a.retriever.SimilaritySearch(ctx, query, topK)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func normalize(query string, topK int) (string, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", 0, fmt.Errorf("empty query: %w", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return query, topK, nil
}

// Answer retrieves topK contexts and asks the model once. On failure it
// returns a failed Answer together with the error.
func (a *Answerer) Answer(ctx context.Context, query string, topK int) (domain.Answer, error) {
	start := time.Now()
	defer func() { metrics.QueryDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds()) }()

	ctx, span := metrics.StartSpan(ctx, "rag.answer", attribute.String("model", a.model.Name()))
	defer span.End()

	fail := func(err error) (domain.Answer, error) {
		metrics.Queries.WithLabelValues("batch", "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("answer failed", "query", query, "error", err)
		return domain.Answer{Answer: FailedAnswer, Sources: []domain.Source{}, Failed: true, Error: err.Error()}, err
	}

	query, topK, err := normalize(query, topK)
	if err != nil {
		return fail(err)
	}
	results, err := a.retrieve(ctx, query, topK)
	if err != nil {
		return fail(err)
	}
	if len(results) == 0 {
		metrics.Queries.WithLabelValues("batch", "no_context").Inc()
		a.logger.Info("no context retrieved", "query", query)
		return domain.Answer{Answer: NoContextAnswer, Sources: []domain.Source{}}, nil
	}

	metrics.ModelInvocations.WithLabelValues(a.model.Name(), "batch").Inc()
	raw, err := a.model.Generate(ctx, BuildPrompt(query, results))
	if err != nil {
		return fail(fmt.Errorf("generate: %w", err))
	}

	text, refs := ExtractCitations(raw, len(results))
	if len(refs) == 0 {
		refs = fallbackRefs(len(results), topK)
	}
	metrics.Queries.WithLabelValues("batch", "answered").Inc()
	a.logger.Info("query answered", "query", query, "contexts", len(results), "sources", len(refs))
	return domain.Answer{Answer: text, Sources: buildSources(results, refs, a.snippetLen)}, nil
}

// Stream answers like Answer but forwards model fragments as token events as
// they arrive. The channel carries tokens, then one sources event, then a
// done event, and is closed afterwards. Failures produce an error event
// followed by done. Cancelling ctx closes the model stream and the channel.
func (a *Answerer) Stream(ctx context.Context, query string, topK int) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent, StreamBuffer)
	go func() {
		defer close(events)
		start := time.Now()
		defer func() { metrics.QueryDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds()) }()
		outcome := a.stream(ctx, query, topK, events)
		metrics.Queries.WithLabelValues("stream", outcome).Inc()
	}()
	return events
}

// stream runs one streamed answer and reports its outcome label.
func (a *Answerer) stream(ctx context.Context, query string, topK int, events chan<- domain.StreamEvent) string {
	ctx, span := metrics.StartSpan(ctx, "rag.stream", attribute.String("model", a.model.Name()))
	defer span.End()

	send := func(ev domain.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) string {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("stream failed", "query", query, "error", err)
		if send(domain.StreamEvent{Type: domain.EventError, Err: err}) {
			send(domain.StreamEvent{Type: domain.EventDone})
		}
		return "failed"
	}

	query, topK, err := normalize(query, topK)
	if err != nil {
		return fail(err)
	}
	results, err := a.retrieve(ctx, query, topK)
	if err != nil {
		return fail(err)
	}
	if len(results) == 0 {
		a.logger.Info("no context retrieved", "query", query)
		_ = send(domain.StreamEvent{Type: domain.EventToken, Token: NoContextAnswer}) &&
			send(domain.StreamEvent{Type: domain.EventSources, Sources: []domain.Source{}}) &&
			send(domain.StreamEvent{Type: domain.EventDone})
		return "no_context"
	}

	metrics.ModelInvocations.WithLabelValues(a.model.Name(), "stream").Inc()
	ts, err := a.model.Stream(ctx, BuildPrompt(query, results))
	if err != nil {
		return fail(fmt.Errorf("stream: %w", err))
	}
	defer ts.Close()

	// Recv may block on the network; closing the stream unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = ts.Close() })
	defer stop()

	var full strings.Builder
	var filter citationFilter
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			return fail(fmt.Errorf("stream: %w", err))
		}
		full.WriteString(tok)
		if out := filter.push(tok); out != "" {
			if !send(domain.StreamEvent{Type: domain.EventToken, Token: out}) {
				return "cancelled"
			}
		}
	}
	if out := filter.flush(); out != "" {
		if !send(domain.StreamEvent{Type: domain.EventToken, Token: out}) {
			return "cancelled"
		}
	}

	_, refs := ExtractCitations(full.String(), len(results))
	if len(refs) == 0 {
		refs = fallbackRefs(len(results), topK)
	}
	if !send(domain.StreamEvent{Type: domain.EventSources, Sources: buildSources(results, refs, a.snippetLen)}) {
		return "cancelled"
	}
	send(domain.StreamEvent{Type: domain.EventDone})
	a.logger.Info("query streamed", "query", query, "contexts", len(results), "sources", len(refs))
	return "answered"
}
