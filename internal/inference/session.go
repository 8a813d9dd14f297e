// Package inference executes one prompt invocation against a model with
// incremental output and cancellation.
package inference

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/llm"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/pkg/tokenizer"
)

// Streamer is the slice of llm.Gateway a session needs.
type Streamer interface {
	ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

// Attribution ties a run back to what produced it.
type Attribution struct {
	PromptID     *uuid.UUID `json:"prompt_id,omitempty"`
	VersionID    *uuid.UUID `json:"version_id,omitempty"`
	DeploymentID *uuid.UUID `json:"deployment_id,omitempty"`
	ExperimentID *uuid.UUID `json:"experiment_id,omitempty"`
	VariantID    *uuid.UUID `json:"experiment_variant_id,omitempty"`
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Variables    map[string]string
	Model        string
	Temperature  float64
	MaxTokens    int
	Attribution  Attribution
}

// Result is the record of one run. Token counts fall back to the
// four-characters-per-token estimate when the vendor reports none, and the
// cost is always an estimate.
type Result struct {
	ID                 uuid.UUID            `json:"id"`
	Text               string               `json:"text"`
	Model              string               `json:"model"`
	Status             models.OutcomeStatus `json:"status"`
	SystemPrompt       string               `json:"system_prompt"`
	UserPrompt         string               `json:"user_prompt"`
	Temperature        float64              `json:"temperature"`
	MaxTokens          int                  `json:"max_tokens"`
	StartedAt          time.Time            `json:"started_at"`
	LatencyMs          int64                `json:"latency_ms"`
	InputTokens        int                  `json:"input_tokens"`
	OutputTokens       int                  `json:"output_tokens"`
	TotalTokens        int                  `json:"total_tokens"`
	EstimatedCostCents float64              `json:"estimated_cost_cents"`
	Error              string               `json:"error,omitempty"`
	Attribution        Attribution          `json:"attribution"`
}

type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one item of a stream. Exactly one done or error event ends a
// stream that was not cancelled.
type Event struct {
	Type   EventType
	Text   string
	Result *Result
	Err    error
}

// CompletionHook observes every run that ends in success or error, before
// the terminal event is delivered. Cancelled runs are not reported.
type CompletionHook func(ctx context.Context, req Request, res *Result)

type Session struct {
	streamer Streamer
	hook     CompletionHook
	now      func() time.Time
}

type SessionOption func(*Session)

func WithCompletionHook(h CompletionHook) SessionOption {
	return func(s *Session) { s.hook = h }
}

func NewSession(streamer Streamer, opts ...SessionOption) *Session {
	s := &Session{streamer: streamer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream is a running invocation.
type Stream struct {
	events    chan Event
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled atomic.Bool
	result    atomic.Pointer[Result]
}

// Events yields chunks followed by one terminal event, then closes. After
// Cancel nothing further is delivered.
func (st *Stream) Events() <-chan Event { return st.events }

// Done is closed once the run has fully stopped.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Cancel stops the run. It is safe to call any number of times from any
// goroutine.
func (st *Stream) Cancel() {
	if st.cancelled.CompareAndSwap(false, true) {
		st.cancel()
	}
}

// Result returns the final record, or nil while the run is in flight.
func (st *Stream) Result() *Result { return st.result.Load() }

func (st *Stream) emit(ctx context.Context, ev Event) bool {
	if st.cancelled.Load() {
		return false
	}
	select {
	case st.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stream starts the invocation on its own goroutine.
func (s *Session) Stream(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, st, req)
	return st
}

func (s *Session) run(ctx context.Context, st *Stream, req Request) {
	defer close(st.done)
	defer close(st.events)
	defer st.cancel()

	res := &Result{
		ID:           uuid.Must(uuid.NewV7()),
		Model:        req.Model,
		SystemPrompt: prompt.Interpolate(req.SystemPrompt, req.Variables),
		UserPrompt:   prompt.Interpolate(req.UserPrompt, req.Variables),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		StartedAt:    s.now().UTC(),
		Attribution:  req.Attribution,
	}

	var messages []llm.Message
	if res.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: res.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: res.UserPrompt})

	chunks, err := s.streamer.ChatStream(ctx, llm.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		s.finish(ctx, st, req, res, "", llm.StreamChunk{}, err)
		return
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			s.finish(ctx, st, req, res, text.String(), llm.StreamChunk{}, ctx.Err())
			return
		case c, ok := <-chunks:
			if !ok {
				// provider closed without a final chunk
				s.finish(ctx, st, req, res, text.String(), llm.StreamChunk{Done: true}, nil)
				return
			}
			if c.Error != nil {
				s.finish(ctx, st, req, res, text.String(), c, c.Error)
				return
			}
			if c.Content != "" {
				text.WriteString(c.Content)
				if !st.emit(ctx, Event{Type: EventChunk, Text: c.Content}) {
					s.finish(ctx, st, req, res, text.String(), llm.StreamChunk{}, context.Canceled)
					return
				}
			}
			if c.Done {
				s.finish(ctx, st, req, res, text.String(), c, nil)
				return
			}
		}
	}
}

func (s *Session) finish(ctx context.Context, st *Stream, req Request, res *Result, text string, last llm.StreamChunk, runErr error) {
	res.Text = text
	res.LatencyMs = s.now().Sub(res.StartedAt).Milliseconds()

	res.InputTokens = last.InputTokens
	if res.InputTokens == 0 {
		res.InputTokens = tokenizer.CountTokens(res.SystemPrompt) + tokenizer.CountTokens(res.UserPrompt)
	}
	res.OutputTokens = last.OutputTokens
	if res.OutputTokens == 0 {
		res.OutputTokens = tokenizer.CountTokens(text)
	}
	res.TotalTokens = res.InputTokens + res.OutputTokens
	res.EstimatedCostCents = llm.EstimateCostCents(res.Model, res.InputTokens, res.OutputTokens)

	cancelled := st.cancelled.Load() || ctx.Err() != nil
	switch {
	case cancelled:
		res.Status = models.OutcomeCancelled
		res.Error = apperr.ErrCancelled.Error()
	case runErr != nil:
		res.Status = models.OutcomeError
		res.Error = runErr.Error()
	default:
		res.Status = models.OutcomeSuccess
	}
	st.result.Store(res)

	if cancelled {
		return
	}
	if s.hook != nil {
		s.hook(context.WithoutCancel(ctx), req, res)
	}

	if runErr != nil {
		st.emit(ctx, Event{Type: EventError, Result: res, Err: upstream(runErr)})
		return
	}
	st.emit(ctx, Event{Type: EventDone, Result: res})
}

func upstream(err error) error {
	var ue *apperr.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &apperr.UpstreamError{Message: err.Error()}
}

// Run blocks until the invocation ends. A cancelled run returns the partial
// result with apperr.ErrCancelled.
func (s *Session) Run(ctx context.Context, req Request) (*Result, error) {
	st := s.Stream(ctx, req)
	for ev := range st.Events() {
		switch ev.Type {
		case EventDone:
			<-st.Done()
			return ev.Result, nil
		case EventError:
			<-st.Done()
			return ev.Result, ev.Err
		}
	}
	<-st.Done()
	return st.Result(), apperr.ErrCancelled
}

// CancelFunc stops a RunStreaming invocation.
type CancelFunc func()

// RunStreaming delivers the run through callbacks on a separate goroutine.
// Unless cancelled, exactly one of onDone or onError is called, after every
// onChunk. No callback starts once the returned CancelFunc has been called.
func (s *Session) RunStreaming(ctx context.Context, req Request, onChunk func(text string), onDone func(*Result), onError func(error)) CancelFunc {
	st := s.Stream(ctx, req)
	go func() {
		for ev := range st.Events() {
			if st.cancelled.Load() {
				continue
			}
			switch ev.Type {
			case EventChunk:
				if onChunk != nil {
					onChunk(ev.Text)
				}
			case EventDone:
				if onDone != nil {
					onDone(ev.Result)
				}
			case EventError:
				if onError != nil {
					onError(ev.Err)
				}
			}
		}
	}()
	return st.Cancel
}
