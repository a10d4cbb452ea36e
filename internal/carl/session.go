package carl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FailureMessage is the fixed assistant reply appended when a response could
// not be generated. The triggering cause is logged, never displayed, so
// backend diagnostics do not leak into the conversation.
const FailureMessage = "An error occurred while generating the response."

// durationAnnotationFormat matches the annotation the assistant appends to a
// response when duration reporting is enabled.
const durationAnnotationFormat = "\n\nDuration: %.2f seconds"

// ErrBusy is returned by Submit while a previous submission is still in
// flight. A session processes one user turn at a time.
var ErrBusy = errors.New("a response is already being generated")

// Sink receives the running response buffer after every fragment so the
// rendering surface can display incremental progress.
type Sink interface {
	Publish(buffer string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(buffer string)

// Publish implements Sink.
func (f SinkFunc) Publish(buffer string) {
	if f != nil {
		f(buffer)
	}
}

// SessionOptions configure a chat session.
type SessionOptions struct {
	// Client used for model server requests. Defaults to http.DefaultClient.
	Client *http.Client
	// BaseURL of the model server. Defaults to DefaultBaseURL.
	BaseURL string
	// RequestTimeout bounds each whole invocation. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
	// ReportDuration appends the elapsed time annotation to committed
	// responses.
	ReportDuration bool
}

// Session owns one conversation: the transcript plus the streaming, commit
// and failure handling for each user turn. Turns strictly alternate; every
// user turn is answered by exactly one assistant turn, either the model's
// response or the fixed failure message.
type Session struct {
	id         string
	client     *http.Client
	baseURL    string
	timeout    time.Duration
	annotate   bool
	transcript *Transcript
	inFlight   atomic.Bool
}

// NewSession builds a session with an empty transcript.
func NewSession(opts SessionOptions) *Session {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Session{
		id:         uuid.NewString(),
		client:     client,
		baseURL:    baseURL,
		timeout:    timeout,
		annotate:   opts.ReportDuration,
		transcript: NewTranscript(),
	}
}

// ID returns the session identifier used for log correlation.
func (s *Session) ID() string {
	return s.id
}

// Transcript exposes the session's conversation history.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Submit processes one user turn end to end: it appends the prompt to the
// transcript, streams the model response while publishing the running buffer
// to sink, and settles the transcript with either the committed response or
// the fixed failure turn. The returned error is the underlying stream cause,
// reported for logging only; the transcript is already repaired when it is
// non-nil.
func (s *Session) Submit(ctx context.Context, model, prompt string, sink Sink) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errors.New("prompt cannot be empty")
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.inFlight.Store(false)

	s.transcript.Append(Turn{Role: RoleUser, Content: prompt})
	logInfo(ctx, "user turn submitted",
		slog.String("session_id", s.id),
		slog.String("model", model),
		slog.Int("prompt_length", len(prompt)))

	started := time.Now()
	finalText, err := s.accumulate(ctx, model, s.transcript.Messages(), sink)
	if err != nil {
		s.Fail(ctx, err)
		return err
	}

	s.Commit(ctx, finalText, time.Since(started))
	return nil
}

// accumulate drives one model invocation to completion. Fragments are
// concatenated in receipt order; after each one the full buffer so far is
// published to sink. On any fault the buffer is discarded and only the cause
// is returned. A stream yielding zero fragments is a successful empty
// response.
func (s *Session) accumulate(ctx context.Context, model string, messages []Message, sink Sink) (string, error) {
	stream, err := ChatStream(ctx, s.client, s.baseURL, model, messages, s.timeout)
	if err != nil {
		return "", err
	}

	var (
		buffer    strings.Builder
		fragments int
	)

	for fragment := range stream.Fragments {
		buffer.WriteString(fragment)
		fragments++
		if sink != nil {
			sink.Publish(buffer.String())
		}
	}

	if streamErr := stream.Err(); streamErr != nil {
		return "", streamErr
	}

	logInfo(ctx, "response accumulated",
		slog.String("session_id", s.id),
		slog.Int("fragment_count", fragments),
		slog.Int("response_length", buffer.Len()))

	return buffer.String(), nil
}

// Commit folds a completed response into the transcript as a single
// assistant turn, annotated with the elapsed duration when reporting is
// enabled. When the last turn is not an unanswered user turn the commit is a
// benign no-op, which is what makes repeated commits for the same user turn
// safe. Reports whether a turn was appended.
func (s *Session) Commit(ctx context.Context, finalText string, elapsed time.Duration) bool {
	if role, ok := s.transcript.LastRole(); !ok || role != RoleUser {
		logDebug(ctx, "duplicate commit ignored",
			slog.String("session_id", s.id))
		return false
	}

	content := finalText
	if s.annotate {
		content += fmt.Sprintf(durationAnnotationFormat, elapsed.Seconds())
	}

	s.transcript.Append(Turn{Role: RoleAssistant, Content: content})
	logInfo(ctx, "assistant turn committed",
		slog.String("session_id", s.id),
		slog.Int("content_length", len(content)),
		slog.Float64("duration_seconds", elapsed.Seconds()))
	return true
}

// Fail closes the outstanding user turn with the fixed failure message. It
// appends unconditionally: a failure always settles the current turn
// regardless of prior state. The cause goes to the log only.
func (s *Session) Fail(ctx context.Context, cause error) {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	logError(ctx, "stream failed",
		slog.String("session_id", s.id),
		slog.Bool("timeout", IsTimeoutError(cause)),
		slog.Bool("transient", IsTransientError(cause)),
		slog.String("error", msg))

	s.transcript.Append(Turn{Role: RoleAssistant, Content: FailureMessage})
}
