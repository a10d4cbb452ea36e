package carl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carl-labs/carl/internal/meta"
)

const (
	defaultScannerCapacity = 1024 * 1024 // 1 MiB buffer for large NDJSON payloads
	chatPathSegment        = "api/chat"
	tagsPathSegment        = "api/tags"

	// DefaultBaseURL is the conventional local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultRequestTimeout bounds a whole chat invocation, not individual
	// fragments. Exceeding it is a stream failure, never a silent truncation.
	DefaultRequestTimeout = 240 * time.Second
)

// Message is one entry of the conversation history as sent over the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result captures the aggregated response of a completed chat invocation.
type Result struct {
	Model     string `json:"model"     yaml:"model"`
	Prompt    string `json:"prompt"    yaml:"prompt"`
	Response  string `json:"response"  yaml:"response"`
	Fragments int    `json:"fragments" yaml:"fragments"`
}

// ModelInfo describes one model known to the backing server.
type ModelInfo struct {
	Name       string    `json:"name"        yaml:"name"`
	Size       int64     `json:"size"        yaml:"size"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// Stream represents an active chat invocation returning text fragments
// incrementally. The fragment sequence is finite and not restartable; a fresh
// invocation must be started to retry.
type Stream struct {
	Fragments <-chan string
	err       <-chan error
}

// Err blocks until the underlying stream completes and returns the terminal
// error, if any.
func (s *Stream) Err() error {
	if s == nil {
		return nil
	}
	return <-s.err
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatChunk is one NDJSON line of the streaming chat response.
type chatChunk struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error"`
}

// ChatStream opens a streaming chat completion against an Ollama compatible
// server. Fragments are delivered in receipt order; the channel closes on
// clean termination and Err reports the terminal failure otherwise. The
// timeout governs the whole invocation; zero selects DefaultRequestTimeout.
func ChatStream(
	ctx context.Context,
	client *http.Client,
	baseURL, model string,
	messages []Message,
	timeout time.Duration,
) (*Stream, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("model cannot be empty")
	}
	if len(messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	endpoint, err := url.JoinPath(baseURL, chatPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct chat endpoint: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("User-Agent", meta.CLIName)

	logDebug(ctx, "chat request",
		slog.String("endpoint", endpoint),
		slog.String("model", model),
		slog.Int("message_count", len(messages)))

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		err = wrapIfTransient(err)
		logError(ctx, "chat request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to execute chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		logError(ctx, "chat unexpected status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("snippet", truncateSnippet(strings.TrimSpace(string(snippet)), 512)))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	logDebug(ctx, "chat stream established",
		slog.String("endpoint", endpoint),
		slog.String("model", model))

	fragments := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(fragments)
		defer close(errCh)

		err := decodeChunks(reqCtx, resp.Body, func(text string) error {
			logTrace(ctx, "chat fragment",
				slog.Int("length", len(text)))
			select {
			case <-reqCtx.Done():
				return reqCtx.Err()
			case fragments <- text:
				return nil
			}
		})
		if err != nil {
			err = wrapIfTransient(err)
			if !errors.Is(err, context.Canceled) {
				logError(ctx, "chat stream error",
					slog.String("endpoint", endpoint),
					slog.String("error", err.Error()))
			}
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return &Stream{
		Fragments: fragments,
		err:       errCh,
	}, nil
}

// decodeChunks reads NDJSON chat chunks from r and invokes onFragment for
// every piece of assistant text, in receipt order, until the server reports
// completion.
func decodeChunks(ctx context.Context, r io.Reader, onFragment func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScannerCapacity)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to decode chat chunk: %w", err)
		}

		if chunk.Error != "" {
			return fmt.Errorf("model server error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			if err := onFragment(chunk.Message.Content); err != nil {
				return err
			}
		}

		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read chat response: %w", err)
	}

	// The server closed the connection without a done chunk.
	return io.ErrUnexpectedEOF
}

// Chat executes a single prompt and aggregates the streamed fragments into
// one Result. The transcript seeded into messages is sent as-is; the prompt
// must already be its final user entry.
func Chat(
	ctx context.Context,
	client *http.Client,
	baseURL, model string,
	messages []Message,
	timeout time.Duration,
) (*Result, error) {
	stream, err := ChatStream(ctx, client, baseURL, model, messages, timeout)
	if err != nil {
		return nil, err
	}

	var (
		response  strings.Builder
		fragments int
	)

	for fragment := range stream.Fragments {
		response.WriteString(fragment)
		fragments++
	}

	if streamErr := stream.Err(); streamErr != nil {
		return nil, streamErr
	}

	prompt := ""
	if n := len(messages); n > 0 {
		prompt = messages[n-1].Content
	}

	logInfo(ctx, "chat stream completed",
		slog.String("model", model),
		slog.Int("fragment_count", fragments),
		slog.Int("response_length", response.Len()))

	return &Result{
		Model:     model,
		Prompt:    prompt,
		Response:  response.String(),
		Fragments: fragments,
	}, nil
}

// ListModels retrieves the models available on the backing server.
func ListModels(ctx context.Context, client *http.Client, baseURL string) ([]ModelInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, tagsPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct tags endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tags request: %w", err)
	}
	req.Header.Set("User-Agent", meta.CLIName)

	resp, err := client.Do(req)
	if err != nil {
		err = wrapIfTransient(err)
		logError(ctx, "list models request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to execute tags request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}

	logInfo(ctx, "models listed",
		slog.Int("count", len(payload.Models)))

	return payload.Models, nil
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
