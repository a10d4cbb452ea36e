package carl

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, client *http.Client, reportDuration bool) *Session {
	t.Helper()
	return NewSession(SessionOptions{
		Client:         client,
		BaseURL:        "http://localhost:11434",
		RequestTimeout: time.Minute,
		ReportDuration: reportDuration,
	})
}

func TestSubmitCommitsSingleAssistantTurn(t *testing.T) {
	require := require.New(t)

	client := streamingClient(t,
		`{"message":{"role":"assistant","content":"He"},"done":false}`,
		`{"message":{"role":"assistant","content":"llo"},"done":false}`,
		`{"done":true}`,
	)
	session := newTestSession(t, client, false)

	var published []string
	err := session.Submit(context.Background(), "llama3", "hi", SinkFunc(func(buffer string) {
		published = append(published, buffer)
	}))
	require.NoError(err)

	turns := session.Transcript().All()
	require.Len(turns, 2)
	assert.Equal(t, Turn{Role: RoleUser, Content: "hi"}, turns[0])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "Hello"}, turns[1])

	// Each publish carries the full buffer so far, in order.
	require.Equal([]string{"He", "Hello"}, published)
}

func TestSubmitDurationAnnotationToggle(t *testing.T) {
	require := require.New(t)

	lines := []string{
		`{"message":{"role":"assistant","content":"He"},"done":false}`,
		`{"message":{"role":"assistant","content":"llo"},"done":false}`,
		`{"done":true}`,
	}

	annotated := newTestSession(t, streamingClient(t, lines...), true)
	require.NoError(annotated.Submit(context.Background(), "llama3", "hi", nil))
	turns := annotated.Transcript().All()
	require.Len(turns, 2)
	require.Regexp(regexp.MustCompile(`^Hello\n\nDuration: [0-9.]+ seconds$`), turns[1].Content)

	plain := newTestSession(t, streamingClient(t, lines...), false)
	require.NoError(plain.Submit(context.Background(), "llama3", "hi", nil))
	turns = plain.Transcript().All()
	require.Len(turns, 2)
	require.Equal("Hello", turns[1].Content)
}

func TestSubmitEmptyStreamCommitsEmptyTurn(t *testing.T) {
	require := require.New(t)

	session := newTestSession(t, streamingClient(t, `{"done":true}`), false)
	require.NoError(session.Submit(context.Background(), "m", "hi", nil))

	turns := session.Transcript().All()
	require.Len(turns, 2)
	require.Equal(Turn{Role: RoleUser, Content: "hi"}, turns[0])
	require.Equal(Turn{Role: RoleAssistant, Content: ""}, turns[1])
}

func TestSubmitFailureAppendsFixedMessageOnly(t *testing.T) {
	require := require.New(t)

	client := streamingClient(t,
		`{"message":{"role":"assistant","content":"partial text"},"done":false}`,
		`{"error":"backend exploded"}`,
	)
	session := newTestSession(t, client, true)

	err := session.Submit(context.Background(), "llama3", "hi", nil)
	require.Error(err)

	turns := session.Transcript().All()
	require.Len(turns, 2)
	require.Equal(RoleAssistant, turns[1].Role)
	require.Equal(FailureMessage, turns[1].Content)
	// The partial buffer never reaches the transcript, and neither does the
	// internal cause.
	require.NotContains(turns[1].Content, "partial")
	require.NotContains(turns[1].Content, "backend exploded")
}

func TestCommitDeduplicatesRepeatedCalls(t *testing.T) {
	require := require.New(t)

	session := newTestSession(t, nil, false)
	session.Transcript().Append(Turn{Role: RoleUser, Content: "hi"})

	require.True(session.Commit(context.Background(), "Hello", time.Second))
	require.False(session.Commit(context.Background(), "Hello", time.Second))

	require.Equal(2, session.Transcript().Len())
}

func TestCommitRequiresUnansweredUserTurn(t *testing.T) {
	require := require.New(t)

	session := newTestSession(t, nil, false)
	require.False(session.Commit(context.Background(), "Hello", 0))
	require.Equal(0, session.Transcript().Len())
}

func TestFailAppendsUnconditionally(t *testing.T) {
	require := require.New(t)

	session := newTestSession(t, nil, false)
	session.Transcript().Append(Turn{Role: RoleUser, Content: "hi"})

	session.Fail(context.Background(), io.ErrUnexpectedEOF)

	turns := session.Transcript().All()
	require.Len(turns, 2)
	require.Equal(FailureMessage, turns[1].Content)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	session := newTestSession(t, nil, false)
	err := session.Submit(context.Background(), "llama3", "   ", nil)
	require.Error(t, err)
	require.Equal(t, 0, session.Transcript().Len())
}

func TestSubmitRejectsConcurrentInvocation(t *testing.T) {
	require := require.New(t)

	pr, pw := io.Pipe()
	client := &http.Client{
		Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       pr,
			}, nil
		}),
	}
	session := newTestSession(t, client, false)

	firstFragment := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		var once bool
		done <- session.Submit(context.Background(), "llama3", "hi", SinkFunc(func(string) {
			if !once {
				once = true
				close(firstFragment)
			}
		}))
	}()

	_, err := pw.Write([]byte(`{"message":{"role":"assistant","content":"a"},"done":false}` + "\n"))
	require.NoError(err)
	<-firstFragment

	err = session.Submit(context.Background(), "llama3", "again", nil)
	require.ErrorIs(err, ErrBusy)

	_, err = pw.Write([]byte(`{"done":true}` + "\n"))
	require.NoError(err)
	require.NoError(pw.Close())
	require.NoError(<-done)

	// The rejected submission left no trace.
	turns := session.Transcript().All()
	require.Len(turns, 2)
	require.Equal("hi", turns[0].Content)
}

func TestAlternationInvariantAcrossOutcomes(t *testing.T) {
	require := require.New(t)

	responses := [][]string{
		{`{"message":{"role":"assistant","content":"one"},"done":false}`, `{"done":true}`},
		{`{"error":"boom"}`},
		{`{"message":{"role":"assistant","content":"three"},"done":false}`, `{"done":true}`},
	}
	call := 0
	client := &http.Client{
		Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
			resp := ndjsonResponse(responses[call]...)
			call++
			return resp, nil
		}),
	}
	session := newTestSession(t, client, false)

	_ = session.Submit(context.Background(), "llama3", "first", nil)
	_ = session.Submit(context.Background(), "llama3", "second", nil)
	_ = session.Submit(context.Background(), "llama3", "third", nil)

	turns := session.Transcript().All()
	require.Len(turns, 6)
	for i, turn := range turns {
		if i%2 == 0 {
			require.Equal(RoleUser, turn.Role, "turn %d", i)
		} else {
			require.Equal(RoleAssistant, turn.Role, "turn %d", i)
		}
	}
	require.Equal(FailureMessage, turns[3].Content)
}

func TestClearThenSubmitStartsFreshAlternation(t *testing.T) {
	require := require.New(t)

	lines := []string{
		`{"message":{"role":"assistant","content":"again"},"done":false}`,
		`{"done":true}`,
	}
	calls := 0
	client := &http.Client{
		Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
			calls++
			return ndjsonResponse(lines...), nil
		}),
	}
	session := newTestSession(t, client, false)

	require.NoError(session.Submit(context.Background(), "llama3", "hi", nil))
	session.Transcript().Clear()
	require.Equal(0, session.Transcript().Len())

	require.NoError(session.Submit(context.Background(), "llama3", "fresh", nil))
	turns := session.Transcript().All()
	require.Len(turns, 2)
	require.Equal(RoleUser, turns[0].Role)
	require.Equal("fresh", turns[0].Content)
	require.Equal(2, calls)
}
