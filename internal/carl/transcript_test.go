package carl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendAndAll(t *testing.T) {
	tr := NewTranscript()
	require.Equal(t, 0, tr.Len())

	tr.Append(Turn{Role: RoleUser, Content: "hi"})
	tr.Append(Turn{Role: RoleAssistant, Content: "hello"})

	turns := tr.All()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.Equal(t, "hello", turns[1].Content)
}

func TestTranscriptAllReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Append(Turn{Role: RoleUser, Content: "hi"})

	turns := tr.All()
	turns[0].Content = "mutated"

	require.Equal(t, "hi", tr.All()[0].Content)
}

func TestTranscriptLastRole(t *testing.T) {
	tr := NewTranscript()

	_, ok := tr.LastRole()
	require.False(t, ok)

	tr.Append(Turn{Role: RoleUser, Content: "hi"})
	role, ok := tr.LastRole()
	require.True(t, ok)
	assert.Equal(t, RoleUser, role)

	tr.Append(Turn{Role: RoleAssistant, Content: "hello"})
	role, ok = tr.LastRole()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, role)
}

func TestTranscriptClearIsIdempotent(t *testing.T) {
	tr := NewTranscript()
	tr.Append(Turn{Role: RoleUser, Content: "hi"})

	tr.Clear()
	require.Equal(t, 0, tr.Len())
	_, ok := tr.LastRole()
	require.False(t, ok)

	tr.Clear()
	require.Equal(t, 0, tr.Len())
}

func TestTranscriptMessagesProjection(t *testing.T) {
	tr := NewTranscript()
	tr.Append(Turn{Role: RoleUser, Content: "question"})
	tr.Append(Turn{Role: RoleAssistant, Content: "answer"})

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, Message{Role: "user", Content: "question"}, msgs[0])
	assert.Equal(t, Message{Role: "assistant", Content: "answer"}, msgs[1])
}
