package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexOfModel(t *testing.T) {
	models := []string{"llama3.2:1b", "llama3.1", "tinyllama"}

	assert.Equal(t, 0, indexOfModel(models, "llama3.2:1b"))
	assert.Equal(t, 2, indexOfModel(models, "tinyllama"))
	// Unknown names fall back to the first entry.
	assert.Equal(t, 0, indexOfModel(models, "no-such-model"))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 20, clampInt(3, 20, 120))
	assert.Equal(t, 60, clampInt(60, 20, 120))
	assert.Equal(t, 120, clampInt(400, 20, 120))
}

func TestContentWidthTracksWindowSize(t *testing.T) {
	m := &model{width: 80}
	assert.Equal(t, 78, m.contentWidth())

	m.width = 10
	assert.Equal(t, 20, m.contentWidth())

	m.width = 500
	assert.Equal(t, 120, m.contentWidth())
}
