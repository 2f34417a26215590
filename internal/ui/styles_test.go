package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStyles_NoColorIsPlain(t *testing.T) {
	styles := GetStyles(true)

	assert.Equal(t, "hello", styles.Header.Render("hello"))
	assert.Equal(t, "hello", styles.Error.Render("hello"))
}

func TestIsTerminal_BufferIsNot(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestShouldUseColor_BufferNever(t *testing.T) {
	assert.False(t, ShouldUseColor(&bytes.Buffer{}))
}
