package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, l.GetLevel())

	l.Info("hidden")
	l.Warn("shown", "relay", "wss://nos.lol")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "relay=wss://nos.lol")

	l, err = New(&buf, "DEBUG")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, l.GetLevel())

	_, err = New(&buf, "chatty")
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv(EnvLevel, "error")
	assert.Equal(t, log.ErrorLevel, FromEnv(&buf).GetLevel())

	t.Setenv(EnvLevel, "loud")
	l := FromEnv(&buf)
	assert.Equal(t, DefaultLevel, l.GetLevel())
	assert.Contains(t, buf.String(), "ignoring "+EnvLevel)
}
