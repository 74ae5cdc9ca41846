package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { _ = Configure("development", "info") })

	require.NoError(t, Configure("production", "debug"))
	require.NoError(t, Configure("development", "WARN"))

	err := Configure("development", "chatty")
	assert.Error(t, err)
}

func TestNopLoggerDiscards(t *testing.T) {
	l := NewNopLogger().With("user", "42")
	assert.NotPanics(t, func() {
		l.Info("hello", "k", "v")
		l.Warn("careful", "attempt", 2)
		l.Error("boom")
		l.Debug("quiet")
	})
}

func TestNewLoggerKeepsPrefix(t *testing.T) {
	l := NewLogger("Sweeper")
	assert.Equal(t, "Sweeper", l.prefix)
	assert.Equal(t, "Sweeper", l.With("k", "v").prefix)
}
