package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caption.log")
	logger, err := New("info", "json", path)
	require.NoError(t, err)

	logger.Debugw("hidden", "k", 1)
	logger.Infow("caption generated", "caption", "a dog runs")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"caption":"a dog runs"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New("loud", "json", "")
	assert.Error(t, err)

	_, err = New("info", "xml", "")
	assert.Error(t, err)
}
