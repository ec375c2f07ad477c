package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_MAX_SIZE", "12")

	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, 12, cfg.MaxSize)
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{Level: "debug", Format: "json", Output: "file", Path: dir, File: "app.log", MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("order_id", "25164007").Info("order created")

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order_id":"25164007"`)
	assert.Contains(t, string(data), `"message":"order created"`)
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	l, err := New(&Config{Level: "loud", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
