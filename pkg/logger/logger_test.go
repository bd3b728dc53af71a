package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"), "unknown levels fall back to info")
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestSetGlobalLogLevel(t *testing.T) {
	defer SetGlobalLogLevel("info")

	SetGlobalLogLevel("error")
	assert.False(t, level.Enabled(zapcore.InfoLevel))
	assert.True(t, level.Enabled(zapcore.ErrorLevel))

	SetGlobalLogLevel("debug")
	assert.True(t, level.Enabled(zapcore.DebugLevel))
}

func TestInit_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	Init(Options{Level: "info", File: path})
	defer Init(Options{Level: "info"})

	Infof("[Test] hello %s", "file")
	require.NoError(t, Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[Test] hello file")
}

func TestNewLogger_IsIndependent(t *testing.T) {
	l := NewLogger("debug")
	require.NotNil(t, l)
	l.Debugf("debug line %d", 1)
	l.Warnf("warn line %d", 2)
}

func TestSync_StdoutOnly(t *testing.T) {
	Init(Options{Level: "info"})
	Info("[Test] stdout only")
	assert.NoError(t, Sync(), "stdout may be a pipe or terminal that rejects fsync")
}
