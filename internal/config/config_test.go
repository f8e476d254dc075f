package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ldacruz94/topiclog/internal/log"
)

func TestParse(t *testing.T) {
	c := &Config{}
	err := c.Parse([]byte(`
root_directory: /var/lib/topiclog
log_level: DEBUG
segment:
  max_messages: 500
  max_store_bytes: 64M
`))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/topiclog", c.RootDirectory)
	require.Equal(t, zapcore.DebugLevel, c.LogLevel)
	require.Equal(t, uint64(500), c.MaxMessages)
	require.Equal(t, uint64(64*1024*1024), c.MaxStoreBytes)

	lc := c.LogConfig(nil)
	require.Equal(t, "/var/lib/topiclog", lc.Dir)
	require.Equal(t, uint64(500), lc.Segment.MaxMessages)
	require.Equal(t, uint64(64*1024*1024), lc.Segment.MaxStoreBytes)
}

func TestParseDefaults(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.Parse([]byte("root_directory: data\n")))
	require.Equal(t, zapcore.InfoLevel, c.LogLevel)
	require.Equal(t, uint64(log.DefaultMaxMessages), c.MaxMessages)
	require.Zero(t, c.MaxStoreBytes)
	require.Equal(t, Default("data"), c)
}

func TestParseErrors(t *testing.T) {
	for name, data := range map[string]string{
		"missing root":   "log_level: info\n",
		"bad level":      "root_directory: data\nlog_level: loud\n",
		"bad size":       "root_directory: data\nsegment:\n  max_store_bytes: lots\n",
		"malformed yaml": "root_directory: [data\n",
	} {
		c := &Config{}
		require.Error(t, c.Parse([]byte(data)), name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topiclog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root_directory: data\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "data", c.RootDirectory)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(zapcore.WarnLevel)
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
