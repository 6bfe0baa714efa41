package daemon

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(io.Discard)
		log.SetLevel(log.InfoLevel)
	})

	t.Run("off discards", func(t *testing.T) {
		closer, err := SetupLogging("off", "")
		require.NoError(t, err)
		assert.NoError(t, closer.Close())
		assert.Equal(t, io.Discard, log.StandardLogger().Out)
	})

	t.Run("level and file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "rmxfs.log")
		closer, err := SetupLogging("TRACE", file)
		require.NoError(t, err)
		assert.Equal(t, log.TraceLevel, log.GetLevel())

		log.Infof("hello from test")
		require.NoError(t, closer.Close())
		log.SetOutput(io.Discard)

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
	})

	t.Run("default path", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("RMXFS_CONFIG_DIR", dir)
		t.Setenv("RMXFS_LOG", "")
		closer, err := SetupLogging("warn", "")
		require.NoError(t, err)
		defer closer.Close()
		assert.Equal(t, log.WarnLevel, log.GetLevel())
		_, err = os.Stat(filepath.Join(dir, "rmxfs.log"))
		assert.NoError(t, err)
	})

	t.Run("stderr", func(t *testing.T) {
		closer, err := SetupLogging("info", "-")
		require.NoError(t, err)
		assert.NoError(t, closer.Close())
		assert.Equal(t, os.Stderr, log.StandardLogger().Out)
	})
}

func TestTruncateLogFile(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "rmxfs.log")

	// missing file is fine
	require.NoError(t, truncateLogFile(file, 10))

	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("line of log output\n")
	}
	require.NoError(t, os.WriteFile(file, []byte(b.String()), 0600))

	// under the limit nothing changes
	require.NoError(t, truncateLogFile(file, int64(b.Len())))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, b.String(), string(data))

	require.NoError(t, truncateLogFile(file, 100))
	data, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Less(t, len(data), b.Len())
	assert.True(t, strings.HasPrefix(string(data), "--- Log truncated at "))
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for _, l := range lines[1:] {
		assert.Equal(t, "line of log output", l)
	}
}
