package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmxfs/internal/daemon"
	"rmxfs/internal/storage/storagetest"
)

// execute runs the root command with args and returns its output. Flag
// variables are package state, so they are reset first.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RMXFS_CONFIG_DIR", t.TempDir())
	configPath, flagLogLevel, flagLogFile = "", "", ""
	lsLong, lsRecursive = false, false
	trashSkipConfirm = false
	settingsLogLevel = ""
	mountDebug, mountAllowOther, mountMetricsListen = false, false, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func TestLs(t *testing.T) {
	dir := storagetest.Reference(t)

	out, err := execute(t, "", "ls", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dolor/", "ipsum.pdf", "lorem.epub", "trash/"}, lines(out))

	out, err = execute(t, "", "ls", dir, "dolor")
	require.NoError(t, err)
	assert.Equal(t, []string{"ipsum.epub", "lorem.pdf"}, lines(out))

	out, err = execute(t, "", "ls", "-R", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"dolor/", "dolor/ipsum.epub", "dolor/lorem.pdf", "ipsum.pdf", "lorem.epub", "trash/",
	}, lines(out))

	out, err = execute(t, "", "ls", "-l", dir)
	require.NoError(t, err)
	got := lines(out)
	require.Len(t, got, 4)
	assert.True(t, strings.HasPrefix(got[1], "126501 "), got[1])
	assert.Contains(t, got[1], storagetest.IpsumPDFID)
	assert.True(t, strings.HasSuffix(got[1], " ipsum.pdf"), got[1])

	_, err = execute(t, "", "ls", dir, "missing")
	assert.Error(t, err)
}

func TestLsNextToLock(t *testing.T) {
	dir := storagetest.Reference(t)
	lock, err := daemon.LockStore(dir)
	require.NoError(t, err)
	defer lock.Unlock()

	out, err := execute(t, "", "ls", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ipsum.pdf")

	_, err = execute(t, "", "trash", "empty", "-y", dir)
	assert.ErrorIs(t, err, daemon.ErrStoreBusy)
}

func TestTrash(t *testing.T) {
	dir := storagetest.Reference(t)

	out, err := execute(t, "", "trash", "ls", dir)
	require.NoError(t, err)
	assert.Equal(t, "Trash is empty\n", out)

	storagetest.Write(t, dir, storagetest.Item{ID: "d1", Parent: "trash", Name: "old", FileType: "pdf", Size: 10})

	out, err = execute(t, "", "trash", "ls", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "d1")
	assert.True(t, strings.HasSuffix(out, " old.pdf\n"), out)

	out, err = execute(t, "n\n", "trash", "empty", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")
	_, err = os.Stat(filepath.Join(dir, "d1.metadata"))
	require.NoError(t, err)

	out, err = execute(t, "yes\n", "trash", "empty", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Erased 1 document(s) and 0 collection(s)")
	_, err = os.Stat(filepath.Join(dir, "d1.metadata"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "d1.pdf"))
	assert.True(t, os.IsNotExist(err))

	out, err = execute(t, "", "trash", "ls", dir)
	require.NoError(t, err)
	assert.Equal(t, "Trash is empty\n", out)
}

func TestSettings(t *testing.T) {
	out, err := execute(t, "", "settings")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# "), out)
	assert.Contains(t, out, "document_types:")
	assert.Contains(t, out, "- pdf")
	assert.Contains(t, out, "reserved_collection_patterns:")

	custom := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte("document_types: [pdf]\n"), 0600))
	out, err = execute(t, "", "settings", "--config", custom)
	require.NoError(t, err)
	assert.Contains(t, out, "# "+custom)
	assert.NotContains(t, out, "epub")

	_, err = execute(t, "", "settings", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "", "settings", "--log-level", "loud")
	assert.Error(t, err)
}

func TestSettingsLogging(t *testing.T) {
	configDir := t.TempDir()
	// execute points RMXFS_CONFIG_DIR at a fresh directory, so drive the
	// command by hand to keep one directory across both runs.
	t.Setenv("RMXFS_CONFIG_DIR", configDir)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	configPath, flagLogLevel, flagLogFile, settingsLogLevel = "", "", "", ""
	rootCmd.SetArgs([]string{"settings", "--logging", "none"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Log level set to: off")

	settingsLogLevel = ""
	rootCmd.SetArgs([]string{"settings", "--logging", "debug"})
	require.NoError(t, rootCmd.Execute())
	settingsLogLevel = ""

	loaded, err := daemon.LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, []string{"pdf", "epub"}, loaded.DocumentTypes)
}

func TestMountRejectsBadTarget(t *testing.T) {
	dir := storagetest.Reference(t)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "x"), nil, 0644))
	_, err := execute(t, "", "mount", dir, target)
	assert.ErrorContains(t, err, "not empty")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = execute(t, "", "mount", dir, file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestCheckMountPointCreates(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, checkMountPoint(target))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	require.NoError(t, checkMountPoint(target))
}

func TestVersionString(t *testing.T) {
	SetVersion("1.2.0", "abc123", "1700000000")
	assert.True(t, strings.HasPrefix(rootCmd.Version, "1.2.0 ("), rootCmd.Version)

	SetVersion("1.3.0-dev", "abc123", "1700000000")
	assert.Contains(t, rootCmd.Version, "commit: abc123")

	assert.Equal(t, "unknown", formatBuildDate("unknown"))
}
