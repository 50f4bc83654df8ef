package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetValueCreatesNestedTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")

	require.NoError(t, SetValue(path, "dialer.global_cps", 25))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Dialer.GlobalCPS)
}

func TestSetValuePreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\npath = \"keep.db\"\n"), 0644))

	require.NoError(t, SetValue(path, "dialer.global_cps", 12))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep.db", cfg.Database.Path)
	assert.Equal(t, 12, cfg.Dialer.GlobalCPS)
}

func TestSetValueRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")

	for i := 1; i <= 4; i++ {
		require.NoError(t, SetValue(path, "dialer.global_cps", i))
	}

	for _, suffix := range []string{".back1", ".back2", ".back3"} {
		_, err := os.Stat(path + suffix)
		assert.NoError(t, err, "expected backup %s", suffix)
	}

	// .back1 holds the value written just before the last write
	prev, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 3, prev.Dialer.GlobalCPS)
}

func TestSetValueRejectsEmptySegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	assert.Error(t, SetValue(path, "dialer..global_cps", 1))
	assert.Error(t, SetValue(path, "", 1))
}

func TestUpdateGlobalCPSRejectsNegative(t *testing.T) {
	assert.Error(t, UpdateGlobalCPS(-1))
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/x/am.toml.back1"))
	assert.True(t, isBackupFile("am.toml.back3"))
	assert.False(t, isBackupFile("/x/am.toml"))
}
