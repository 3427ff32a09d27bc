package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/arencloud/s3keeper/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.Name+" "+version.Version+"\n", out.String())
}

func TestCommandTree(t *testing.T) {
	cmd := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"audit", "purge"}, {"version"}} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestAuditPurgeOnEmptyDatabase(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "purge-test")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "purge.db"))
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"audit", "purge", "--days", "30"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "purged 0 audit entries\n", out.String())
}
