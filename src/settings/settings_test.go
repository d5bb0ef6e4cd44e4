package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syndrkit.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	args, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), args)
	require.NoError(t, args.Validate())
}

func TestLoadJSONC(t *testing.T) {
	path := writeConfig(t, `{
		// bolt keeps everything in one file
		"backend": "bolt",
		"data_dir": "/var/lib/syndrkit",
		"timeout": "250ms",
		"debug": true,
	}`)

	args, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, args.Backend)
	assert.Equal(t, "/var/lib/syndrkit", args.DataDir)
	assert.Equal(t, 250*time.Millisecond, args.Timeout)
	assert.True(t, args.Debug)
	assert.Equal(t, "syndrkit.db", args.BoltFile)
	require.NoError(t, args.Validate())
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, `{"backend": `))
	require.ErrorIs(t, err, errConfigInvalid)

	_, err = Load(writeConfig(t, `{"timeout": "soon"}`))
	require.ErrorIs(t, err, errConfigInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Arguments)
	}{
		{"unknown backend", func(a *Arguments) { a.Backend = "riak" }},
		{"file without dir", func(a *Arguments) { a.Backend = BackendFile; a.DataDir = "" }},
		{"bolt without file", func(a *Arguments) { a.Backend = BackendBolt; a.BoltFile = "" }},
		{"journal size", func(a *Arguments) { a.MaxJournalFileSize = 0 }},
		{"retention", func(a *Arguments) { a.RetentionDays = -1 }},
		{"timeout", func(a *Arguments) { a.Timeout = 0 }},
		{"log level", func(a *Arguments) { a.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := Default()
			tt.mutate(args)
			assert.ErrorIs(t, args.Validate(), ErrInvalidSettings)
		})
	}
}
