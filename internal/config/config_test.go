package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaosring/internal/tier"
)

func setValidEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, key := range map[string]string{
		"daoists.png":  "CHAOSRING_DAOISTS",
		"frens.png":    "CHAOSRING_FRENS",
		"regulars.png": "CHAOSRING_REGULARS",
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("png-bytes-"+name), 0o600))
		t.Setenv(key, p)
	}
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DAO_ROLE_DAOIST", "111")
	t.Setenv("DAO_ROLE_FREN", "222")
	t.Setenv("DAO_ROLE_REGULAR", "333")
	t.Setenv("GUILD_ID", "")
	for _, k := range []string{"RING_WORKERS", "RING_MAX_ATTACHMENT_BYTES", "RING_MAX_DIMENSION", "RING_FETCH_TIMEOUT", "RING_COOLDOWN", "LOG_DEBUG"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := setValidEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Token)
	assert.Empty(t, cfg.GuildID)
	assert.Equal(t, tier.Roles{tier.Daoist: "111", tier.Fren: "222", tier.Regular: "333"}, cfg.Roles)
	require.Len(t, cfg.Overlays, 3)
	assert.Equal(t, filepath.Join(dir, "frens.png"), cfg.Overlays[tier.Fren].Path)
	assert.Equal(t, []byte("png-bytes-frens.png"), cfg.Overlays[tier.Fren].Data)
	assert.Equal(t, DefaultTuning().MaxDimension, cfg.Tuning.MaxDimension)
}

func TestLoadFailsFast(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, dir string)
		wantKey string
	}{
		{
			name:    "missing token",
			mutate:  func(t *testing.T, _ string) { t.Setenv("DISCORD_TOKEN", "") },
			wantKey: "DISCORD_TOKEN",
		},
		{
			name:    "missing fren role",
			mutate:  func(t *testing.T, _ string) { t.Setenv("DAO_ROLE_FREN", " ") },
			wantKey: "DAO_ROLE_FREN",
		},
		{
			name:    "non numeric role",
			mutate:  func(t *testing.T, _ string) { t.Setenv("DAO_ROLE_DAOIST", "daoists") },
			wantKey: "DAO_ROLE_DAOIST",
		},
		{
			name:    "overlay path missing",
			mutate:  func(t *testing.T, dir string) { t.Setenv("CHAOSRING_REGULARS", filepath.Join(dir, "nope.png")) },
			wantKey: "CHAOSRING_REGULARS",
		},
		{
			name:    "overlay path is a directory",
			mutate:  func(t *testing.T, dir string) { t.Setenv("CHAOSRING_FRENS", dir) },
			wantKey: "CHAOSRING_FRENS",
		},
		{
			name: "overlay file empty",
			mutate: func(t *testing.T, dir string) {
				p := filepath.Join(dir, "empty.png")
				require.NoError(t, os.WriteFile(p, nil, 0o600))
				t.Setenv("CHAOSRING_DAOISTS", p)
			},
			wantKey: "CHAOSRING_DAOISTS",
		},
		{
			name:    "bad guild id",
			mutate:  func(t *testing.T, _ string) { t.Setenv("GUILD_ID", "guild") },
			wantKey: "GUILD_ID",
		},
		{
			name:    "bad worker count",
			mutate:  func(t *testing.T, _ string) { t.Setenv("RING_WORKERS", "many") },
			wantKey: "RING_WORKERS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setValidEnv(t)
			tt.mutate(t, dir)

			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)

			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantKey, cfgErr.Key)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestLoadTuningFileThenEnv(t *testing.T) {
	setValidEnv(t)
	path := filepath.Join(t.TempDir(), "chaosring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
max_dimension: 1024
fetch_timeout: 5s
cooldown: 30s
db_path: /tmp/ring.db
`), 0o600))
	t.Setenv("RING_COOLDOWN", "1m")

	tn, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tn.Workers)
	assert.Equal(t, 1024, tn.MaxDimension)
	assert.Equal(t, 5*time.Second, tn.FetchTimeout)
	assert.Equal(t, time.Minute, tn.Cooldown)
	assert.Equal(t, "/tmp/ring.db", tn.DBPath)
	assert.Equal(t, DefaultTuning().MaxAttachmentBytes, tn.MaxAttachmentBytes)
}

func TestLoadTuningMissingFile(t *testing.T) {
	_, err := LoadTuning(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *Error
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadTuningClampsInvalid(t *testing.T) {
	setValidEnv(t)
	t.Setenv("RING_WORKERS", "0")
	t.Setenv("RING_COOLDOWN", "-5s")

	tn, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning().Workers, tn.Workers)
	assert.Zero(t, tn.Cooldown)
}
