package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *SyncConfig {
	cfg := NewSyncConfig("test")
	cfg.Salesforce.ClientID = "id"
	cfg.Salesforce.ClientSecret = "secret"
	cfg.Salesforce.RefreshToken = "token"
	return cfg
}

func TestNewSyncConfigDefaults(t *testing.T) {
	cfg := NewSyncConfig("test")

	assert.Equal(t, "v57.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, 2000, cfg.Performance.PageSize)
	assert.Equal(t, 500, cfg.Performance.CheckpointInterval)
	assert.Equal(t, 1, cfg.Performance.SessionLimit)
	assert.Equal(t, 30, cfg.Performance.SliceStepDays)
	assert.Equal(t, 500, cfg.Performance.SliceBatchSize)
	assert.Equal(t, time.Second, cfg.Timeouts.JobPollInterval)
	assert.Equal(t, 200*time.Minute, cfg.Timeouts.JobDeadline())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SyncConfig)
		wantErr string
	}{
		{"valid", func(c *SyncConfig) {}, ""},
		{"missing name", func(c *SyncConfig) { c.Name = "" }, "name is required"},
		{"missing client id", func(c *SyncConfig) { c.Salesforce.ClientID = "" }, "client_id"},
		{"missing refresh token", func(c *SyncConfig) { c.Salesforce.RefreshToken = "" }, "refresh_token"},
		{"zero session limit", func(c *SyncConfig) { c.Performance.SessionLimit = 0 }, "session_limit"},
		{"zero checkpoint interval", func(c *SyncConfig) { c.Performance.CheckpointInterval = 0 }, "checkpoint_interval"},
		{"bad sync mode", func(c *SyncConfig) {
			c.Streams = []StreamConfig{{Name: "Account", SyncMode: "bogus"}}
		}, "sync_mode"},
		{"unnamed stream", func(c *SyncConfig) {
			c.Streams = []StreamConfig{{SyncMode: "incremental"}}
		}, "streams[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("SF_CLIENT_SECRET", "super-secret")
	t.Setenv("SF_REFRESH_TOKEN", "refresh-me")

	yaml := `
name: salesforce-prod
salesforce:
  client_id: the-client-id
  client_secret: ${SF_CLIENT_SECRET}
  refresh_token: ${SF_REFRESH_TOKEN}
streams:
  - name: Account
    sync_mode: incremental
performance:
  checkpoint_interval: 100
`
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "super-secret", cfg.Salesforce.ClientSecret)
	assert.Equal(t, "refresh-me", cfg.Salesforce.RefreshToken)
	assert.Equal(t, 100, cfg.Performance.CheckpointInterval)

	// Defaults survive for fields the file does not set.
	assert.Equal(t, 1, cfg.Performance.SessionLimit)
	assert.Equal(t, "v57.0", cfg.Salesforce.APIVersion)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: incomplete\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
