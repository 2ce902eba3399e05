package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"APP_ENV", "CONFIG_DIR", "DATA_PATH", "KEY_PATH", "RELAY_URL", "RELAY_TOKEN",
	"LAN_PEERS", "DEBOUNCE_MS", "MAX_CONCURRENT_SESSIONS", "BATTERY_LEVEL",
	"NETWORK_METERED", "BACKGROUND_INTERVAL_MINUTES", "RETENTION_DAYS", "DISABLE_RELAY",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{"CONFIG_DIR": dir},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsLocal())
				assert.Equal(t, filepath.Join(dir, "sync.db"), cfg.DataPath)
				assert.Equal(t, filepath.Join(dir, "sync.key"), cfg.KeyPath)
				assert.Equal(t, 2*time.Second, cfg.Debounce)
				assert.Equal(t, 6*time.Hour, cfg.BackgroundInterval)
				assert.Equal(t, 30*24*time.Hour, cfg.Retention)
				assert.Equal(t, 3, cfg.MaxConcurrent)
				assert.Equal(t, 100, cfg.BatteryLevel)
				assert.Equal(t, "timestamp", cfg.ConflictPolicy)
				assert.False(t, cfg.RelayEnabled())
				assert.Empty(t, cfg.LANPeers)
			},
		},
		{
			name: "relay and peers",
			env: map[string]string{
				"CONFIG_DIR":      dir,
				"RELAY_URL":       "https://relay.example.com",
				"RELAY_TOKEN":     "t0k",
				"LAN_PEERS":       "10.0.0.2:7345, 10.0.0.3:7345,",
				"DEBOUNCE_MS":     "500",
				"NETWORK_METERED": "true",
				"BATTERY_LEVEL":   "15",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.RelayEnabled())
				assert.Equal(t, "t0k", cfg.RelayToken)
				assert.Equal(t, []string{"10.0.0.2:7345", "10.0.0.3:7345"}, cfg.LANPeers)
				assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
				assert.True(t, cfg.NetworkMetered)
				assert.Equal(t, 15, cfg.BatteryLevel)
			},
		},
		{
			name: "relay disabled explicitly",
			env:  map[string]string{"CONFIG_DIR": dir, "RELAY_URL": "http://relay", "DISABLE_RELAY": "true"},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.RelayEnabled())
			},
		},
		{
			name:    "bad relay url",
			env:     map[string]string{"CONFIG_DIR": dir, "RELAY_URL": "relay.example.com"},
			wantErr: "relay_url",
		},
		{
			name:    "battery out of range",
			env:     map[string]string{"CONFIG_DIR": dir, "BATTERY_LEVEL": "120"},
			wantErr: "battery_level",
		},
		{
			name:    "no sessions allowed",
			env:     map[string]string{"CONFIG_DIR": dir, "MAX_CONCURRENT_SESSIONS": "0"},
			wantErr: "max_concurrent_sessions",
		},
		{
			name:    "unknown env",
			env:     map[string]string{"CONFIG_DIR": dir, "APP_ENV": "staging"},
			wantErr: "APP_ENV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(viper.New(), "")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := "config_dir: " + dir + "\nsync_group: family\nretention_days: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "family", cfg.SyncGroup)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, dir)
}
