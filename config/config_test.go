package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firehose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
stream_url: https://stream.example.com/v1/events
api_url: https://api.example.com/v1
reconnect:
  base_interval: 500ms
  max_attempts: 8
streaming_limit: 16
history_limit: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://stream.example.com/v1/events", cfg.StreamURL)
	require.Equal(t, "https://api.example.com/v1", cfg.APIURL)
	require.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseInterval.Std())
	require.Equal(t, 8, cfg.Reconnect.MaxAttempts)
	require.Equal(t, 16, cfg.StreamingLimit)
	require.Equal(t, 100, cfg.HistoryLimit)
}

func TestLoadDefaultsLeftToZero(t *testing.T) {
	path := writeConfig(t, `
stream_url: https://stream.example.com
api_url: https://api.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Reconnect.BaseInterval.Std())
	require.Zero(t, cfg.Reconnect.MaxAttempts)
	require.Zero(t, cfg.StreamingLimit)
	require.Zero(t, cfg.HistoryLimit)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
stream_url: https://stream.example.com
api_url: https://api.example.com
reconnect:
  base_interval: soon
`)
	_, err := Load(path)
	require.ErrorContains(t, err, `parse duration "soon"`)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing stream url", Config{APIURL: "x"}, "stream_url is required"},
		{"missing api url", Config{StreamURL: "x"}, "api_url is required"},
		{"negative attempts", Config{StreamURL: "x", APIURL: "y", Reconnect: Reconnect{MaxAttempts: -1}}, "max_attempts"},
		{"negative streaming limit", Config{StreamURL: "x", APIURL: "y", StreamingLimit: -1}, "streaming_limit"},
		{"negative history limit", Config{StreamURL: "x", APIURL: "y", HistoryLimit: -1}, "history_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorContains(t, tc.cfg.Validate(), tc.want)
		})
	}

	require.NoError(t, (&Config{StreamURL: "x", APIURL: "y"}).Validate())
}
