package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	"streamSources": [
		{"id": "front", "name": "Front", "url": "http://cam.local/front.mjpg", "isDefault": true}
	],
	"motionDetection": {"enabled": true, "fps": 5, "threshold": 25, "cooldownMs": 2000, "width": 160, "height": 120},
	"recording": {"enabled": true, "preBufferSeconds": 5, "postMotionSeconds": 15, "outputDir": "/tmp/rec"},
	"server": {"host": "0.0.0.0", "port": 8080},
	"streamPausePassword": "hunter2"
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, cfg.StreamSources, 1)
	require.Equal(t, "front", cfg.StreamSources[0].ID)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsMissingDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"streamSources":[{"id":"a","url":"http://x"}],"server":{"port":8080}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.Error(t, err, "expected an error when no stream source is marked isDefault")
}

func TestEnvOverridesApply(t *testing.T) {
	t.Setenv("CAMFEED_SERVER_PORT", "9090")
	t.Setenv("CAMFEED_STREAM_PAUSE_PASSWORD", "overridden")

	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port, "env override should win over the file value")
	require.Equal(t, "overridden", cfg.StreamPausePassword)
}
