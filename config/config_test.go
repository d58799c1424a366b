package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
start_type = 1
start_command = "foot"
socket_name = "wayland-test"

[xwayland]
enabled = true

[renderer]
width = 800
height = 600
frame_rate = 30
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, START_SINGLE_COMMAND, conf.StartType)
	require.NotNil(t, conf.StartCommand)
	assert.Equal(t, "foot", *conf.StartCommand)
	assert.Equal(t, "wayland-test", conf.SocketName)
	assert.True(t, conf.XWayland.Enabled)
	// Untouched keys keep their defaults
	assert.Equal(t, "Xwayland", conf.XWayland.Path)
	assert.Equal(t, "info", conf.LogLevel)
	assert.Equal(t, 800, conf.Renderer.Width)
	assert.Equal(t, 30, conf.Renderer.FrameRate)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"command missing": "start_type = 1\n",
		"command blank":   "start_type = 1\nstart_command = \"  \\t \"\n",
		"bad start type":  "start_type = 7\n",
		"bad level":       "log_level = \"loud\"\n",
		"bad size":        "[renderer]\nwidth = 0\n",
		"not toml":        "start_type = \n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	assert.NoError(t, conf.Validate())
}
