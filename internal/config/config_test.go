package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, DefaultDevicePath, cfg.Device.Path)
	assert.Equal(t, DefaultNameMatch, cfg.Device.NameMatch)
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, DefaultQueueSize, cfg.Server.QueueSize)
	assert.Equal(t, DefaultSendTimeout, cfg.Server.SendTimeout)
	assert.Equal(t, 350*time.Millisecond, cfg.Action.LongPressThreshold)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
device:
  path: /dev/input/event7
  name_match: remote
server:
  listen_addr: 127.0.0.1:9100
  enable_cors: false
  queue_size: 8
  send_timeout: 500ms
action:
  long_press_threshold: 400ms
observability:
  logging:
    level: debug
`)

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/dev/input/event7", cfg.Device.Path)
	assert.Equal(t, "remote", cfg.Device.NameMatch)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.EnableCORS)
	assert.Equal(t, 8, cfg.Server.QueueSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.SendTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, 400*time.Millisecond, cfg.Action.LongPressThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: 127.0.0.1:9100\n")
	t.Setenv("KEYRELAY_SERVER_LISTEN_ADDR", "127.0.0.1:9200")
	t.Setenv("KEYRELAY_ACTION_LONG_PRESS_THRESHOLD", "1s")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9200", cfg.Server.ListenAddr)
	assert.Equal(t, time.Second, cfg.Action.LongPressThreshold)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("KEYRELAY_SERVER_LISTEN_ADDR", "127.0.0.1:9200")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", "", "")
	require.NoError(t, flags.Parse([]string{"--listen", "127.0.0.1:9300"}))

	v := NewViper()
	require.NoError(t, v.BindPFlag("server.listen_addr", flags.Lookup("listen")))

	cfg, err := Load(v, writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9300", cfg.Server.ListenAddr)
}

func TestExplicitMissingFileFails(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"zero threshold": "action:\n  long_press_threshold: 0s\n",
		"empty listen":   "server:\n  listen_addr: \"  \"\n",
		"zero queue":     "server:\n  queue_size: 0\n",
		"negative ping":  "server:\n  ping_interval: -1s\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(NewViper(), writeConfig(t, body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
