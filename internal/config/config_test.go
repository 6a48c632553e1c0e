package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/testlink/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port      int32
		PublicURL string
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}

	Session struct {
		LinkTTL time.Duration
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Prefix = "testlink"
	c.Session.LinkTTL = time.Hour
	return c
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T) string
		assert  func(t *testing.T, c testConfig)
	}{
		"defaults without file": {
			arrange: func(t *testing.T) string { return "" },
			assert: func(t *testing.T, c testConfig) {
				require.Equal(t, defaults(), c)
			},
		},
		"file overrides defaults": {
			arrange: func(t *testing.T) string {
				return writeFile(t, "config.yaml", `
http:
  port: 9090
  publicURL: https://tests.example.com
redis:
  addrs: ["localhost:6379"]
session:
  linkTTL: 168h
`)
			},
			assert: func(t *testing.T, c testConfig) {
				require.Equal(t, int32(9090), c.HTTP.Port)
				require.Equal(t, "https://tests.example.com", c.HTTP.PublicURL)
				require.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
				require.Equal(t, "testlink", c.Redis.Prefix, "unset keys should keep their default")
				require.Equal(t, 168*time.Hour, c.Session.LinkTTL)
			},
		},
		"environment overrides file": {
			arrange: func(t *testing.T) string {
				t.Setenv("HTTP_PORT", "7070")
				t.Setenv("SESSION_LINKTTL", "30m")
				return writeFile(t, "config.yaml", "http:\n  port: 9090\n")
			},
			assert: func(t *testing.T, c testConfig) {
				require.Equal(t, int32(7070), c.HTTP.Port)
				require.Equal(t, 30*time.Minute, c.Session.LinkTTL)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			file := tt.arrange(t)

			c := defaults()
			require.NoError(t, config.Load(file, &c))

			tt.assert(t, c)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()
	require.Error(t, config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c))
}

func TestPath(t *testing.T) {
	t.Setenv(config.EnvPath, "/etc/testlink.yaml")

	require.Equal(t, "/etc/testlink.yaml", config.Path(""))
	require.Equal(t, "local.yaml", config.Path("local.yaml"))
}

func writeFile(t *testing.T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}
