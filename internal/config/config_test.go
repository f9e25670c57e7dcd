package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/proxyreg/internal/option"
)

const sampleConfig = `
logging:
  level: debug
  format: json
api:
  enabled: true
  listen: "127.0.0.1:9999"
  token: ${PROXYREG_TEST_TOKEN}
watch:
  enabled: false
  debounce: 500ms
proxy:
  b.port: 1080
  a.type: socks5
  b.address: proxy.example
  a.username:
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxyreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("PROXYREG_TEST_TOKEN", "s3cret")
	path := writeConfig(t, sampleConfig)

	cfg := DefaultConfig()
	require.NoError(t, LoadAndValidate(path, &cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
	assert.Equal(t, "s3cret", cfg.API.Token)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce.Duration())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	entries, err := cfg.ProxyEntries()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, Entry{Key: "b.port", Value: "1080", Line: 13}, entries[0])
	assert.Equal(t, "a.type", entries[1].Key)
	assert.Equal(t, "socks5", entries[1].Value)
	assert.Equal(t, "b.address", entries[2].Key)
	assert.Equal(t, "a.username", entries[3].Key)
	assert.Empty(t, entries[3].Value)
}

func TestParse_KeepsProxySection(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Parse([]byte("proxy:\n  a.type: socks5\n  a.port: 1080\n"), &cfg))

	entries, err := cfg.ProxyEntries()
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Key: "a.type", Value: "socks5", Line: 2},
		{Key: "a.port", Value: "1080", Line: 3},
	}, entries)

	data, err := Marshal(&cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a.port: 1080")

	empty := DefaultConfig()
	data, err = Marshal(&empty)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "proxy:")
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := DefaultConfig()
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging: [unterminated")
	cfg := DefaultConfig()
	err := Load(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestProxyEntries_Empty(t *testing.T) {
	for _, content := range []string{"logging:\n  level: info\n", "proxy:\n", "proxy: {}\n"} {
		cfg := DefaultConfig()
		require.NoError(t, Parse([]byte(content), &cfg))
		entries, err := cfg.ProxyEntries()
		require.NoError(t, err, content)
		assert.Empty(t, entries, content)
	}
}

func TestProxyEntries_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"sequence section", "proxy:\n  - a.port\n", "expected a mapping"},
		{"nested value", "proxy:\n  a.port:\n    x: 1\n", `value of "a.port" must be a scalar`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			require.NoError(t, Parse([]byte(tt.content), &cfg))

			_, err := cfg.ProxyEntries()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
		{"api without listen", func(c *Config) { c.API.Listen = "" }, "api.listen"},
		{"api disabled without listen", func(c *Config) { c.API.Enabled = false; c.API.Listen = "" }, ""},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -1 }, "watch.debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndReload_ProxyOptions(t *testing.T) {
	sec := option.NewStore().Section("proxy")
	_, err := sec.Create("z.type", option.Spec{Kind: option.Integer, Values: []string{"http", "socks4", "socks5"}}, "socks4")
	require.NoError(t, err)
	_, err = sec.Create("z.ipv6", option.Spec{Kind: option.Boolean}, "on")
	require.NoError(t, err)
	_, err = sec.Create("z.port", option.Spec{Kind: option.Integer, Max: 65535}, "8080")
	require.NoError(t, err)
	_, err = sec.Create("a.password", option.Spec{Kind: option.String}, "")
	require.NoError(t, err)
	_, err = sec.Create("a.address", option.Spec{Kind: option.String}, "123")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SetProxyOptions(sec.Options())

	path := filepath.Join(t.TempDir(), "sub", "proxyreg.yaml")
	require.NoError(t, Save(path, &cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded := DefaultConfig()
	require.NoError(t, Load(path, &reloaded))
	entries, err := reloaded.ProxyEntries()
	require.NoError(t, err)

	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Key + "=" + e.Value
	}
	assert.Equal(t, []string{"z.type=socks4", "z.ipv6=on", "z.port=8080", "a.password=", "a.address=123"}, got)
}

func TestBackup(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	backup, err := Backup(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(backup, path+".backup."))

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: info\n", string(data))
}

func TestSanitized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Token = "secret"
	cfg.SetProxyOptions(nil)

	out := cfg.Sanitized()
	assert.Equal(t, "********", out.API.Token)
	assert.Empty(t, out.API.TokenHash)
	assert.Zero(t, out.Proxy.Kind)
	assert.Empty(t, out.Proxy.Content)
	assert.Equal(t, "secret", cfg.API.Token)
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(2 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, d, back)
	require.NoError(t, back.UnmarshalJSON([]byte(`""`)))
	assert.Zero(t, back)
}
