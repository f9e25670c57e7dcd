package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/proxyreg/internal/config"
	"github.com/rennerdo30/proxyreg/internal/proxy"
)

const testConfig = `
logging:
  level: error
api:
  enabled: false
watch:
  enabled: false
# upstream proxies
proxy:
  a.type: socks5
  a.port: 1080 # home uplink
  b.address: 10.0.0.2
  a.address: 10.0.0.1
  broken: value
  c.colour: red
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxyreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestServer(t *testing.T, content string) (*Server, string) {
	t.Helper()
	path := writeConfig(t, content)
	cfg := config.DefaultConfig()
	require.NoError(t, config.LoadAndValidate(path, &cfg))

	s, err := New(&cfg)
	require.NoError(t, err)
	s.SetConfigPath(path)
	return s, path
}

func names(t *testing.T, s *Server) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		out = reg.Names()
		return nil
	}))
	return out
}

func TestNew(t *testing.T) {
	s, path := newTestServer(t, testConfig)

	assert.Equal(t, path, s.ConfigPath())
	assert.NotNil(t, s.Metrics())
	assert.False(t, s.Running())
	assert.Equal(t, []string{"a", "b"}, names(t, s))

	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		a := reg.Get("a")
		assert.Equal(t, proxy.TypeSOCKS5, a.Type())
		assert.Equal(t, 1080, a.Port())
		assert.Equal(t, "10.0.0.1", a.Address())

		b := reg.Get("b")
		assert.Equal(t, proxy.TypeHTTP, b.Type())
		assert.Equal(t, 3128, b.Port())
		assert.Equal(t, "10.0.0.2", b.Address())

		// c only had an unknown field
		assert.Nil(t, reg.Get("c"))
		return nil
	}))
	assert.Equal(t, 12, s.section.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.LoadProxies.WithLabelValues("promoted")))
}

func TestNew_InvalidProxySection(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, config.Parse([]byte("logging:\n  level: error\nproxy:\n  - a\n"), &cfg))

	_, err := New(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read proxy section")
}

func TestServer_Dump(t *testing.T) {
	s, _ := newTestServer(t, testConfig)

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "[proxy (addr:"))
	assert.Contains(t, buf.String(), "name . . . . . . . . . : 'b'")
}

func TestServer_OptionChangeMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig)

	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		return reg.Set(reg.Get("a"), "port", "9000")
	}))
	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		// unchanged value
		return reg.Set(reg.Get("a"), "port", "9000")
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.OptionChanges.WithLabelValues("port")))
}

func TestServer_SaveAndReload(t *testing.T) {
	s, path := newTestServer(t, testConfig)

	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		return reg.Set(reg.Get("b"), "name", "renamed")
	}))

	backup, err := s.SaveConfig(true)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	old, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(old), "broken: value")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# upstream proxies")
	assert.Contains(t, string(raw), "# home uplink")

	saved := config.DefaultConfig()
	require.NoError(t, config.Load(path, &saved))
	assert.Equal(t, "error", saved.Logging.Level)
	entries, err := saved.ProxyEntries()
	require.NoError(t, err)
	require.Len(t, entries, 12)
	assert.Equal(t, "a.type", entries[0].Key)
	assert.Equal(t, "socks5", entries[0].Value)
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
		assert.False(t, strings.HasPrefix(e.Key, "b."), e.Key)
	}
	assert.Contains(t, keys, "renamed.address")

	// Our own write is not a change.
	require.NoError(t, s.ReloadIfChanged())
	assert.Equal(t, []string{"a", "renamed"}, names(t, s))

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\nproxy:\n  z.port: 1\n  y.port: 2\n"), 0600))
	require.NoError(t, s.ReloadConfig())
	assert.Equal(t, []string{"z", "y"}, names(t, s))
	assert.Equal(t, 12, s.section.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.Reloads.WithLabelValues("ok")))
}

func TestServer_ReloadDiscardsUnsavedEdits(t *testing.T) {
	s, _ := newTestServer(t, testConfig)

	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		_, err := reg.Create("unsaved", "http", "off", "10.9.9.9", "8080", "", "")
		return err
	}))

	// The file did not change, so a change-driven reload keeps the edit.
	require.NoError(t, s.ReloadIfChanged())
	assert.Equal(t, []string{"a", "b", "unsaved"}, names(t, s))

	require.NoError(t, s.ReloadConfig())
	assert.Equal(t, []string{"a", "b"}, names(t, s))
	require.NoError(t, s.Do(func(reg *proxy.Registry) error {
		assert.Equal(t, "10.0.0.1", reg.Get("a").Address())
		assert.Equal(t, 1080, reg.Get("a").Port())
		assert.Equal(t, "10.0.0.2", reg.Get("b").Address())
		return nil
	}))
	assert.Equal(t, 12, s.section.Len())
}

func TestServer_ReloadKeepsRegistryOnError(t *testing.T) {
	s, path := newTestServer(t, testConfig)

	require.NoError(t, os.WriteFile(path, []byte("proxy: [unterminated"), 0600))
	err := s.ReloadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
	assert.Equal(t, []string{"a", "b"}, names(t, s))

	require.NoError(t, os.Remove(path))
	require.Error(t, s.ReloadConfig())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.Reloads.WithLabelValues("error")))
}

func TestServer_NoConfigPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error"
	s, err := New(&cfg)
	require.NoError(t, err)

	assert.Error(t, s.ReloadConfig())
	_, err = s.SaveConfig(false)
	assert.Error(t, err)
	assert.Empty(t, names(t, s))
}

func TestServer_StartStop(t *testing.T) {
	s, path := newTestServer(t, testConfig)
	s.config.API.Enabled = true
	s.config.API.Listen = "127.0.0.1:0"
	s.config.API.Token = "t0k"
	s.config.Metrics.Enabled = true
	s.config.Metrics.Listen = "127.0.0.1:0"
	s.config.Watch.Enabled = true
	s.config.Watch.Debounce = config.Duration(20 * time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, s.APIAddr())
	require.NotNil(t, s.MetricsAddr())

	req, err := http.NewRequest(http.MethodGet, "http://"+s.APIAddr().String()+"/api/v1/proxies", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer t0k")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var infos []proxy.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	assert.Len(t, infos, 2)

	resp, err = http.Get("http://" + s.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `proxyreg_proxies{type="socks5"} 1`)

	// The watcher picks up external edits.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\nproxy:\n  solo.port: 1\n"), 0600))
	require.Eventually(t, func() bool {
		n := names(t, s)
		return len(n) == 1 && n[0] == "solo"
	}, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Wait())
}

func TestServer_StartListenError(t *testing.T) {
	s, _ := newTestServer(t, testConfig)
	s.config.API.Enabled = true
	s.config.API.Listen = "256.0.0.1:bad"

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen API")
	assert.False(t, s.Running())
}
