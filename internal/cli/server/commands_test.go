package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiserver "github.com/rennerdo30/proxyreg/internal/api/server"
	"github.com/rennerdo30/proxyreg/internal/config"
	"github.com/rennerdo30/proxyreg/internal/logging"
	"github.com/rennerdo30/proxyreg/internal/proxy"
	appserver "github.com/rennerdo30/proxyreg/internal/server"
)

const testConfig = `logging:
  level: error
api:
  enabled: false
watch:
  enabled: false
proxy:
  home.type: socks5
  home.address: 192.168.1.10
  home.port: 1080
  work.address: proxy.work.example
  work.password: hunter2
`

type fixture struct {
	srv  *appserver.Server
	path string
	url  string
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxyreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))

	cfg := config.DefaultConfig()
	require.NoError(t, config.LoadAndValidate(path, &cfg))
	srv, err := appserver.New(&cfg)
	require.NoError(t, err)
	srv.SetConfigPath(path)

	api := apiserver.New(apiserver.Config{Backend: srv, Token: token, Logger: logging.Discard()})
	ts := httptest.NewServer(api.Router())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, path: path, url: ts.URL}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommands()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api", f.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) names(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, f.srv.Do(func(reg *proxy.Registry) error {
		names = reg.Names()
		return nil
	}))
	return names
}

func TestNewAPIClient(t *testing.T) {
	c := NewAPIClient("http://localhost:8082/", "tok")
	assert.Equal(t, "http://localhost:8082", c.BaseURL)
	assert.Equal(t, "tok", c.Token)
	assert.NotNil(t, c.Client)
	assert.NotNil(t, c.Out)
}

func TestNewCommands(t *testing.T) {
	cmd := NewCommands()
	assert.Equal(t, "ctl", cmd.Use)

	want := map[string]bool{"status": true, "health": true, "proxy": true, "config": true, "dump": true}
	for _, sub := range cmd.Commands() {
		delete(want, sub.Name())
	}
	assert.Empty(t, want)

	proxyCmd, _, err := cmd.Find([]string{"proxy", "add"})
	require.NoError(t, err)
	assert.NotNil(t, proxyCmd.Flags().Lookup("type"))
	assert.NotNil(t, proxyCmd.Flags().Lookup("port"))
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: running")
	assert.Contains(t, out, "Proxies: 2")
	assert.Contains(t, out, "Config: "+f.path)

	out, err = f.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")
}

func TestProxyList(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "proxy", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "home")
	assert.Contains(t, lines[1], "socks5")
	assert.Contains(t, lines[1], "1080")
	assert.Contains(t, lines[2], "work")
	assert.Contains(t, lines[2], "3128")
}

func TestProxyShow(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "proxy", "show", "work")
	require.NoError(t, err)
	assert.Contains(t, out, `"address": "proxy.work.example"`)
	assert.Contains(t, out, `"password": "********"`)
	assert.NotContains(t, out, "hunter2")

	_, err = f.run(t, "proxy", "show", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestProxyAdd(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "proxy", "add", "lab", "--type", "socks4", "--address", "10.9.9.9", "--port", "1081", "--ipv6")
	require.NoError(t, err)
	assert.Contains(t, out, "Proxy 'lab' added successfully (type: socks4, address: 10.9.9.9:1081)")

	out, err = f.run(t, "proxy", "add", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "(type: http, address: 127.0.0.1:3128)")

	assert.Equal(t, []string{"home", "work", "lab", "plain"}, f.names(t))
	require.NoError(t, f.srv.Do(func(reg *proxy.Registry) error {
		assert.True(t, reg.Get("lab").IPv6())
		assert.False(t, reg.Get("plain").IPv6())
		return nil
	}))

	_, err = f.run(t, "proxy", "add", "home")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestProxyNames_SlashAndDot(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.run(t, "proxy", "add", "eu/west", "--port", "8080")
	require.NoError(t, err)

	out, err := f.run(t, "proxy", "show", "eu/west")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "eu/west"`)
	assert.Contains(t, out, `"port": 8080`)

	out, err = f.run(t, "proxy", "option", "eu/west.port")
	require.NoError(t, err)
	assert.Contains(t, out, "8080")

	_, err = f.run(t, "proxy", "add", "corp.eu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = f.run(t, "proxy", "rename", "home", "home.v2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, []string{"home", "work", "eu/west"}, f.names(t))
}

func TestProxySetRenameRemove(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "proxy", "set", "home", "port=1081", "ipv6=on", "name=house")
	require.NoError(t, err)
	assert.Contains(t, out, "Proxy 'house' updated")

	out, err = f.run(t, "proxy", "rename", "work", "office")
	require.NoError(t, err)
	assert.Contains(t, out, "Proxy 'work' renamed to 'office'")
	assert.Equal(t, []string{"house", "office"}, f.names(t))

	_, err = f.run(t, "proxy", "rename", "office", "house")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	_, err = f.run(t, "proxy", "set", "house", "port")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected property=value")

	out, err = f.run(t, "proxy", "remove", "house")
	require.NoError(t, err)
	assert.Contains(t, out, "Proxy 'house' removed successfully")
	assert.Equal(t, []string{"office"}, f.names(t))
}

func TestProxyOption(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "proxy", "option", "home.type")
	require.NoError(t, err)
	assert.Contains(t, out, "home.type")
	assert.Contains(t, out, "socks5")
	assert.Contains(t, out, "http, socks4, socks5")

	out, err = f.run(t, "proxy", "option", "home.port")
	require.NoError(t, err)
	assert.Contains(t, out, "0..65535")

	_, err = f.run(t, "proxy", "option", "home")
	require.Error(t, err)
}

func TestDump(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.run(t, "dump")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "[proxy (addr:"))
	assert.Contains(t, out, "address. . . . . . . . : '192.168.1.10'")
}

func TestConfigSaveAndReload(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.run(t, "proxy", "add", "extra")
	require.NoError(t, err)

	out, err := f.run(t, "config", "save")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to "+f.path)
	assert.Contains(t, out, "Backup: "+f.path+".backup.")

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "extra.port: 3128")

	require.NoError(t, os.WriteFile(f.path, []byte("proxy:\n  only.port: 8080\n"), 0600))
	out, err = f.run(t, "config", "reload")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration reloaded successfully")
	assert.Equal(t, []string{"only"}, f.names(t))
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	_, err := f.run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	out, err := f.run(t, "--token", "s3cret", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: running")
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error and message", `{"error":"Config reload failed","message":"boom"}`, "Config reload failed: boom"},
		{"error only", `{"error":"proxy not found"}`, "proxy not found"},
		{"plain text", "Unauthorized\n", "Unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c := NewAPIClient(ts.URL, "")
			err := c.ShowStatus(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "418")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
