// Package server provides CLI commands for controlling a running proxyreg server.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apiserver "github.com/rennerdo30/proxyreg/internal/api/server"
	"github.com/rennerdo30/proxyreg/internal/proxy"
)

// APIClient is a client for the server REST API.
type APIClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Out     io.Writer
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Out:     os.Stdout,
	}
}

// NewCommands creates the ctl CLI commands.
func NewCommands() *cobra.Command {
	var apiURL string
	var apiToken string

	root := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running proxyreg server",
	}

	root.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8082", "API server URL")
	root.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("PROXYREG_TOKEN"), "API authentication token (env PROXYREG_TOKEN)")

	client := func(cmd *cobra.Command) *APIClient {
		c := NewAPIClient(apiURL, apiToken)
		c.Out = cmd.OutOrStdout()
		return c
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).ShowStatus(cmd.Context())
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).CheckHealth(cmd.Context())
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the registry diagnostic dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).Dump(cmd.Context())
		},
	}

	root.AddCommand(statusCmd, healthCmd, newProxyCommand(client), newConfigCommand(client), dumpCmd)
	return root
}

func newProxyCommand(client func(*cobra.Command) *APIClient) *cobra.Command {
	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage proxies",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all proxies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).ListProxies(cmd.Context())
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show proxy details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).ShowProxy(cmd.Context(), args[0])
		},
	}

	var req apiserver.CreateProxyRequest
	var ipv6 bool
	var address string
	var port int
	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a new proxy",
		Long: `Add a new proxy. Fields that are not given take their defaults
(type http, ipv6 off, address 127.0.0.1, port 3128).

Example:
  proxyreg ctl proxy add local --type socks5 --address 10.0.0.1 --port 1080
  proxyreg ctl proxy add corp --address proxy.corp.example --username me --password secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if cmd.Flags().Changed("ipv6") {
				req.IPv6 = &ipv6
			}
			if cmd.Flags().Changed("address") {
				req.Address = &address
			}
			if cmd.Flags().Changed("port") {
				req.Port = &port
			}
			return client(cmd).AddProxy(cmd.Context(), req)
		},
	}
	addCmd.Flags().StringVarP(&req.Type, "type", "t", "", "Proxy type: "+strings.Join(typeNames(), ", "))
	addCmd.Flags().BoolVar(&ipv6, "ipv6", false, "Connect to the proxy over IPv6")
	addCmd.Flags().StringVarP(&address, "address", "a", "", "Proxy address")
	addCmd.Flags().IntVarP(&port, "port", "p", 0, "Proxy port")
	addCmd.Flags().StringVarP(&req.Username, "username", "u", "", "Proxy username")
	addCmd.Flags().StringVar(&req.Password, "password", "", "Proxy password")

	setCmd := &cobra.Command{
		Use:   "set [name] [property=value]...",
		Short: "Set proxy properties",
		Long: `Set one or more properties of a proxy, applied in order.
Properties: name, ` + strings.Join(proxy.FieldNames(), ", ") + `.

Example:
  proxyreg ctl proxy set local port=1081 ipv6=on`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseUpdates(args[1:])
			if err != nil {
				return err
			}
			return client(cmd).SetProperties(cmd.Context(), args[0], updates)
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename [name] [new-name]",
		Short: "Rename a proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).RenameProxy(cmd.Context(), args[0], args[1])
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).RemoveProxy(cmd.Context(), args[0])
		},
	}

	optionCmd := &cobra.Command{
		Use:   "option [name.field]",
		Short: "Show a proxy option by its qualified key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).ShowOption(cmd.Context(), args[0])
		},
	}

	proxyCmd.AddCommand(listCmd, showCmd, addCmd, setCmd, renameCmd, removeCmd, optionCmd)
	return proxyCmd
}

func newConfigCommand(client func(*cobra.Command) *APIClient) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Reload proxies from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).ReloadConfig(cmd.Context())
		},
	}

	var backup bool
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Write the current proxies to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(cmd).SaveConfig(cmd.Context(), backup)
		},
	}
	saveCmd.Flags().BoolVarP(&backup, "backup", "b", true, "Back up the existing file first")

	configCmd.AddCommand(reloadCmd, saveCmd)
	return configCmd
}

func typeNames() []string {
	names := make([]string, 0, proxy.NumTypes)
	for t := proxy.Type(0); t < proxy.NumTypes; t++ {
		names = append(names, t.String())
	}
	return names
}

// parseUpdates turns property=value arguments into ordered updates.
func parseUpdates(args []string) ([]apiserver.PropertyUpdate, error) {
	updates := make([]apiserver.PropertyUpdate, 0, len(args))
	for _, arg := range args {
		prop, value, ok := strings.Cut(arg, "=")
		if !ok || prop == "" {
			return nil, fmt.Errorf("invalid update %q: expected property=value", arg)
		}
		updates = append(updates, apiserver.PropertyUpdate{Property: prop, Value: value})
	}
	return updates, nil
}

func (c *APIClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// call sends body and decodes the response into v when the status is want.
func (c *APIClient) call(ctx context.Context, method, path string, body any, want int, v any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiError reads the error message from a failed response.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // Best effort read for error message

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "" && payload.Message != "":
			return fmt.Errorf("API error: %s - %s: %s", resp.Status, payload.Error, payload.Message)
		case payload.Error != "":
			return fmt.Errorf("API error: %s - %s", resp.Status, payload.Error)
		case payload.Message != "":
			return fmt.Errorf("API error: %s - %s", resp.Status, payload.Message)
		}
	}
	return fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
}

func proxyPath(name string) string {
	return "/api/v1/proxies/" + url.PathEscape(name)
}

// ShowStatus displays the server status.
func (c *APIClient) ShowStatus(ctx context.Context) error {
	var status apiserver.StatusResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, http.StatusOK, &status); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "Status: %s\n", status.Status)
	fmt.Fprintf(c.Out, "Version: %s\n", status.Version)
	fmt.Fprintf(c.Out, "Uptime: %s\n", status.Uptime)
	fmt.Fprintf(c.Out, "Proxies: %d\n", status.Proxies)
	if status.ConfigPath != "" {
		fmt.Fprintf(c.Out, "Config: %s\n", status.ConfigPath)
	}
	return nil
}

// CheckHealth checks server health.
func (c *APIClient) CheckHealth(ctx context.Context) error {
	var health map[string]interface{}
	if err := c.call(ctx, http.MethodGet, "/api/v1/health", nil, http.StatusOK, &health); err != nil {
		return err
	}

	if health["status"] == "healthy" {
		fmt.Fprintln(c.Out, "Server is healthy")
		return nil
	}
	fmt.Fprintf(c.Out, "Server health: %v\n", health["status"])
	return nil
}

// ListProxies lists all proxies in registry order.
func (c *APIClient) ListProxies(ctx context.Context) error {
	var infos []proxy.Info
	if err := c.call(ctx, http.MethodGet, "/api/v1/proxies", nil, http.StatusOK, &infos); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tADDRESS\tPORT\tIPV6\tUSERNAME")
	for _, p := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n", p.Name, p.Type, p.Address, p.Port, p.IPv6, p.Username)
	}
	return w.Flush()
}

// ShowProxy shows details for one proxy.
func (c *APIClient) ShowProxy(ctx context.Context, name string) error {
	var info proxy.Info
	if err := c.call(ctx, http.MethodGet, proxyPath(name), nil, http.StatusOK, &info); err != nil {
		return err
	}
	return c.printJSON(info)
}

// AddProxy creates a proxy.
func (c *APIClient) AddProxy(ctx context.Context, req apiserver.CreateProxyRequest) error {
	var info proxy.Info
	if err := c.call(ctx, http.MethodPost, "/api/v1/proxies", req, http.StatusCreated, &info); err != nil {
		return fmt.Errorf("failed to add proxy: %w", err)
	}

	fmt.Fprintf(c.Out, "Proxy '%s' added successfully (type: %s, address: %s:%d)\n",
		info.Name, info.Type, info.Address, info.Port)
	return nil
}

// SetProperties applies updates to a proxy in order.
func (c *APIClient) SetProperties(ctx context.Context, name string, updates []apiserver.PropertyUpdate) error {
	var info proxy.Info
	if err := c.call(ctx, http.MethodPatch, proxyPath(name), updates, http.StatusOK, &info); err != nil {
		return fmt.Errorf("failed to update proxy: %w", err)
	}

	fmt.Fprintf(c.Out, "Proxy '%s' updated\n", info.Name)
	return nil
}

// RenameProxy renames a proxy.
func (c *APIClient) RenameProxy(ctx context.Context, name, newName string) error {
	body := apiserver.SetPropertyRequest{Value: newName}
	if err := c.call(ctx, http.MethodPut, proxyPath(name)+"/name", body, http.StatusOK, nil); err != nil {
		return fmt.Errorf("failed to rename proxy: %w", err)
	}

	fmt.Fprintf(c.Out, "Proxy '%s' renamed to '%s'\n", name, newName)
	return nil
}

// RemoveProxy deletes a proxy.
func (c *APIClient) RemoveProxy(ctx context.Context, name string) error {
	if err := c.call(ctx, http.MethodDelete, proxyPath(name), nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to remove proxy: %w", err)
	}

	fmt.Fprintf(c.Out, "Proxy '%s' removed successfully\n", name)
	return nil
}

// ShowOption shows one option addressed by its qualified key.
func (c *APIClient) ShowOption(ctx context.Context, qualified string) error {
	name, field, ok := strings.Cut(qualified, ".")
	if !ok || name == "" || field == "" {
		return fmt.Errorf("invalid option key %q: expected name.field", qualified)
	}

	var info apiserver.OptionInfo
	path := proxyPath(name) + "/options/" + url.PathEscape(field)
	if err := c.call(ctx, http.MethodGet, path, nil, http.StatusOK, &info); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Key:\t%s\n", info.Key)
	fmt.Fprintf(w, "Kind:\t%s\n", info.Kind)
	fmt.Fprintf(w, "Value:\t%s\n", info.Value)
	fmt.Fprintf(w, "Default:\t%s\n", info.Default)
	if len(info.Values) > 0 {
		fmt.Fprintf(w, "Values:\t%s\n", strings.Join(info.Values, ", "))
	} else if info.Max > 0 {
		fmt.Fprintf(w, "Range:\t%d..%d\n", info.Min, info.Max)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", info.Description)
	}
	return w.Flush()
}

// Dump prints the registry diagnostic dump.
func (c *APIClient) Dump(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/dump", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, err = io.Copy(c.Out, resp.Body)
	return err
}

// ReloadConfig triggers a configuration reload.
func (c *APIClient) ReloadConfig(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/config/reload", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	fmt.Fprintln(c.Out, "Configuration reloaded successfully")
	return nil
}

// SaveConfig asks the server to write its proxies to the config file.
func (c *APIClient) SaveConfig(ctx context.Context, backup bool) error {
	var resp apiserver.ConfigSaveResponse
	req := apiserver.ConfigSaveRequest{CreateBackup: backup}
	if err := c.call(ctx, http.MethodPost, "/api/v1/config/save", req, http.StatusOK, &resp); err != nil {
		return fmt.Errorf("save failed: %w", err)
	}

	fmt.Fprintf(c.Out, "Configuration saved to %s\n", resp.Path)
	if resp.BackupPath != "" {
		fmt.Fprintf(c.Out, "Backup: %s\n", resp.BackupPath)
	}
	return nil
}

func (c *APIClient) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Out, string(data))
	return nil
}
