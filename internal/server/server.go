// Package server provides the proxyreg service: it owns the option store and
// proxy registry, loads and saves them through the config file, and runs the
// administrative API, metrics endpoint and config watcher.
package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apiserver "github.com/rennerdo30/proxyreg/internal/api/server"
	"github.com/rennerdo30/proxyreg/internal/config"
	"github.com/rennerdo30/proxyreg/internal/logging"
	"github.com/rennerdo30/proxyreg/internal/metrics"
	"github.com/rennerdo30/proxyreg/internal/option"
	"github.com/rennerdo30/proxyreg/internal/proxy"
	"github.com/rennerdo30/proxyreg/internal/watch"
)

// OptionSection is the option section holding proxy definitions.
const OptionSection = "proxy"

// shutdownTimeout bounds HTTP server shutdown after the context ends.
const shutdownTimeout = 5 * time.Second

// Server is the main proxyreg service.
type Server struct {
	// mu guards this block and any in-flight load.
	mu         sync.Mutex
	config     *config.Config
	configPath string
	section    *option.Section
	registry   *proxy.Registry
	lastHash   [sha256.Size]byte

	metrics *metrics.Metrics
	logger  *slog.Logger

	runMu       sync.Mutex
	running     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	apiAddr     net.Addr
	metricsAddr net.Addr
}

// New creates a server and loads the proxies defined in cfg.
func New(cfg *config.Config) (*Server, error) {
	if err := logging.Setup(cfg.Logging); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	entries, err := cfg.ProxyEntries()
	if err != nil {
		return nil, fmt.Errorf("read proxy section: %w", err)
	}

	section := option.NewStore().Section(OptionSection)

	s := &Server{
		config:  cfg,
		section: section,
		metrics: metrics.New(),
		logger:  logging.WithComponent("server"),
	}
	s.registry = proxy.NewRegistry(section, logging.WithComponent("proxy"))
	section.OnChange(s.onOptionChange)

	if err := s.metrics.Register(metrics.NewCollector(s.snapshot)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}

	res := s.loadEntries(entries)
	s.logger.Info("Proxies loaded", "count", len(res.Promoted), "discarded", len(res.Discarded))
	return s, nil
}

// SetConfigPath sets the file used by ReloadConfig and SaveConfig.
func (s *Server) SetConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
	if data, err := os.ReadFile(path); err == nil {
		s.lastHash = sha256.Sum256(data)
	}
}

// ConfigPath returns the config file in use.
func (s *Server) ConfigPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configPath
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Do runs fn with exclusive access to the registry.
func (s *Server) Do(fn func(reg *proxy.Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.registry)
}

// Dump writes the registry diagnostic dump to w.
func (s *Server) Dump(w io.Writer) error {
	return s.Do(func(reg *proxy.Registry) error {
		return reg.Dump(w)
	})
}

// snapshot is read by the metrics collector at scrape time.
func (s *Server) snapshot() []proxy.Info {
	var infos []proxy.Info
	_ = s.Do(func(reg *proxy.Registry) error {
		infos = make([]proxy.Info, 0, reg.Len())
		for _, p := range reg.All() {
			infos = append(infos, p.Snapshot())
		}
		return nil
	})
	return infos
}

// onOptionChange runs with s.mu held, from inside a registry Set.
func (s *Server) onOptionChange(opt *option.Option) {
	p := s.registry.Owner(opt)
	if p == nil {
		return
	}
	for f := proxy.Field(0); f < proxy.NumFields; f++ {
		if p.Option(f) == opt {
			s.logger.Debug("Proxy option changed", "proxy", p.Name(), "option", f.String())
			s.metrics.RecordOptionChange(f.String())
			return
		}
	}
}

// loadEntries stages entries into a fresh load and commits it. The caller
// must hold s.mu or own s exclusively.
func (s *Server) loadEntries(entries []config.Entry) proxy.LoadResult {
	load := s.registry.BeginLoad()
	for _, e := range entries {
		if err := load.StageOption(e.Key, e.Value); err != nil {
			s.logger.Warn("Skipping proxy option",
				"key", e.Key,
				"line", e.Line,
				"error", err,
			)
		}
	}
	res := load.Commit()
	s.metrics.RecordLoad(len(res.Promoted), len(res.Discarded))
	return res
}

// ReloadConfig replaces every proxy with the definitions in the config file,
// discarding unsaved changes. The registry is left untouched if the file
// cannot be read or parsed.
func (s *Server) ReloadConfig() error {
	err := s.reload(true)
	s.metrics.RecordReload(err)
	return err
}

// ReloadIfChanged is ReloadConfig for file change events: a file that is
// byte-identical to the last one loaded or saved is skipped.
func (s *Server) ReloadIfChanged() error {
	err := s.reload(false)
	s.metrics.RecordReload(err)
	return err
}

func (s *Server) reload(force bool) error {
	path := s.ConfigPath()
	if path == "" {
		return errors.New("config path not set - cannot reload")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	hash := sha256.Sum256(data)

	newCfg := config.DefaultConfig()
	if err := config.Parse(data, &newCfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	entries, err := newCfg.ProxyEntries()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && hash == s.lastHash {
		s.logger.Debug("Config unchanged, skipping reload", "path", path)
		return nil
	}

	s.registry.DeleteAll()
	res := s.loadEntries(entries)
	s.config.Proxy = newCfg.Proxy
	s.lastHash = hash

	s.logger.Info("Configuration reloaded",
		"path", path,
		"proxies", len(res.Promoted),
		"discarded", len(res.Discarded),
	)
	return nil
}

// SaveConfig writes the current proxies back to the config file, optionally
// backing up the previous file first. It returns the backup path.
func (s *Server) SaveConfig(backup bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configPath == "" {
		return "", errors.New("config path not set - cannot save")
	}

	var backupPath string
	if backup {
		if _, err := os.Stat(s.configPath); err == nil {
			backupPath, err = config.Backup(s.configPath)
			if err != nil {
				return "", fmt.Errorf("backup config: %w", err)
			}
		}
	}

	s.config.SetProxyOptions(s.section.Options())
	data, err := s.encodeConfig()
	if err != nil {
		return backupPath, err
	}
	if err := config.WriteFile(s.configPath, data); err != nil {
		return backupPath, err
	}
	s.lastHash = sha256.Sum256(data)

	s.logger.Info("Configuration saved", "path", s.configPath, "proxies", s.registry.Len())
	return backupPath, nil
}

// encodeConfig rewrites only the proxy section of the existing file so other
// sections keep their comments and unexpanded variables. A missing file is
// written from the in-memory config.
func (s *Server) encodeConfig() ([]byte, error) {
	current, err := os.ReadFile(s.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return config.Marshal(s.config)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}
	return s.config.UpdateProxySection(current)
}

// Start starts the API and metrics servers and the config watcher. It
// returns once the listeners are bound.
func (s *Server) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	cfg := s.config

	if cfg.API.Enabled {
		api := apiserver.New(apiserver.Config{
			Backend:   s,
			Token:     cfg.API.Token,
			TokenHash: cfg.API.TokenHash,
			Metrics:   s.metrics,
		})
		addr, err := s.serve(gctx, g, "API", cfg.API.Listen, api.Router())
		if err != nil {
			cancel()
			return err
		}
		s.apiAddr = addr
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics.Handler())

		addr, err := s.serve(gctx, g, "Metrics", cfg.Metrics.Listen, mux)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		s.metricsAddr = addr
	}

	if cfg.Watch.Enabled && s.ConfigPath() != "" {
		w := watch.New(s.ConfigPath(), cfg.Watch.Debounce.Duration(), logging.WithComponent("watch"))
		g.Go(func() error {
			return w.Watch(gctx, s.ReloadIfChanged)
		})
	}

	// Keep the group alive until Stop even when nothing else runs.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	s.cancel = cancel
	s.group = g
	s.running = true
	s.logger.Info("proxyreg server started", "proxies", s.registryLen())
	return nil
}

// serve binds listen and serves h until ctx ends.
func (s *Server) serve(ctx context.Context, g *errgroup.Group, name, listen string, h http.Handler) (net.Addr, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info(name+" server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return ln.Addr(), nil
}

// Wait blocks until the server stops and returns the first serving error.
func (s *Server) Wait() error {
	s.runMu.Lock()
	g := s.group
	s.runMu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop shuts the server down, waiting at most until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	cancel, g := s.cancel, s.group
	s.runMu.Unlock()

	s.logger.Info("Stopping proxyreg server")
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		s.logger.Info("proxyreg server stopped")
		return err
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline exceeded")
		return ctx.Err()
	}
}

// Running reports whether the server has been started and not stopped.
func (s *Server) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// APIAddr returns the bound API address, or nil when the API is disabled.
func (s *Server) APIAddr() net.Addr {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.apiAddr
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.metricsAddr
}

func (s *Server) registryLen() int {
	var n int
	_ = s.Do(func(reg *proxy.Registry) error {
		n = reg.Len()
		return nil
	})
	return n
}
