// ABOUTME: Gateway orchestrator wiring the store, registry, triage and chat handler behind one HTTP server
// ABOUTME: Manages listeners (TCP or tailnet), the HTTP server lifecycle and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/prism-gateway/internal/areas"
	"github.com/2389/prism-gateway/internal/chat"
	"github.com/2389/prism-gateway/internal/config"
	"github.com/2389/prism-gateway/internal/conversation"
	"github.com/2389/prism-gateway/internal/dedupe"
	"github.com/2389/prism-gateway/internal/llm"
	"github.com/2389/prism-gateway/internal/registry"
	"github.com/2389/prism-gateway/internal/store"
	"github.com/2389/prism-gateway/internal/triage"
)

// Gateway orchestrates the prism-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	ownsStore   bool
	registry    *registry.Registry
	lifecycle   *conversation.Lifecycle
	matcher     *areas.Matcher
	chat        *chat.Handler
	dedupe      *dedupe.Cache
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// now stamps envelopes published by the HTTP API
	now func() time.Time
}

type options struct {
	store    store.Store
	provider llm.Provider
}

// Option customizes gateway construction
type Option func(*options)

// WithStore uses s instead of opening the configured database. The caller
// keeps ownership and must close it.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithProvider uses p instead of building the configured language-model provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New creates a gateway from cfg. The database is opened and migrated here.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s, owns := o.store, false
	if s == nil {
		opened, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		s, owns = opened, true
	}

	provider := o.provider
	if provider == nil {
		p, err := llm.New(llm.Settings{
			Provider:         cfg.LLM.Provider,
			Model:            cfg.LLM.Model,
			Timeout:          cfg.LLM.Timeout,
			APIKey:           cfg.LLM.APIKey,
			BaseURL:          cfg.LLM.BaseURL,
			YandexOAuthToken: cfg.LLM.YandexOAuthToken,
			YandexFolderID:   cfg.LLM.YandexFolderID,
		})
		if err != nil {
			if owns {
				_ = s.Close()
			}
			return nil, fmt.Errorf("creating llm provider: %w", err)
		}
		provider = p
	}

	reg := registry.New(logger, registry.WithSendTimeout(cfg.Chat.SendTimeout))
	lifecycle := conversation.NewLifecycle(s, logger)
	pipeline := conversation.NewPipeline(s, logger)
	engine := triage.NewEngine(s, provider, triage.Config{
		BasePrompt:     cfg.Assistant.SystemPrompt,
		Temperature:    cfg.Assistant.Temperature,
		MaxTokens:      cfg.Assistant.MaxTokens,
		Model:          cfg.LLM.Model,
		HistoryWindow:  cfg.Assistant.HistoryWindow,
		AutoDerivation: !cfg.Assistant.DisableAutoDerivation,
	}, logger)
	cache := dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeMaxEntries)

	gw := &Gateway{
		config:    cfg,
		store:     s,
		ownsStore: owns,
		registry:  reg,
		lifecycle: lifecycle,
		matcher:   areas.NewMatcher(areas.DefaultLexicon),
		dedupe:    cache,
		logger:    logger.With("component", "gateway"),
		now:       time.Now,
	}
	gw.chat = chat.NewHandler(chat.Config{
		Registry:       reg,
		Store:          s,
		Lifecycle:      lifecycle,
		Pipeline:       pipeline,
		Triage:         engine,
		Dedupe:         cache,
		AllowedOrigins: allowedOrigins(cfg.Server.AllowedOrigins),
		ReadLimit:      cfg.Chat.ReadLimit,
		FrameTimeout:   cfg.Chat.FrameTimeout,
		Logger:         logger,
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the API and WebSocket endpoints.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts serving and blocks until ctx is canceled or the server fails,
// then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, closes every WebSocket and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server: %w", err))
	}

	// hijacked WebSocket connections are not tracked by http.Server
	g.registry.Close()
	g.dedupe.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale: %w", err))
		}
	}
	if g.ownsStore {
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the configured state dir or a default under ~/.local/share.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "prism-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the configured key or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, :443 with
// tailnet certificates, or Funnel.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

func (g *Gateway) tailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}
