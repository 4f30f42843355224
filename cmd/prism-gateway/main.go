// ABOUTME: Entry point for the prism-gateway support chat server
// ABOUTME: Provides serve, init, health and match subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/prism-gateway/internal/areas"
	"github.com/2389/prism-gateway/internal/config"
	"github.com/2389/prism-gateway/internal/gateway"
	"github.com/2389/prism-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                                 _
 _ __  _ __ (_)___ _ __ ___        __ _  __ _| |_ _____      ____ _ _   _
| '_ \| '__|| / __| '_ ' _ \ _____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | |   | \__ \ | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/|_|   |_|___/_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                                |___/                             |___/
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: prism-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the gateway server")
	fmt.Fprintln(w, "  init           Write a starter config file")
	fmt.Fprintln(w, "  health         Check gateway health")
	fmt.Fprintln(w, "  match <query>  Find the best area for a query")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "match":
		err = runMatch(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when it exists, otherwise builds the
// configuration from PRISM_* environment variables alone.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("LLM:       %s %s\n", cfg.LLM.Provider, cfg.LLM.Model)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Assistant.DisableAutoDerivation {
		yellow.Print("    ! ")
		fmt.Println("Automatic derivation disabled")
	}

	fmt.Println()

	logger.Info("starting prism-gateway",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"db_driver", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	path := config.DefaultPath()
	if err := config.WriteStarter(path); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("config already exists at %s", path)
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote starter config to %s\n", path)
	fmt.Println("  Set llm.api_key (or PRISM_OPENAI_API_KEY) before running 'prism-gateway serve'.")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// healthURL builds the local health endpoint for a listen address. Wildcard
// hosts are dialed through loopback.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func runMatch(ctx context.Context, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("usage: prism-gateway match <query>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	candidates, err := s.ListActiveAreas(ctx)
	if err != nil {
		return fmt.Errorf("listing areas: %w", err)
	}

	area, score := areas.NewMatcher(areas.DefaultLexicon).BestMatch(query, candidates)
	if area == nil {
		color.New(color.FgYellow).Print("✗ ")
		fmt.Printf("No area matches %q (best score %.2f)\n", query, score)
		return nil
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("%s (score %.2f)\n", area.Name, score)
	if area.Specialist != "" {
		fmt.Printf("  Specialist: %s\n", area.Specialist)
	}
	if area.ResponseMinutes != nil {
		fmt.Printf("  Response:   ~%d min\n", *area.ResponseMinutes)
	}
	return nil
}
