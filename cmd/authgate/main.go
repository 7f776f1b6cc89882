package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/authgate/internal/config"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/server"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"baseURL":   "https://app.yourcompany.com/auth",
		"addr":      ":8080",
		"trustHost": true,
		"secrets":   []any{map[string]string{"$env": "AUTH_SECRET"}},
		"session": map[string]any{
			"strategy":  "jwt",
			"maxAge":    "720h",
			"updateAge": "24h",
		},
		"storage": map[string]any{
			"kind": "memory",
		},
		"providers": map[string]any{
			"google": map[string]any{
				"clientId":     map[string]string{"$env": "GOOGLE_CLIENT_ID"},
				"clientSecret": map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
			},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(ctx context.Context, path string) error {
	opts, _, cleanup, err := config.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}
	defer func() { _ = cleanup() }()

	result := config.Validate(opts)

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			fmt.Printf("  - %s: %s\n", err.Path, err.Message)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
		}
	}

	fmt.Println()
	if result.IsValid() && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
		return nil
	}
	fmt.Println("Result: FAIL")
	return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	ctx := context.Background()

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(ctx, *conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	opts, file, cleanup, err := config.Load(ctx, *conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	defer func() { _ = cleanup() }()

	handler, err := server.New(opts)
	if err != nil {
		log.LogError("Failed to build auth handler: %v", err)
		os.Exit(1)
	}

	logger := log.Default("main")
	logger.Info("Starting authgate", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
		"baseURL": opts.BaseURL,
	})

	mux := http.NewServeMux()
	mux.Handle("/health", server.HealthHandler{})
	mux.Handle("/", handler)

	addr := file.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := server.NewHTTPServer(mux, addr, log.Default("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.LogError("Server failed: %v", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("Shutting down", map[string]any{"signal": sig.String()})
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.LogError("Graceful shutdown failed: %v", err)
			os.Exit(1)
		}
	}
}
