package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/config"
	"github.com/jonathan/session-runner/internal/lifecycle"
	"github.com/jonathan/session-runner/internal/notify"
	"github.com/jonathan/session-runner/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort            int
	serveDatabaseURL     string
	serveBlueprintSource string
	serveBlueprintDir    string
	serveNotifyURL       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes the session run endpoints. Requires JWT_SECRET for bearer token validation.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default 8080)")
	serveCmd.Flags().StringVar(&serveDatabaseURL, "database-url", "", "PostgreSQL connection URL")
	serveCmd.Flags().StringVar(&serveBlueprintSource, "blueprint-source", "", `Where blueprints are loaded from: "db" or "files"`)
	serveCmd.Flags().StringVar(&serveBlueprintDir, "blueprint-dir", "", "Directory of blueprint files when --blueprint-source=files")
	serveCmd.Flags().StringVar(&serveNotifyURL, "notify-url", "", "Webhook receiving run completion events")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(config.Config{
		Port:            servePort,
		DatabaseURL:     serveDatabaseURL,
		BlueprintSource: serveBlueprintSource,
		BlueprintDir:    serveBlueprintDir,
		NotifyURL:       serveNotifyURL,
	})
	if err != nil {
		return err
	}

	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}

	var blueprints lifecycle.BlueprintProvider = database
	if cfg.BlueprintSource == config.BlueprintSourceFiles {
		blueprints = blueprint.NewFileProvider(cfg.BlueprintDir)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		database.Close()
		return err
	}

	if cfg.Verbose {
		log.Printf("[serve] blueprints from %s, autosave every %v, notify timeout %v",
			cfg.BlueprintSource, cfg.AutosaveInterval(), cfg.NotifyTimeout())
	}

	ctrl := lifecycle.New(database, database, blueprints, notifier, lifecycle.Config{
		AutosaveInterval: cfg.AutosaveInterval(),
		SaveTimeout:      cfg.AutosaveTimeout(),
		NotifyTimeout:    cfg.NotifyTimeout(),
	})

	tokens := server.NewJWTService(jwtCfg).AsTokenValidator()
	srv := server.New(server.Config{Port: cfg.Port}, ctrl, database, tokens)
	srv.OnShutdown(ctrl.Wait)
	srv.OnShutdown(database.Close)

	return srv.Start()
}

// newNotifier picks the completion collaborator: a webhook when configured,
// otherwise a log line per completed run.
func newNotifier(cfg config.Config) (lifecycle.CompletionNotifier, error) {
	if cfg.NotifyURL == "" {
		return notify.Log{}, nil
	}
	webhook, err := notify.NewWebhook(cfg.NotifyURL, &http.Client{Timeout: cfg.NotifyTimeout()})
	if err != nil {
		return nil, fmt.Errorf("failed to configure completion webhook: %w", err)
	}
	return webhook, nil
}
