// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Anteroom is a multi-tenant gateway: it validates API keys upstream,
// issues signed session cookies, and proxies HTTP and WebSocket
// traffic to per-tenant backend processes in isolated sandboxes,
// cold-starting them on demand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/anteroom-project/anteroom/gateway"
	"github.com/anteroom-project/anteroom/gateway/activity"
	"github.com/anteroom-project/anteroom/lib/identity"
	"github.com/anteroom-project/anteroom/lib/version"
	"github.com/anteroom-project/anteroom/lifecycle"
	"github.com/anteroom-project/anteroom/relay"
	"github.com/anteroom-project/anteroom/sandbox"
)

// localSandboxBasePort is where local sandbox port allocation starts.
const localSandboxBasePort = 30000

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var listen string
	var devTenant string
	var showVersion bool

	pflag.StringVar(&configPath, "config", "", "path to the YAML config file")
	pflag.StringVar(&listen, "listen", "", "bind address (overrides config)")
	pflag.StringVar(&devTenant, "dev", "", "pin proxied requests to a fixed tenant (local iteration only)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("anteroom %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	config, err := gateway.LoadFileConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		config.Listen = listen
	}
	if devTenant != "" {
		config.DevTenant = devTenant
	}
	secrets := gateway.SecretsFromEnv()

	logger.Info("starting anteroom",
		"version", version.Info(),
		"listen", config.Listen,
		"backend_port", config.Backend.Port,
	)
	if secrets.SigningSecret == "" || secrets.EncryptionSecret == "" {
		logger.Warn("signing/encryption secrets not configured; login will report a configuration error")
	}

	apiBase := secrets.APIBase
	if apiBase == "" {
		apiBase = identity.DefaultBaseURL
	}
	validator := identity.NewValidator(apiBase, nil)

	resolver := sandbox.NewLocal(config.SandboxRoot, localSandboxBasePort, logger)

	controller, err := lifecycle.NewController(lifecycle.Config{
		Command:        config.Backend.Command,
		Port:           config.Backend.Port,
		StartupTimeout: config.Backend.StartupTimeout.Std(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	rl, err := relay.New(relay.Config{
		Controller:       controller,
		Port:             config.Backend.Port,
		GatewayToken:     secrets.GatewayToken,
		EncryptionSecret: secrets.EncryptionSecret,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	var store *activity.Store
	if config.ActivityDB != "" {
		store, err = activity.Open(activity.Config{Path: config.ActivityDB, Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()
	}

	gw, err := gateway.New(gateway.Config{
		File:      config,
		Secrets:   secrets,
		Validator: validator,
		Resolver:  resolver,
		Relay:     rl,
		Activity:  store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              config.Listen,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errs:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("anteroom stopped")
	return nil
}
