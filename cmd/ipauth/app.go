package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bcnelson/ipauth-sync/internal/config"
	"github.com/bcnelson/ipauth-sync/internal/resolver"
	"github.com/bcnelson/ipauth-sync/internal/service"
	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/bcnelson/ipauth-sync/internal/storage/memory"
	"github.com/bcnelson/ipauth-sync/internal/storage/sql"
	"github.com/bcnelson/ipauth-sync/internal/webshare"
	"github.com/cyclopcam/logs"
)

// app holds the wired components shared by the run and once commands.
type app struct {
	cfg        *config.Config
	store      storage.Storage
	reconciler *service.Reconciler
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires storage, the remote client, the resolver and the reconciler.
func newApp(cfg *config.Config, log logs.Log, onReady func()) (*app, error) {
	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Webshare client (or file shim for testing)
	var client webshare.AuthorizationClient
	var lookup resolver.AddressLookup
	if cfg.UseFileShim() {
		log.Infof("Using file shim for Webshare API: %s", cfg.Webshare.FileShim)
		shim := webshare.NewFileShim(cfg.Webshare.FileShim, log)
		client, lookup = shim, shim
	} else {
		wc := webshare.New(cfg.Webshare.BaseURL, cfg.Webshare.Token, cfg.Webshare.RequestTimeout, log)
		client, lookup = wc, wc
	}

	var res resolver.Resolver
	if cfg.UseCommandResolver() {
		log.Infof("Resolving addresses with external command: %s", cfg.Resolver.Command)
		res = resolver.NewCommandResolver(cfg.Resolver.Command, log)
	} else {
		res = resolver.NewHTTPResolver(lookup, log)
	}

	reconciler := service.NewReconciler(res, client, store, log, service.Options{
		Interval:      cfg.Sync.Interval(),
		RetryDelay:    cfg.Sync.RetryDelay,
		WipeOnStartup: cfg.Sync.RemoveAllAuthsOnStartup,
		OnReady:       onReady,
	})

	return &app{cfg: cfg, store: store, reconciler: reconciler}, nil
}

func openStore(cfg config.DatabaseConfig) (storage.Storage, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}

	// Create data directory if needed (for SQLite)
	if cfg.Driver == "sqlite3" || cfg.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	store, err := sql.New(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func closeStore(store storage.Storage) error {
	if err := store.Close(); err != nil {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}
