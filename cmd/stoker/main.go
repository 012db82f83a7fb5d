package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/stoker/internal/accounts"
	"github.com/seantiz/stoker/internal/api"
	"github.com/seantiz/stoker/internal/config"
	"github.com/seantiz/stoker/internal/keeper"
	"github.com/seantiz/stoker/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("stoker: starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
	)

	var (
		taskStore    store.TaskStore
		accountStore store.AccountStore
	)
	switch cfg.Store {
	case config.StoreSQLite:
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		taskStore, accountStore = db, db
	default:
		fs := store.NewFileStore(cfg.TasksPath, cfg.AccountsPath)
		taskStore, accountStore = fs, fs
	}

	// A configured storage repo overrides the local task store; tasks then
	// survive redeploys on hosts without a persistent disk.
	if ts := cfg.Secrets.TaskStorage; cfg.Secrets.RemoteTaskStorage() {
		logger.Info("using repository task storage", "repo", ts.Repo, "branch", ts.Branch)
		taskStore = store.NewContentsStore(ts.Token, ts.Repo, ts.Branch)
	}

	ctx := context.Background()

	registry := accounts.NewRegistry(accountStore)
	if err := registry.Load(ctx, cfg.Secrets.Accounts); err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	logger.Info("accounts loaded", "count", len(registry.Names()))

	kp := keeper.New(taskStore, registry, keeper.Options{
		CheckBuffer: cfg.CheckBuffer,
		SettleDelay: cfg.SettleDelay,
		RetryDelay:  cfg.RetryDelay,
	}, logger)
	if err := kp.Start(ctx); err != nil {
		log.Fatalf("failed to start keeper: %v", err)
	}
	defer kp.Stop()

	srv := api.NewServer(cfg, registry, kp, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
