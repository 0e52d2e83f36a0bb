package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"shale/internal/config"
	"shale/internal/db"
	"shale/internal/server"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dir := flag.String("dir", "", "data directory (overrides config)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *dir, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "shaled: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dir, listen string) (err error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if dir != "" {
		cfg.BasePath = dir
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	engine, err := db.Open(append(cfg.DBOptions(), db.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.BasePath, err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("shaled starting",
		zap.String("dir", cfg.BasePath),
		zap.String("addr", cfg.ListenAddr))

	srv := server.New(engine, cfg.ServerOptions(), logger)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		return err
	}
	logger.Info("shaled stopped")
	return nil
}
