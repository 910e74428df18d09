package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/wordsync/internal/core/config"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	listen := flag.String("listen", "", "listen address, overrides the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	logger := log.NewWithOptions(cfg.LogOptions())
	defer func() { _ = logger.Sync() }()

	srv, err := server.NewServer(server.ConfigFrom(cfg), server.WithLogger(logger))
	if err != nil {
		logger.Error("Error creating server", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the server
	if err := srv.Start(ctx); err != nil {
		logger.Error("Error starting server", log.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	if err := srv.Close(); err != nil {
		logger.Error("Error stopping server", log.Error(err))
	}
}
