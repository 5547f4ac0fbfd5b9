// Command reelpiped runs the processing daemon standalone, without the CLI
// wrapper. It reads the default configuration, starts the worker pool and
// the HTTP API, and blocks until terminated.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"reelpipe/internal/config"
	"reelpipe/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
