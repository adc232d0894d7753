package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pwm-relay/internal/bridge"
	"pwm-relay/internal/config"
	"pwm-relay/internal/logging"
	"pwm-relay/internal/web"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pwm-relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML config (empty = built-in defaults)")
	listen := fs.String("listen", "", "Override relay.listen (host:port)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, *listen)
	if err != nil {
		fmt.Fprintf(stderr, "pwm-relay: %v\n", err)
		return 1
	}

	logs := web.NewLogBuffer(500)
	logger, closer := logging.Init(cfg.Log, logs)
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("pwm-relay starting", "listen", cfg.Relay.Listen, "backend", cfg.Actuator.Backend)
	b := bridge.New(cfg, bridge.Deps{Logger: logger, Logs: logs})
	if err := b.Run(ctx); err != nil {
		logger.Error("pwm-relay stopped", "error", err)
		return 1
	}
	logger.Info("pwm-relay stopped")
	return 0
}

func loadConfig(path, listen string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	if listen != "" {
		cfg.Relay.Listen = listen
		if err := config.DefaultAndValidate(&cfg); err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
	}
	return cfg, nil
}
