package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketfeed/internal/config"
	"marketfeed/internal/obslog"
	"marketfeed/internal/service"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "marketfeed",
		Usage: "real-time OHLCV candle fan-out service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/default.yaml",
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level (debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "marketfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	log, err := obslog.New(cfg.LogLevel, cfg.Name)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	svc, err := service.New(cfg, log)
	if err != nil {
		log.Critical("failed to construct service: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Warmup(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	select {
	case sig := <-quit:
		log.Info("marketfeed: received %s, shutting down", sig)
		cancel()
		return <-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("marketfeed: service exited with error: %v", err)
		}
		return err
	}
}
