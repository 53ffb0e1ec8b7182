package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"plantdoctor/internal/config"
	"plantdoctor/internal/logging"
	"plantdoctor/internal/ui"
	"plantdoctor/processing/capture"
	"plantdoctor/processing/diagnosis"
	"plantdoctor/processing/render"
)

const initTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:  "plantdoctor",
		Usage: "diagnose plant diseases from a camera or an image file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultConfigPath,
				Usage:   "path to the JSON config file",
			},
			&cli.StringFlag{
				Name:  "api-key",
				Usage: "Gemini API key; defaults to analysis.api_key, then GEMINI_API_KEY or GOOGLE_API_KEY",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "human readable console logs",
			},
			&cli.IntFlag{
				Name:  "device",
				Usage: "camera index to open at startup",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) (err error) {
	cfg, err := config.LoadConfigFile(c.String("config"))
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Flag overrides stay local; config.json only ever receives the camera
	// picked in the UI.
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	device := cfg.GetDeviceID()
	if c.IsSet("device") {
		device = c.Int("device")
	}
	apiKey := c.String("api-key")
	if apiKey == "" {
		apiKey = cfg.GetAPIKey()
	}

	logger, err := logging.New(level, c.Bool("dev"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	var gen diagnosis.Generator

	gem, gerr := diagnosis.NewGemini(ctx, apiKey, cfg.Analysis.Model)
	if gerr != nil {
		logger.Warn("Gemini client unavailable; analysis disabled", zap.Error(gerr))
	} else {
		gen = gem
		defer func() { err = multierr.Append(err, gem.Close()) }()
	}

	client := diagnosis.NewClient(gen, logger)

	initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
	if ierr := client.Init(initCtx); ierr != nil {
		logger.Warn("Gemini API not configured; analysis requests will fail", zap.Error(ierr))
	}
	initCancel()

	window := ui.CreateApp(cfg, logger)

	coord := diagnosis.NewCoordinator(
		capture.NewStreamer(cfg, logger),
		render.New(),
		client,
		window,
		diagnosis.WithLogger(logger),
		diagnosis.WithRefreshInterval(cfg.GetRefreshInterval()),
		diagnosis.WithAnalysisTimeout(cfg.GetAnalysisTimeout()),
		diagnosis.WithPreferredDevice(device),
		diagnosis.WithMimeType(cfg.Analysis.MimeType),
	)

	errc := make(chan error, 1)
	go func() { errc <- coord.Run(ctx) }()

	window.Run(coord)

	coord.Shutdown()
	err = multierr.Append(err, <-errc)
	coord.Wait()

	logger.Info("exited")

	return err
}
