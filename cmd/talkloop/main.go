package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/talkloop/internal/logger"
)

// fileConfig is loaded once before any subcommand runs.
var fileConfig Config

func main() {
	app := &cli.Command{
		Name:   "talkloop",
		Usage:  "Hands-free voice conversation with a language model",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			sessionCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	fileConfig = cfg
	setString(cmd, "log-level", &logLevel, cfg.LogLevel)
	setString(cmd, "log-format", &logFormat, cfg.LogFormat)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logger.WithContext(ctx, logger.ForFormat(logFormat, os.Stderr, level)), nil
}
