package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/logging"
)

// Run executes the solace command line.
func Run(ctx context.Context, args []string, version string) error {
	var logLevel, logFormat string

	app := &cli.Command{
		Name:    "solace",
		Usage:   "Supportive conversation service with crisis handling and rolling memory",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, text, json)",
				Value:       "console",
				Sources:     cli.EnvVars("LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := logging.Configure(logLevel, logFormat, c.Root().ErrWriter)
			if err != nil {
				return ctx, err
			}
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			cmdServe(),
			cmdChat(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run solace", "error", err)
		return err
	}
	return nil
}

// loadConfig reads the environment and applies the logger flags so the
// resolved config reflects what is actually in effect.
func loadConfig(c *cli.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	cfg.LogLevel = c.String("log-level")
	cfg.LogFormat = c.String("log-format")
	return cfg, nil
}
