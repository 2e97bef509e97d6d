package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gian-ai/recommendations/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

// Flags holds the global flag values and the configuration they resolve to.
type Flags struct {
	ConfigPath string
	LogLevel   string
	Host       string
	Port       int

	Config *config.Config
}

func main() {
	if err := setupLogger("info", os.Stderr); err != nil {
		panic(err)
	}

	app := newApp(&Flags{})
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("mq failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newApp(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:    "mq",
		Usage:   "topic broker for distributing queries to agents",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("MQ_CONFIG"),
				Value:       "mq.yaml",
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error)",
				Sources:     cli.EnvVars("MQ_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "host",
				Usage:       "broker host",
				Sources:     cli.EnvVars("MQ_HOST"),
				Destination: &flags.Host,
			},
			&cli.IntFlag{
				Name:        "port",
				Usage:       "broker port",
				Sources:     cli.EnvVars("MQ_PORT"),
				Destination: &flags.Port,
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := setupLogger(flags.LogLevel, os.Stderr); err != nil {
				return ctx, err
			}
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if cmd.IsSet("host") {
				cfg.Broker.Host = flags.Host
			}
			if cmd.IsSet("port") {
				cfg.Broker.Port = flags.Port
			}
			if err := cfg.Validate(); err != nil {
				return ctx, fmt.Errorf("invalid config: %w", err)
			}
			flags.Config = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCmd(flags),
			agentCmd(flags),
			benchCmd(flags),
			schemaCmd(),
		},
	}
}

func setupLogger(level string, out io.Writer) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp}
	log := zerolog.New(output).Level(parsed).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slogLevel(parsed)}),
	))
	return nil
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.TraceLevel:
		return slog.LevelDebug - 4
	case l == zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
