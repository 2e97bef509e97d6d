package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/internal/broker"
	"github.com/gian-ai/recommendations/internal/config"
	"github.com/gian-ai/recommendations/internal/sink"
	"github.com/gian-ai/recommendations/pkg/natsx"
	"github.com/gian-ai/recommendations/pkg/slogx"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "directory holding the traffic logs",
				Sources: cli.EnvVars("MQ_CACHE_DIR"),
			},
			&cli.StringFlag{
				Name:    "sqlite",
				Usage:   "record traffic in this SQLite database (relative to the cache dir)",
				Sources: cli.EnvVars("MQ_SQLITE"),
			},
			&cli.BoolFlag{
				Name:    "nats",
				Usage:   "mirror traffic to NATS",
				Sources: cli.EnvVars("MQ_NATS"),
			},
			&cli.DurationFlag{
				Name:  "stats-interval",
				Usage: "log topic stats at this interval (0 disables)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := *flags.Config
			if cmd.IsSet("cache-dir") {
				cfg.Broker.CacheDir = cmd.String("cache-dir")
			}
			if cmd.IsSet("sqlite") {
				cfg.Sinks.SQLite = cmd.String("sqlite")
			}
			if cmd.IsSet("nats") {
				cfg.Sinks.NATS.Enabled = cmd.Bool("nats")
			}

			sinks, closeSinks, err := buildSinks(&cfg)
			if err != nil {
				return err
			}
			defer closeSinks()

			options := []opts.Option[broker.Server]{
				broker.Host(cfg.Broker.Host),
				broker.Port(cfg.Broker.Port),
				broker.CacheLength(cfg.Broker.CacheLength),
				broker.WriteTimeout(cfg.Broker.WriteTimeout),
			}
			if len(sinks) > 0 {
				options = append(options, broker.WithSink(sinks[0], sinks[1:]...))
			}
			srv, err := broker.New(options...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			if interval := cmd.Duration("stats-interval"); interval > 0 {
				g.Go(func() error {
					reportStats(gctx, srv, interval)
					return nil
				})
			}
			return g.Wait()
		},
	}
}

// buildSinks opens every configured sink. The returned func closes them.
func buildSinks(cfg *config.Config) ([]broker.Sink, func(), error) {
	var (
		sinks   []broker.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("close sink", slogx.Error(err))
			}
		}
	}

	if cfg.Sinks.Files {
		b, err := sink.NewBookkeeper(cfg.Broker.CacheDir, cfg.Topics)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, b)
		slog.Info("recording traffic", slog.String("dir", filepath.Dir(b.Path(sink.KindQuery))))
	}

	if path := cfg.SQLitePath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create ledger dir: %w", err)
		}
		l, err := sink.OpenLedger(path, cfg.Topics)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, l)
		closers = append(closers, l.Close)
	}

	if cfg.Sinks.NATS.Enabled {
		nc, err := natsx.NewClient(cfg.Sinks.NATS.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		name, _ := os.Hostname()
		if name == "" {
			name = natsx.DefaultName
		}
		sinks = append(sinks, sink.NewMirror(nc, cfg.Sinks.NATS.Prefix, name))
		closers = append(closers, nc.Drain)
	}

	return sinks, closeAll, nil
}

func reportStats(ctx context.Context, srv *broker.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range srv.Stats() {
				slog.Info("topic",
					slog.String("name", st.Name),
					slog.Int("subscribers", st.Subscribers),
					slog.Int64("next_index", st.NextIndex),
					slog.Int("buffered", st.Buffered),
					slog.Int("connections", srv.Connections()),
				)
			}
		}
	}
}
