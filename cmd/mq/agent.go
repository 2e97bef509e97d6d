package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/agent"
	"github.com/gian-ai/recommendations/client"
	"github.com/gian-ai/recommendations/internal/config"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func clientOptions(cfg *config.Config) []opts.Option[client.Client] {
	return []opts.Option[client.Client]{
		client.Attempts(cfg.Client.Attempts),
		client.BaseDelay(cfg.Client.BaseDelay),
		client.BackoffFactor(cfg.Client.BackoffFactor),
		client.QueryTopic(cfg.Topics.Query),
		client.SolveTopic(cfg.Topics.Solve),
		client.ObserveTopic(cfg.Topics.Observe),
	}
}

func agentCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "run workers answering sub-tasks with a random choice",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"n"},
				Usage:   "number of workers, each on its own connection",
				Value:   1,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "worker name prefix",
				Value: "agent",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := flags.Config
			n := cmd.Int("workers")
			if n < 1 {
				return fmt.Errorf("workers must be at least 1, got %d", n)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			for i := range n {
				c, err := client.Dial(gctx, cfg.Broker.Host, cfg.Broker.Port, clientOptions(cfg)...)
				if err != nil {
					stop()
					_ = g.Wait()
					return err
				}
				w, err := agent.New(c,
					agent.Name(fmt.Sprintf("%s-%d", cmd.String("name"), i)),
					agent.QueryTopic(cfg.Topics.Query),
					agent.SolveTopic(cfg.Topics.Solve),
				)
				if err != nil {
					_ = c.Close()
					stop()
					_ = g.Wait()
					return err
				}
				g.Go(func() error {
					defer c.Close()
					return w.Run(gctx)
				})
			}
			return g.Wait()
		},
	}
}
