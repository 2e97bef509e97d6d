package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gian-ai/recommendations/client"
	"github.com/gian-ai/recommendations/task"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

type benchResult struct {
	mu        sync.Mutex
	asked     int
	completed int
	latency   time.Duration
	failures  []error
}

func (r *benchResult) record(d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked++
	if err != nil {
		r.failures = append(r.failures, err)
		return
	}
	r.completed++
	r.latency += d
}

func (r *benchResult) print(w io.Writer, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ratio := 0.0
	if r.asked > 0 {
		ratio = float64(r.completed) / float64(r.asked)
	}
	status := color.GreenString
	if r.completed < r.asked {
		status = color.RedString
	}
	fmt.Fprintf(w, "%s %s\n", color.CyanString("completed:"), status("%d/%d (%.1f%%)", r.completed, r.asked, ratio*100))
	if r.completed > 0 {
		mean := r.latency / time.Duration(r.completed)
		fmt.Fprintf(w, "%s %s\n", color.CyanString("mean latency:"), color.YellowString(mean.String()))
	}
	fmt.Fprintf(w, "%s %s\n", color.CyanString("elapsed:"), elapsed.Round(time.Millisecond))
	for _, err := range r.failures {
		fmt.Fprintf(w, "%s %v\n", color.RedString("failed:"), err)
	}
}

// benchQuery builds a query with groups choice-groups of options candidates.
func benchQuery(requester, n, groups, options int) *task.Query {
	q := task.NewQuery("").
		WithTarget("requester", strconv.Itoa(requester)).
		WithTarget("query", strconv.Itoa(n))
	for g := range groups {
		candidates := make([]string, options)
		for o := range options {
			candidates[o] = fmt.Sprintf("g%d-o%d", g, o)
		}
		q.WithChoices(fmt.Sprintf("group-%d", g), candidates...)
	}
	return q
}

func benchCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "issue queries from concurrent requesters and report completion",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "requesters", Value: 4, Usage: "concurrent requesters"},
			&cli.IntFlag{Name: "queries", Value: 10, Usage: "queries per requester"},
			&cli.IntFlag{Name: "groups", Value: 3, Usage: "choice-groups per query"},
			&cli.IntFlag{Name: "options", Value: 4, Usage: "options per choice-group"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "wait per query"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := flags.Config
			requesters, queries := cmd.Int("requesters"), cmd.Int("queries")
			groups, options := cmd.Int("groups"), cmd.Int("options")
			if requesters < 1 || queries < 1 || groups < 1 || options < 1 {
				return fmt.Errorf("requesters, queries, groups and options must be positive")
			}
			timeout := cmd.Duration("timeout")

			result := &benchResult{}
			start := time.Now()

			var g errgroup.Group
			for r := range requesters {
				g.Go(func() error {
					c, err := client.Dial(ctx, cfg.Broker.Host, cfg.Broker.Port, clientOptions(cfg)...)
					if err != nil {
						return err
					}
					defer c.Close()

					for n := range queries {
						q := benchQuery(r, n, groups, options)
						qctx, cancel := context.WithTimeout(ctx, timeout)
						began := time.Now()
						_, err := c.Ask(qctx, q)
						cancel()
						result.record(time.Since(began), err)
					}
					return nil
				})
			}
			err := g.Wait()

			result.print(os.Stdout, time.Since(start))
			if err != nil {
				return err
			}
			if result.completed < result.asked {
				return fmt.Errorf("%d of %d queries incomplete", result.asked-result.completed, result.asked)
			}
			return nil
		},
	}
}
