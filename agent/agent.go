// Package agent runs workers that consume sub-tasks from the query topic and
// broadcast a solution for each of them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/client"
	"github.com/gian-ai/recommendations/pkg/slogx"
	"github.com/gian-ai/recommendations/task"
	"github.com/gian-ai/recommendations/wire"
)

// Strategy turns an offered sub-task into a choice and its uncertainty.
type Strategy interface {
	Choose(ctx context.Context, t task.Task) (choice string, uncertainty float64, err error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, t task.Task) (string, float64, error)

func (f StrategyFunc) Choose(ctx context.Context, t task.Task) (string, float64, error) {
	return f(ctx, t)
}

// ErrNoOptions is returned by the built-in strategies for a task without options.
var ErrNoOptions = errors.New("agent: task has no options")

// Random picks one option uniformly with uncertainty 0.
func Random() Strategy {
	return StrategyFunc(func(_ context.Context, t task.Task) (string, float64, error) {
		if len(t.Options) == 0 {
			return "", 0, ErrNoOptions
		}
		return t.Options[rand.IntN(len(t.Options))], 0, nil
	})
}

// Conn is the part of client.Client a worker drives.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Receive(ctx context.Context) iter.Seq[wire.Frame]
	Err() error
	Solve(ctx context.Context, s task.Solution) error
}

var _ Conn = (*client.Client)(nil)

// Worker answers sub-tasks with its strategy.
type Worker struct {
	name       string
	queryTopic string
	solveTopic string
	strategy   Strategy
	logger     *slog.Logger

	conn    Conn
	solved  atomic.Int64
	skipped atomic.Int64
}

var (
	Name       = opts.ForName[Worker, string]("name")
	QueryTopic = opts.ForName[Worker, string]("queryTopic")
	SolveTopic = opts.ForName[Worker, string]("solveTopic")
	Logger     = opts.ForName[Worker, *slog.Logger]("logger")
)

// WithStrategy replaces the Random strategy.
func WithStrategy(s Strategy) opts.Option[Worker] {
	return opts.Type[Worker](func(w *Worker) error {
		if s == nil {
			return errors.New("strategy is required")
		}
		w.strategy = s
		return nil
	})
}

// New creates a worker on conn.
func New(conn Conn, options ...opts.Option[Worker]) (*Worker, error) {
	w := &Worker{
		name:       "agent",
		queryTopic: task.DefaultQueryTopic,
		solveTopic: task.DefaultSolveTopic,
		strategy:   Random(),
		conn:       conn,
	}
	if err := opts.Apply(w, options); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if w.logger == nil {
		w.logger = slogx.Component("mq.agent").With(slog.String("agent", w.name))
	}
	return w, nil
}

func (w *Worker) Name() string { return w.name }

// Solved is the number of solutions sent.
func (w *Worker) Solved() int64 { return w.solved.Load() }

// Skipped is the number of sub-tasks that could not be answered.
func (w *Worker) Skipped() int64 { return w.skipped.Load() }

// Run subscribes to the query topic and answers until ctx is done or the
// client is closed. A dropped connection is re-established by the client;
// Run returns the error once reconnecting fails.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.conn.Subscribe(ctx, w.queryTopic); err != nil {
		return err
	}
	w.logger.Info("worker started", slog.String("topic", w.queryTopic))

	for {
		for f := range w.conn.Receive(ctx) {
			if f.Command != wire.CommandSend || f.Topic != w.queryTopic {
				continue
			}
			if err := w.handle(ctx, f); err != nil {
				if errors.Is(err, client.ErrClosed) {
					return nil
				}
				w.skipped.Add(1)
				w.logger.Warn("sub-task skipped", slogx.Error(err), slog.Int64("index", f.IndexValue()))
			}
		}

		err := w.conn.Err()
		switch {
		case ctx.Err() != nil, err == nil, errors.Is(err, client.ErrClosed):
			w.logger.Info("worker stopped", slog.Int64("solved", w.Solved()))
			return nil
		case errors.Is(err, client.ErrConnect):
			return err
		}
		w.logger.Warn("receive interrupted", slogx.Error(err))
	}
}

func (w *Worker) handle(ctx context.Context, f wire.Frame) error {
	origin := strings.TrimRight(f.Message, "\n")
	st, err := task.ParseTask(origin)
	if err != nil {
		return err
	}

	choice, uncertainty, err := w.strategy.Choose(ctx, st)
	if err != nil {
		return fmt.Errorf("choose for %s/%s: %w", st.RequestID, st.Group, err)
	}

	s := task.NewSolution(f.Topic, origin, st, choice, uncertainty)
	s.Topic = w.solveTopic
	if err := w.conn.Solve(ctx, s); err != nil {
		return err
	}
	w.solved.Add(1)
	return nil
}
