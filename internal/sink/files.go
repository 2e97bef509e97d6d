package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gian-ai/recommendations/pkg/slogx"
)

// Bookkeeper appends records as tab separated lines to
// <dir>/logs/{query,solve,observe}.txt.
type Bookkeeper struct {
	dir    string
	topics Topics
	logger *slog.Logger

	mu sync.Mutex
}

// NewBookkeeper creates the logs directory under dir.
func NewBookkeeper(dir string, topics Topics) (*Bookkeeper, error) {
	logs := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create logs dir: %w", err)
	}
	return &Bookkeeper{
		dir:    logs,
		topics: topics,
		logger: slogx.Component("mq.sink.files"),
	}, nil
}

// Path returns the file records of kind are appended to.
func (b *Bookkeeper) Path(kind string) string {
	return filepath.Join(b.dir, kind+".txt")
}

func (b *Bookkeeper) Record(_ context.Context, line []byte) {
	rec, err := b.topics.Parse(line)
	if errors.Is(err, ErrNotRecorded) {
		return
	}
	if err != nil {
		b.logger.Warn("skipping line", slogx.Error(err), slogx.ByteString("line", line))
		return
	}
	if err := b.append(rec); err != nil {
		b.logger.Error("append record", slogx.Error(err), slog.String("kind", rec.Kind()))
	}
}

func (b *Bookkeeper) append(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.Path(rec.Kind()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, err = f.WriteString(strings.Join(rec.Fields(), "\t") + "\n")
	return errors.Join(err, f.Close())
}
