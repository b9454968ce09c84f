package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DefaultBufferSize is the Writer channel capacity used when none is given.
const DefaultBufferSize = 256

// Writer enqueues audit entries for a single background goroutine to store.
// Recording never blocks: when the buffer is full the entry is dropped and a
// warning is logged.
type Writer struct {
	repo    Repository
	ch      chan *AuditLog
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewWriter creates a Writer over repo. Run must be started for entries to
// be stored.
func NewWriter(repo Repository, size int, logger *slog.Logger) *Writer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		repo:   repo,
		ch:     make(chan *AuditLog, size),
		logger: logger,
	}
}

// Record enqueues an entry. It is safe to call on a nil Writer.
func (w *Writer) Record(entry *AuditLog) {
	if w == nil || entry == nil {
		return
	}

	select {
	case w.ch <- entry:
	default:
		w.dropped.Add(1)
		w.logger.Warn("audit log channel full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// Dropped returns the number of entries discarded because the buffer was
// full. A nil Writer reports zero.
func (w *Writer) Dropped() int64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

// Run stores entries serially until ctx is cancelled, then drains whatever
// is still buffered. Writes use a background context so shutdown does not
// abort them.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case entry := <-w.ch:
			w.store(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-w.ch:
					w.store(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) store(entry *AuditLog) {
	if err := w.repo.Create(context.Background(), entry); err != nil {
		w.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
