// Package auditlog implements the Audit Log Writer (spec.md §4.9): an
// async, buffered, best-effort append-only sink for audit entries. A
// failure to persist an entry must never abort the action it describes.
package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 25 // DynamoDB BatchWriteItem's per-call item limit
	entryTTL      = 90 * 24 * time.Hour
)

// BatchPutter is the subset of DynamoDB batch-write behavior the writer
// depends on. Implemented by DynamoDBSink.
type BatchPutter interface {
	PutBatch(ctx context.Context, entries []schedule.AuditEntry) error
}

// Writer is an async, buffered audit log writer satisfying driver.Emitter.
// Entries are sent to an internal channel and flushed by a background
// goroutine on a ticker or once flushBatch entries have accumulated.
type Writer struct {
	sink    BatchPutter
	logger  *slog.Logger
	entries chan schedule.AuditEntry
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(sink BatchPutter, logger *slog.Logger) *Writer {
	return &Writer{
		sink:    sink,
		logger:  logger,
		entries: make(chan schedule.AuditEntry, bufferSize),
	}
}

// Start launches the background goroutine that flushes audit entries and
// returns at once. The goroutine flushes pending entries and exits when ctx
// is cancelled or Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Emit implements driver.Emitter. ctx is accepted for interface
// compatibility but Log never blocks on it — writing is always async.
func (w *Writer) Emit(_ context.Context, entry schedule.AuditEntry) {
	w.Log(entry)
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged,
// per spec.md §4.9's best-effort contract.
func (w *Writer) Log(entry schedule.AuditEntry) {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.TTL == 0 {
		entry.TTL = entry.Timestamp.Add(entryTTL).Unix()
	}

	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"category", entry.Category, "resourceId", entry.ResourceID)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]schedule.AuditEntry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the sink. A write failure is logged,
// never propagated — per spec.md §4.9, a failed audit write must not abort
// the action it describes, and there is nothing left upstream to fail by
// this point.
func (w *Writer) flush(entries []schedule.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for start := 0; start < len(entries); start += flushBatch {
		end := min(start+flushBatch, len(entries))
		if err := w.sink.PutBatch(ctx, entries[start:end]); err != nil {
			w.logger.Error("flushing audit log batch", "error", err, "count", end-start)
		}
	}
}
