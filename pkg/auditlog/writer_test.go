package auditlog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

type fakeSink struct {
	batches [][]schedule.AuditEntry
	err     error
}

func (f *fakeSink) PutBatch(ctx context.Context, entries []schedule.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, entries)
	return nil
}

func TestLogDropsWhenFull(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(schedule.AuditEntry{Category: "test"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(schedule.AuditEntry{Category: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLogStampsEntryIDTimestampAndTTL(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(nil, logger)

	w.Log(schedule.AuditEntry{Category: "scheduler.vm.stop"})
	entry := <-w.entries

	if entry.EntryID == "" {
		t.Error("expected EntryID to be stamped")
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected Timestamp to be stamped")
	}
	if entry.TTL == 0 {
		t.Error("expected TTL to be stamped")
	}
}

func TestFlushForwardsBatchesToSink(t *testing.T) {
	sink := &fakeSink{}
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(sink, logger)

	w.flush([]schedule.AuditEntry{
		{Category: "scheduler.vm.stop", EntryID: "1"},
		{Category: "scheduler.vm.start", EntryID: "2"},
	})

	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2 entries, got %+v", sink.batches)
	}
}

func TestFlushSplitsOversizedBatches(t *testing.T) {
	sink := &fakeSink{}
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(sink, logger)

	entries := make([]schedule.AuditEntry, flushBatch+5)
	w.flush(entries)

	if len(sink.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(sink.batches))
	}
	if len(sink.batches[0]) != flushBatch || len(sink.batches[1]) != 5 {
		t.Fatalf("unexpected batch sizes: %d, %d", len(sink.batches[0]), len(sink.batches[1]))
	}
}

func TestFlushErrorIsLoggedNotPropagated(t *testing.T) {
	sink := &fakeSink{err: context.DeadlineExceeded}
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(sink, logger)

	// Must not panic and must return normally even though the sink fails.
	w.flush([]schedule.AuditEntry{{Category: "scheduler.vm.stop"}})
}

func TestEmitSatisfiesDriverEmitterContract(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	w := NewWriter(nil, logger)

	w.Emit(context.Background(), schedule.AuditEntry{Category: "scheduler.vm.stop"})
	select {
	case entry := <-w.entries:
		if entry.Category != "scheduler.vm.stop" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	default:
		t.Fatal("expected Emit to enqueue an entry")
	}
}
