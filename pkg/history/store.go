// Package history implements the History Store (spec.md §4.8): an
// append-only record of every schedule scan, and the source of truth a
// driver consults on restart to recover what it captured before stopping a
// resource.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// executionTTL is how long an execution record survives (spec.md §4.8).
const executionTTL = 30 * 24 * time.Hour

// minScanDepth is the minimum number of recent executions lastStoppedState
// must scan before giving up (spec.md §4.8: "N ≥ 10").
const minScanDepth = 10

// Store is the History Store contract from spec.md §4.8.
type Store interface {
	// AppendExecution persists a completed ExecutionRecord. Records are
	// immutable once written.
	AppendExecution(ctx context.Context, record schedule.ExecutionRecord) error

	// ListExecutions returns executions for (tenantID, scheduleID) in
	// descending start-time order, capped at limit.
	ListExecutions(ctx context.Context, tenantID, scheduleID string, limit int) ([]schedule.ExecutionRecord, error)

	// LastStoppedState scans up to minScanDepth of the most recent
	// executions and returns the PriorState of the most recent matching
	// stop+success result for canonicalID, or nil if none is found.
	LastStoppedState(ctx context.Context, tenantID, scheduleID, canonicalID string, kind schedule.Kind) (*schedule.PriorState, error)
}

// prepareForWrite stamps the TTL on a record about to be appended.
func prepareForWrite(record schedule.ExecutionRecord) schedule.ExecutionRecord {
	if record.TTL == 0 {
		record.TTL = record.Start.Add(executionTTL).Unix()
	}
	return record
}

// findLastStoppedState implements the scan-and-match logic in spec.md §4.8
// against an already-fetched, newest-first slice of execution records. It is
// split out from the DynamoDB-backed Store so it can be unit tested without
// a client.
func findLastStoppedState(records []schedule.ExecutionRecord, canonicalID string, kind schedule.Kind) *schedule.PriorState {
	scanned := 0
	for _, record := range records {
		if scanned >= minScanDepth {
			break
		}
		scanned++

		results, ok := record.Results[kind]
		if !ok {
			continue
		}
		for _, result := range results {
			if result.CanonicalID != canonicalID {
				continue
			}
			if result.Action == schedule.ActionStop && result.Outcome == schedule.OutcomeSuccess {
				return result.PriorState
			}
		}
	}
	return nil
}

func partitionKey(tenantID, scheduleID string) string {
	return fmt.Sprintf("%s#%s", tenantID, scheduleID)
}

// sortKey is lexically ordered so a reverse index scan yields newest first:
// zero-padded unix nanoseconds, then the execution id to break ties.
func sortKey(start time.Time, executionID string) string {
	return fmt.Sprintf("%020d#%s", start.UnixNano(), executionID)
}
