package notify

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

func TestStatusEmoji(t *testing.T) {
	tests := []struct {
		status schedule.ExecutionStatus
		want   string
	}{
		{schedule.StatusSuccess, "🟢"},
		{schedule.StatusPartial, "🟡"},
		{schedule.StatusError, "🔴"},
		{schedule.ExecutionStatus("unknown"), "⚪"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := statusEmoji(tt.status); got != tt.want {
				t.Errorf("statusEmoji(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestDisabledNotifierSkipsWithoutError(t *testing.T) {
	n := NewSlackNotifier("", "", slog.New(slog.DiscardHandler))
	if n.IsEnabled() {
		t.Fatal("expected notifier without a bot token to be disabled")
	}

	record := schedule.ExecutionRecord{ExecutionID: "exec-1", ScheduleID: "sched-1", Status: schedule.StatusSuccess}
	if err := n.PostExecutionSummary(context.Background(), record); err != nil {
		t.Fatalf("disabled notifier must not error: %v", err)
	}
}

func TestExecutionSummaryBlocksIncludesFailedResources(t *testing.T) {
	record := schedule.ExecutionRecord{
		ExecutionID:   "exec-1",
		ScheduleID:    "sched-1",
		TriggerSource: schedule.TriggerOnDemand,
		Start:         time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 7, 31, 9, 0, 30, 0, time.UTC),
		Started:       0,
		Stopped:       1,
		Failed:        1,
		Status:        schedule.StatusPartial,
		Results: map[schedule.Kind][]schedule.ResourceActionResult{
			schedule.KindVM: {
				{CanonicalID: "aws:aws:ec2:us-east-1:111:vm/i-1", Outcome: schedule.OutcomeSuccess},
				{CanonicalID: "aws:aws:ec2:us-east-1:111:vm/i-2", Outcome: schedule.OutcomeFailed},
			},
		},
	}

	blocks := executionSummaryBlocks(record)
	if len(blocks) != 3 {
		t.Fatalf("expected header + summary + failed-resources blocks, got %d", len(blocks))
	}
}

func TestExecutionSummaryBlocksOmitsFailedSectionWhenNoFailures(t *testing.T) {
	record := schedule.ExecutionRecord{
		ExecutionID: "exec-1",
		ScheduleID:  "sched-1",
		Started:     2,
		Status:      schedule.StatusSuccess,
	}

	blocks := executionSummaryBlocks(record)
	if len(blocks) != 2 {
		t.Fatalf("expected header + summary blocks only, got %d", len(blocks))
	}
}

func TestTruncateListAddsOverflowMarker(t *testing.T) {
	items := make([]string, 15)
	for i := range items {
		items[i] = "res"
	}

	got := truncateList(items, 10)
	if got == "" {
		t.Fatal("expected non-empty output")
	}
	if !strings.Contains(got, "and 5 more") {
		t.Errorf("expected overflow marker, got %q", got)
	}
}
