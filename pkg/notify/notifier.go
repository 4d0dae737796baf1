// Package notify implements the Execution Notifier (SPEC_FULL.md §4.14): a
// best-effort post of one Slack message per persisted ExecutionRecord.
// Notifier failures are logged, never propagated, and never retried within
// the scan, matching the Audit Log Writer's policy (spec.md §4.9).
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// SlackNotifier posts execution summaries to a single configured channel.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, the
// notifier is a no-op (logging only) — the same degrade-gracefully shape
// the teacher's Slack notifier uses.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a valid Slack client and
// destination channel configured.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostExecutionSummary posts one message summarizing a persisted
// ExecutionRecord: schedule id, trigger, status, started/stopped/failed
// counts, duration, and the ids of failed resources.
func (n *SlackNotifier) PostExecutionSummary(ctx context.Context, record schedule.ExecutionRecord) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping execution summary",
			"executionId", record.ExecutionID, "scheduleId", record.ScheduleID)
		return nil
	}

	blocks := executionSummaryBlocks(record)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallbackText(record), false),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return fmt.Errorf("posting execution summary to slack: %w", err)
	}
	return nil
}

func fallbackText(record schedule.ExecutionRecord) string {
	return fmt.Sprintf("%s schedule %s: %s (started=%d stopped=%d failed=%d)",
		statusEmoji(record.Status), record.ScheduleID, record.Status, record.Started, record.Stopped, record.Failed)
}

func statusEmoji(status schedule.ExecutionStatus) string {
	switch status {
	case schedule.StatusSuccess:
		return "🟢"
	case schedule.StatusPartial:
		return "🟡"
	case schedule.StatusError:
		return "🔴"
	default:
		return "⚪"
	}
}

func executionSummaryBlocks(record schedule.ExecutionRecord) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s Schedule %s", statusEmoji(record.Status), record.ScheduleID), true, false),
	)

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Trigger:* %s", record.TriggerSource), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Status:* %s", record.Status), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Started:* %d", record.Started), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Stopped:* %d", record.Stopped), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Failed:* %d", record.Failed), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Duration:* %s", record.Duration()), false, false),
	}

	blocks := []goslack.Block{
		header,
		goslack.NewSectionBlock(nil, fields, nil),
	}

	if record.Failed > 0 {
		var failedIDs []string
		for _, results := range record.Results {
			for _, result := range results {
				if result.Outcome == schedule.OutcomeFailed {
					failedIDs = append(failedIDs, result.CanonicalID)
				}
			}
		}
		if len(failedIDs) > 0 {
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType,
					fmt.Sprintf("*Failed resources:*\n%s", truncateList(failedIDs, 10)), false, false),
				nil, nil,
			))
		}
	}

	return blocks
}

func truncateList(items []string, max int) string {
	if len(items) <= max {
		return "• " + joinLines(items)
	}
	shown := items[:max]
	return fmt.Sprintf("• %s\n_...and %d more_", joinLines(shown), len(items)-max)
}

func joinLines(items []string) string {
	out := items[0]
	for _, s := range items[1:] {
		out += "\n• " + s
	}
	return out
}
