package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// auditTTL is how long a per-action audit entry survives, per spec.md §4.8
// ("audit entries after 90 days").
const auditTTL = 90 * 24 * time.Hour

// EmitResult writes the audit entry a driver owes for one non-skip outcome,
// categorized as "scheduler.<kind>.<action>" on success or
// "scheduler.<kind>.error" on failure (spec.md §4.3 invariant 4). It is a
// no-op for skip outcomes and a no-op when emitter is nil.
func EmitResult(ctx context.Context, emitter Emitter, meta Meta, result schedule.ResourceActionResult, detail string) {
	if emitter == nil || result.Action == schedule.ActionSkip {
		return
	}

	category := fmt.Sprintf("scheduler.%s.%s", result.Kind, result.Action)
	severity := schedule.SeverityInfo
	if result.Outcome == schedule.OutcomeFailed {
		category = fmt.Sprintf("scheduler.%s.error", result.Kind)
		severity = schedule.SeverityHigh
	}

	emitter.Emit(ctx, schedule.AuditEntry{
		EntryID:      uuid.NewString(),
		Timestamp:    time.Now(),
		Category:     category,
		Action:       string(result.Action),
		ActorKind:    "system",
		ResourceKind: result.Kind,
		ResourceID:   result.CanonicalID,
		Outcome:      result.Outcome,
		Severity:     severity,
		Detail:       detail,
		Metadata: map[string]string{
			"scheduleId": meta.ScheduleID,
			"tenantId":   meta.TenantID,
		},
		TTL: time.Now().Add(auditTTL).Unix(),
	})
}

// EmitWarning writes a standalone warning-severity audit entry, used for
// the container-service fallback-capacity path (spec.md §4.6 step 2) which
// has no corresponding non-skip ResourceActionResult of its own.
func EmitWarning(ctx context.Context, emitter Emitter, meta Meta, kind schedule.Kind, resourceID, category, detail string) {
	if emitter == nil {
		return
	}
	emitter.Emit(ctx, schedule.AuditEntry{
		EntryID:      uuid.NewString(),
		Timestamp:    time.Now(),
		Category:     category,
		Action:       "start",
		ActorKind:    "system",
		ResourceKind: kind,
		ResourceID:   resourceID,
		Outcome:      schedule.OutcomeSuccess,
		Severity:     schedule.SeverityMedium,
		Detail:       detail,
		Metadata: map[string]string{
			"scheduleId": meta.ScheduleID,
			"tenantId":   meta.TenantID,
			"warning":    "fallback-capacity-used",
		},
		TTL: time.Now().Add(auditTTL).Unix(),
	})
}
