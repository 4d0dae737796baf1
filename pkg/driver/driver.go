// Package driver defines the uniform contract every kind-specific resource
// driver implements (spec.md §4.3).
package driver

import (
	"context"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// Meta carries per-invocation context a driver may need beyond the resource
// reference itself: the schedule and tenant ids stamped on audit entries.
type Meta struct {
	ScheduleID string
	TenantID   string
}

// Driver is the common contract every kind-specific driver implements.
//
// Contract invariants (spec.md §4.3):
//  1. If current remote state already matches the intended action, the
//     driver returns Action=skip, Outcome=success, capturing observed state.
//  2. On transition, the driver observes current state, issues the
//     mutation, then returns a result whose PriorState reflects the
//     observed-before-mutation state.
//  3. Any remote-API failure returns Outcome=failed with non-empty error
//     text; the driver does not retry.
//  4. The driver writes one audit entry per non-skip outcome.
type Driver interface {
	// Process dispatches the intended action for one resource. priorState
	// is the most recently captured stop state, consulted before a start;
	// it is nil when none is known.
	Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta Meta, priorState *schedule.PriorState) schedule.ResourceActionResult
}

// Emitter is implemented by callers that want an audit entry written
// alongside each non-skip driver outcome. Drivers accept one so they can
// fulfil invariant 4 without importing the audit package directly.
type Emitter interface {
	Emit(ctx context.Context, entry schedule.AuditEntry)
}
