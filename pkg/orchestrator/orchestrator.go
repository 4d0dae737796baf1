// Package orchestrator implements the Scheduler Orchestrator (spec.md
// §4.10/§5): the top-level scan that enumerates active schedules, groups
// their resources by (account, region), dispatches to kind-specific
// drivers, and persists the aggregate execution record and audit summary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/history"
	"github.com/nimbusops/hiberctl/pkg/schedule"
	"github.com/nimbusops/hiberctl/pkg/timewindow"
)

// ConfigStore is the read-only configuration projection the orchestrator
// depends on (spec.md §6, SPEC_FULL.md §4.12).
type ConfigStore interface {
	ActiveSchedules(ctx context.Context, tenantID string) ([]schedule.Schedule, error)
	ScheduleByID(ctx context.Context, scheduleID, tenantID string) (*schedule.Schedule, error)
	ActiveAccounts(ctx context.Context) ([]schedule.Account, error)
}

// CredentialBroker is the subset of pkg/creds.Broker the orchestrator needs.
type CredentialBroker interface {
	Assume(ctx context.Context, roleID, accountID, region, externalSecret string) (schedule.SessionCredentials, error)
}

// Notifier is handed the completed ExecutionRecord once persisted (spec.md
// §4.14/SPEC_FULL.md §4.14). Optional — nil disables notification.
type Notifier interface {
	PostExecutionSummary(ctx context.Context, record schedule.ExecutionRecord) error
}

// ScanMode distinguishes a full scan from a single-schedule scan, per
// spec.md §6's Result shape.
type ScanMode string

const (
	ModeFull    ScanMode = "full"
	ModePartial ScanMode = "partial"
)

// ScanResult is the structured object returned to the trigger (spec.md §6).
type ScanResult struct {
	Success            bool
	ExecutionID        string
	Mode               ScanMode
	SchedulesProcessed int
	ResourcesStarted   int
	ResourcesStopped   int
	ResourcesFailed    int
	Duration           time.Duration
}

// ErrScheduleAlreadyRunning is returned when a schedule's per-schedule lock
// is already held (spec.md §4.10's concurrency control: "must not spawn a
// parallel execution"). The caller-visible choice spec.md leaves open is
// resolved here as a well-defined immediate return rather than blocking, so
// a pile-up of triggers for a stuck schedule cannot accumulate goroutines.
var ErrScheduleAlreadyRunning = fmt.Errorf("schedule already has a scan in progress")

// Orchestrator wires the configuration store, credential broker, resource
// drivers, history store, and audit emitter into the scan algorithm
// described by spec.md §4.10.
type Orchestrator struct {
	configStore  ConfigStore
	broker       CredentialBroker
	drivers      map[schedule.Kind]driver.Driver
	historyStore history.Store
	emitter      driver.Emitter
	notifier     Notifier
	logger       *slog.Logger

	lock ScheduleLock

	// scanTimeout bounds one schedule's processing; resources not reached
	// before it elapses are counted as DeadlineExceeded (spec.md §7).
	scanTimeout time.Duration

	now func() time.Time
}

// New constructs an Orchestrator. A nil lock defaults to the in-process
// ScheduleLock, suitable for a single orchestrator instance; pass
// NewRedisLock for a multi-instance deployment.
func New(configStore ConfigStore, broker CredentialBroker, drivers map[schedule.Kind]driver.Driver, historyStore history.Store, emitter driver.Emitter, notifier Notifier, logger *slog.Logger, scanTimeout time.Duration, lock ScheduleLock) *Orchestrator {
	if lock == nil {
		lock = NewInProcessLock()
	}
	return &Orchestrator{
		configStore:  configStore,
		broker:       broker,
		drivers:      drivers,
		historyStore: historyStore,
		emitter:      emitter,
		notifier:     notifier,
		logger:       logger,
		scanTimeout:  scanTimeout,
		lock:         lock,
		now:          time.Now,
	}
}

// FullScan fetches every active schedule (optionally scoped to tenantID,
// empty meaning all tenants) and processes each on its own logical task.
func (o *Orchestrator) FullScan(ctx context.Context, tenantID string, trigger schedule.TriggerSource) (ScanResult, error) {
	start := o.now()

	schedules, err := o.configStore.ActiveSchedules(ctx, tenantID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading active schedules: %w", err)
	}
	accountsByID, err := o.loadAccounts(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading active accounts: %w", err)
	}

	var mu sync.Mutex
	agg := ScanResult{Mode: ModeFull}

	group, gctx := errgroup.WithContext(ctx)
	for _, sched := range schedules {
		sched := sched
		group.Go(func() error {
			outcome, err := o.runSchedule(gctx, sched, accountsByID, trigger, "")
			if err != nil {
				if err == ErrScheduleAlreadyRunning {
					o.logger.Info("skipping schedule already in progress", "scheduleId", sched.ID)
					return nil
				}
				o.logger.Error("processing schedule", "scheduleId", sched.ID, "error", err)
				return nil
			}
			mu.Lock()
			agg.SchedulesProcessed++
			agg.ResourcesStarted += outcome.started
			agg.ResourcesStopped += outcome.stopped
			agg.ResourcesFailed += outcome.failed
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	agg.Success = agg.ResourcesFailed == 0
	agg.Duration = o.now().Sub(start)
	return agg, nil
}

// PartialScan fetches exactly one schedule and processes it synchronously.
func (o *Orchestrator) PartialScan(ctx context.Context, scheduleID, tenantID string, trigger schedule.TriggerSource, actorIdentity string) (ScanResult, error) {
	start := o.now()

	sched, err := o.configStore.ScheduleByID(ctx, scheduleID, tenantID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading schedule %s: %w", scheduleID, err)
	}
	if sched == nil {
		notFound := &schedule.ScheduleNotFoundError{ScheduleID: scheduleID, TenantID: tenantID}
		o.emitAudit(ctx, schedule.AuditEntry{
			Category:     "scheduler.schedule.not-found",
			Action:       "scan",
			ActorID:      actorIdentity,
			ActorKind:    actorKind(actorIdentity),
			ResourceKind: "",
			ResourceID:   scheduleID,
			Outcome:      schedule.OutcomeFailed,
			Severity:     schedule.SeverityHigh,
			Detail:       notFound.Error(),
		})
		return ScanResult{}, notFound
	}

	accountsByID, err := o.loadAccounts(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading active accounts: %w", err)
	}

	outcome, err := o.runSchedule(ctx, *sched, accountsByID, trigger, actorIdentity)
	if err != nil {
		return ScanResult{}, err
	}

	return ScanResult{
		Success:            outcome.failed == 0,
		ExecutionID:        outcome.executionID,
		Mode:               ModePartial,
		SchedulesProcessed: 1,
		ResourcesStarted:   outcome.started,
		ResourcesStopped:   outcome.stopped,
		ResourcesFailed:    outcome.failed,
		Duration:           o.now().Sub(start),
	}, nil
}

func (o *Orchestrator) loadAccounts(ctx context.Context) (map[string]schedule.Account, error) {
	accounts, err := o.configStore.ActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]schedule.Account, len(accounts))
	for _, a := range accounts {
		byID[a.AccountID] = a
	}
	return byID, nil
}

func actorKind(actorIdentity string) string {
	if actorIdentity == "" {
		return "system"
	}
	return "user"
}

type scheduleOutcome struct {
	executionID      string
	started, stopped, failed int
}

// runSchedule implements spec.md §4.10's per-schedule flow (steps 1-8).
func (o *Orchestrator) runSchedule(ctx context.Context, sched schedule.Schedule, accountsByID map[string]schedule.Account, trigger schedule.TriggerSource, actorIdentity string) (scheduleOutcome, error) {
	release, acquired, err := o.lock.Acquire(ctx, sched.ID)
	if err != nil {
		return scheduleOutcome{}, fmt.Errorf("acquiring schedule lock: %w", err)
	}
	if !acquired {
		return scheduleOutcome{}, ErrScheduleAlreadyRunning
	}
	defer release()

	start := o.now()

	if len(sched.Resources) == 0 {
		o.emitAudit(ctx, schedule.AuditEntry{
			Category:     "scheduler.schedule.empty",
			Action:       "scan",
			ActorID:      actorIdentity,
			ActorKind:    actorKind(actorIdentity),
			ResourceID:   sched.ID,
			Outcome:      schedule.OutcomeSuccess,
			Severity:     schedule.SeverityInfo,
			Detail:       fmt.Sprintf("schedule %s has no resources", sched.Name),
		})
		return scheduleOutcome{}, nil
	}

	action := schedule.ActionStop
	inWindow, err := timewindow.InWindow(sched.StartHMS, sched.EndHMS, sched.Timezone, sched.ActiveDays, start)
	if err != nil {
		o.logger.Error("evaluating time window", "scheduleId", sched.ID, "error", err)
	} else if inWindow {
		action = schedule.ActionStart
	}

	scanCtx := ctx
	var cancel context.CancelFunc
	if o.scanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, o.scanTimeout)
		defer cancel()
	}

	groups := groupByAccountRegion(sched.Resources)

	results := make(map[schedule.Kind][]schedule.ResourceActionResult)
	var resultsMu sync.Mutex
	var started, stopped, failed int
	var countsMu sync.Mutex

	addResult := func(result schedule.ResourceActionResult) {
		resultsMu.Lock()
		results[result.Kind] = append(results[result.Kind], result)
		resultsMu.Unlock()

		countsMu.Lock()
		switch {
		case result.Outcome == schedule.OutcomeFailed:
			failed++
		case result.Action == schedule.ActionStart:
			started++
		case result.Action == schedule.ActionStop:
			stopped++
		}
		countsMu.Unlock()
	}

	group, _ := errgroup.WithContext(scanCtx)
	for key, refs := range groups {
		key, refs := key, refs
		group.Go(func() error {
			o.processGroup(scanCtx, sched, key, refs, action, accountsByID, addResult)
			return nil
		})
	}
	_ = group.Wait()

	end := o.now()
	outcome := scheduleOutcome{started: started, stopped: stopped, failed: failed}

	if started+stopped+failed == 0 {
		// Skip-only scan: spec.md §4.10 step 7 / §8 invariant 6 — leave the
		// History Store unchanged, write nothing.
		return outcome, nil
	}

	record := schedule.ExecutionRecord{
		ExecutionID:   uuid.NewString(),
		ScheduleID:    sched.ID,
		TenantID:      sched.TenantID,
		TriggerSource: trigger,
		Start:         start,
		End:           end,
		Started:       started,
		Stopped:       stopped,
		Failed:        failed,
		Results:       results,
	}
	record.Status = record.ComputeStatus()
	outcome.executionID = record.ExecutionID

	if o.historyStore != nil {
		if err := o.historyStore.AppendExecution(ctx, record); err != nil {
			o.logger.Error("persisting execution record", "scheduleId", sched.ID, "error", err)
		}
	}

	o.emitExecutionSummary(ctx, record, actorIdentity)

	if o.notifier != nil {
		if err := o.notifier.PostExecutionSummary(ctx, record); err != nil {
			o.logger.Error("posting execution summary", "scheduleId", sched.ID, "error", err)
		}
	}

	return outcome, nil
}

type accountRegion struct {
	accountID, region string
}

func groupByAccountRegion(refs []schedule.ResourceReference) map[accountRegion][]schedule.ResourceReference {
	groups := make(map[accountRegion][]schedule.ResourceReference)
	for _, ref := range refs {
		parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
		if err != nil {
			// Grouped under a sentinel key so the per-resource parse
			// failure is still reported as a failed result, not dropped.
			key := accountRegion{accountID: "", region: ""}
			groups[key] = append(groups[key], ref)
			continue
		}
		key := accountRegion{accountID: parsed.AccountID, region: parsed.Region}
		groups[key] = append(groups[key], ref)
	}
	return groups
}

// processGroup handles one (account, region) group: credential acquisition
// followed by sequential, audit-ordered resource processing (spec.md §4.10
// steps 4-5).
func (o *Orchestrator) processGroup(ctx context.Context, sched schedule.Schedule, key accountRegion, refs []schedule.ResourceReference, action schedule.Action, accountsByID map[string]schedule.Account, addResult func(schedule.ResourceActionResult)) {
	failAll := func(cause error) {
		for _, ref := range refs {
			addResult(schedule.ResourceActionResult{
				CanonicalID: ref.CanonicalID,
				Kind:        ref.Kind,
				Action:      action,
				Outcome:     schedule.OutcomeFailed,
				ErrorText:   cause.Error(),
			})
		}
	}

	if key.accountID == "" {
		failAll(fmt.Errorf("resource reference(s) with unparsable canonical id"))
		return
	}

	account, ok := accountsByID[key.accountID]
	if !ok {
		failAll(fmt.Errorf("account %s not found or inactive", key.accountID))
		return
	}

	creds, err := o.broker.Assume(ctx, account.RoleID, account.AccountID, key.region, account.ExternalSecret)
	if err != nil {
		failAll(&schedule.CredentialAcquisitionFailedError{AccountID: key.accountID, Region: key.region, Cause: err})
		return
	}

	meta := driver.Meta{ScheduleID: sched.ID, TenantID: sched.TenantID}

	for _, ref := range refs {
		if ctx.Err() != nil {
			addResult(schedule.ResourceActionResult{
				CanonicalID: ref.CanonicalID,
				Kind:        ref.Kind,
				Action:      action,
				Outcome:     schedule.OutcomeFailed,
				ErrorText:   (&schedule.DeadlineExceededError{CanonicalID: ref.CanonicalID}).Error(),
			})
			continue
		}

		drv, ok := o.drivers[ref.Kind]
		if !ok {
			addResult(schedule.ResourceActionResult{
				CanonicalID: ref.CanonicalID,
				Kind:        ref.Kind,
				Action:      action,
				Outcome:     schedule.OutcomeFailed,
				ErrorText:   fmt.Sprintf("no driver registered for kind %s", ref.Kind),
			})
			continue
		}

		var priorState *schedule.PriorState
		if action == schedule.ActionStart && o.historyStore != nil {
			priorState, err = o.historyStore.LastStoppedState(ctx, sched.TenantID, sched.ID, ref.CanonicalID, ref.Kind)
			if err != nil {
				// PriorStateMissing is not an error (spec.md §7); proceed
				// with the driver's kind-specific default.
				o.logger.Warn("looking up prior state", "canonicalId", ref.CanonicalID, "error", err)
				priorState = nil
			}
		}

		result := drv.Process(ctx, ref, action, creds, meta, priorState)
		addResult(result)
	}
}

func (o *Orchestrator) emitExecutionSummary(ctx context.Context, record schedule.ExecutionRecord, actorIdentity string) {
	if o.emitter == nil {
		return
	}

	severity := schedule.SeverityInfo
	if record.Status == schedule.StatusPartial {
		severity = schedule.SeverityMedium
	} else if record.Status == schedule.StatusError {
		severity = schedule.SeverityHigh
	}

	outcome := schedule.OutcomeSuccess
	if record.Failed > 0 {
		outcome = schedule.OutcomeFailed
	}

	o.emitAudit(ctx, schedule.AuditEntry{
		Category:     "scheduler.execution.summary",
		Action:       "scan",
		ActorID:      actorIdentity,
		ActorKind:    actorKind(actorIdentity),
		ResourceID:   record.ScheduleID,
		Outcome:      outcome,
		Severity:     severity,
		Detail:       fmt.Sprintf("execution %s: started=%d stopped=%d failed=%d status=%s%s", record.ExecutionID, record.Started, record.Stopped, record.Failed, record.Status, formatKindSummary(record.KindSummary())),
		Metadata: map[string]string{
			"executionId": record.ExecutionID,
			"tenantId":    record.TenantID,
		},
	})
}

// formatKindSummary renders per-kind started/stopped/failed/skipped counts,
// sorted by kind name for deterministic audit entries, e.g.
// " (vm: started=2 stopped=1 failed=0 skipped=3)".
func formatKindSummary(byKind map[schedule.Kind]schedule.KindCounts) string {
	if len(byKind) == 0 {
		return ""
	}

	kinds := make([]schedule.Kind, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		c := byKind[kind]
		parts = append(parts, fmt.Sprintf("%s: started=%d stopped=%d failed=%d skipped=%d", kind, c.Started, c.Stopped, c.Failed, c.Skipped))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func (o *Orchestrator) emitAudit(ctx context.Context, entry schedule.AuditEntry) {
	if o.emitter == nil {
		return
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = o.now()
	}
	o.emitter.Emit(ctx, entry)
}
