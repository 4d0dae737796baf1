// Package schedule holds the core data model shared by every scheduler
// component: schedules, the resources they target, accounts, credentials,
// and the records produced by a scan.
package schedule

import "time"

// Kind is the tagged variant of a resource a schedule can target.
type Kind string

const (
	KindVM                Kind = "vm"
	KindDB                Kind = "db"
	KindContainerService  Kind = "container-service"
	KindAutoScalingGroup  Kind = "auto-scaling-group"
	KindDocumentDatabase  Kind = "document-database"
)

// TriggerSource identifies what caused a scan to run.
type TriggerSource string

const (
	TriggerPeriodic  TriggerSource = "periodic"
	TriggerOnDemand  TriggerSource = "on-demand"
)

// Action is the intended or attempted transition for a resource.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionSkip  Action = "skip"
)

// Outcome is the result of attempting an Action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ExecutionStatus is the terminal status of an ExecutionRecord.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial"
	StatusError   ExecutionStatus = "error"
	StatusRunning ExecutionStatus = "running"
)

// Severity levels for AuditEntry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Schedule is immutable for the duration of one scan. The core only reads
// schedules; they are created and mutated by external configuration services.
type Schedule struct {
	ID         string
	Name       string
	TenantID   string
	Active     bool
	StartHMS   string   // "HH:MM:SS"
	EndHMS     string   // "HH:MM:SS"
	Timezone   string   // IANA identifier, e.g. "Asia/Kolkata"
	ActiveDays []string // weekday abbreviations, e.g. "Mon", "Tue"
	Resources  []ResourceReference
}

// ResourceReference points at one cloud resource a schedule targets.
type ResourceReference struct {
	ResourceID  string
	Kind        Kind
	CanonicalID string // region+account+kind+local-id, see pkg/schedule.ParseCanonicalID
	ParentID    string // optional parent-container id, for container services
}

// Account is an externally-managed cloud account the core assumes a role
// into. The core only caches it for the duration of one scan.
type Account struct {
	AccountID      string
	DisplayName    string
	RoleID         string
	ExternalSecret string
	Regions        []string
	Active         bool
}

// SessionCredentials are short-lived credentials for one (account, region).
type SessionCredentials struct {
	AccessID     string
	Secret       string
	SessionToken string
	Expiry       time.Time
	Region       string
}

// Expired reports whether the credentials are no longer usable at t.
func (c SessionCredentials) Expired(t time.Time) bool {
	return !t.Before(c.Expiry)
}

// BackingASGState is the captured (min, max, desired) triple for one
// auto-scaling group backing a container-service cluster.
type BackingASGState struct {
	Name    string
	Min     int32
	Max     int32
	Desired int32
}

// PriorState is the kind-specific state captured before a mutation, read
// back on a later start to restore accurately. Captured state evolves across
// code versions (spec.md §9): unknown fields are ignored on read, and since
// PriorState has no field that holds them, re-serializing it drops them.
type PriorState struct {
	// VM
	PowerState   string `json:"powerState,omitempty"`
	InstanceType string `json:"instanceType,omitempty"`

	// DB / DocumentDB
	Availability   string `json:"availability,omitempty"`
	InstanceClass  string `json:"instanceClass,omitempty"`

	// Container service
	Desired         int32             `json:"desired,omitempty"`
	BackingASGState []BackingASGState `json:"backingAsgState,omitempty"`

	// Auto-scaling group (when targeted directly)
	Min int32 `json:"min,omitempty"`
	Max int32 `json:"max,omitempty"`
}

// ResourceActionResult is produced by a driver, embedded into an
// ExecutionRecord, and read back by a later driver invocation during restore.
type ResourceActionResult struct {
	CanonicalID string
	LocalID     string
	Kind        Kind
	Action      Action
	Outcome     Outcome
	ErrorText   string
	PriorState  *PriorState
}

// KindCounts summarizes started/stopped/failed/skipped actions for one kind.
type KindCounts struct {
	Started int
	Stopped int
	Failed  int
	Skipped int
}

func (c *KindCounts) observe(result ResourceActionResult) {
	switch {
	case result.Outcome == OutcomeFailed:
		c.Failed++
	case result.Action == ActionSkip:
		c.Skipped++
	case result.Action == ActionStart:
		c.Started++
	case result.Action == ActionStop:
		c.Stopped++
	}
}

// ExecutionRecord is an append-only record of one schedule's scan, doubling
// as the state store consulted on the next restoration.
type ExecutionRecord struct {
	ExecutionID   string
	ScheduleID    string
	TenantID      string
	AccountID     string
	TriggerSource TriggerSource
	Start         time.Time
	End           time.Time
	Status        ExecutionStatus
	Started       int
	Stopped       int
	Failed        int
	Results       map[Kind][]ResourceActionResult
	TTL           int64 // unix seconds
}

// Duration returns End.Sub(Start).
func (r ExecutionRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// ComputeStatus derives the status field from the record's counts, per the
// invariant in spec.md §3: success iff failed=0; partial iff failed>0 and
// (started+stopped)>0; error iff failed>0 and (started+stopped)=0.
func (r ExecutionRecord) ComputeStatus() ExecutionStatus {
	switch {
	case r.Failed == 0:
		return StatusSuccess
	case r.Started+r.Stopped > 0:
		return StatusPartial
	default:
		return StatusError
	}
}

// KindSummary derives per-kind started/stopped/failed/skipped counts from
// the record's Results, for the "scheduler.execution.summary" audit entry
// (spec.md §4.8).
func (r ExecutionRecord) KindSummary() map[Kind]KindCounts {
	summary := make(map[Kind]KindCounts, len(r.Results))
	for kind, results := range r.Results {
		counts := summary[kind]
		for _, result := range results {
			counts.observe(result)
		}
		summary[kind] = counts
	}
	return summary
}

// AuditEntry is a structured, append-only event at per-resource or
// per-execution granularity.
type AuditEntry struct {
	EntryID      string
	Timestamp    time.Time
	Category     string // dotted path, e.g. "scheduler.vm.start"
	Action       string
	ActorID      string
	ActorKind    string // "user" | "system"
	ResourceKind Kind
	ResourceID   string
	Outcome      Outcome
	Severity     Severity
	Detail       string
	Metadata     map[string]string
	TTL          int64 // unix seconds
}
