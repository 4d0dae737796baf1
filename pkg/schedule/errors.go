package schedule

import "fmt"

// InvalidResourceIdentifierError reports a malformed canonical resource id.
type InvalidResourceIdentifierError struct {
	ID     string
	Reason string
}

func (e *InvalidResourceIdentifierError) Error() string {
	return fmt.Sprintf("invalid resource identifier %q: %s", e.ID, e.Reason)
}

// ScheduleNotFoundError is returned by a partial scan for an unknown id.
type ScheduleNotFoundError struct {
	ScheduleID string
	TenantID   string
}

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("schedule %q not found for tenant %q", e.ScheduleID, e.TenantID)
}

// CredentialAcquisitionFailedError is returned per (account, region) when
// role assumption fails.
type CredentialAcquisitionFailedError struct {
	AccountID string
	Region    string
	Cause     error
}

func (e *CredentialAcquisitionFailedError) Error() string {
	return fmt.Sprintf("acquiring credentials for account %s region %s: %v", e.AccountID, e.Region, e.Cause)
}

func (e *CredentialAcquisitionFailedError) Unwrap() error { return e.Cause }

// ResourceDescribeFailedError reports a failed describe call; no mutation
// was issued.
type ResourceDescribeFailedError struct {
	CanonicalID string
	Cause       error
}

func (e *ResourceDescribeFailedError) Error() string {
	return fmt.Sprintf("describing resource %s: %v", e.CanonicalID, e.Cause)
}

func (e *ResourceDescribeFailedError) Unwrap() error { return e.Cause }

// ResourceMutateFailedError reports a failed start/stop mutation.
type ResourceMutateFailedError struct {
	CanonicalID string
	Action      Action
	Cause       error
}

func (e *ResourceMutateFailedError) Error() string {
	return fmt.Sprintf("%s resource %s: %v", e.Action, e.CanonicalID, e.Cause)
}

func (e *ResourceMutateFailedError) Unwrap() error { return e.Cause }

// ClusterIdlenessCheckFailedError is treated as "not idle" — fail-safe.
type ClusterIdlenessCheckFailedError struct {
	ClusterID string
	Cause     error
}

func (e *ClusterIdlenessCheckFailedError) Error() string {
	return fmt.Sprintf("checking cluster idleness for %s: %v", e.ClusterID, e.Cause)
}

func (e *ClusterIdlenessCheckFailedError) Unwrap() error { return e.Cause }

// DeadlineExceededError is surfaced for resources not processed before the
// orchestrator's scan timeout, which bounds each schedule's processing; a
// full scan as a whole has no deadline of its own.
type DeadlineExceededError struct {
	CanonicalID string
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline exceeded before processing %s", e.CanonicalID)
}
