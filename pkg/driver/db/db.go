// Package db implements the DB Driver (spec.md §4.5) against RDS.
package db

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

const (
	availabilityAvailable = "available"
	availabilityStarting  = "starting"
)

// RDSAPI is the subset of the RDS client the driver depends on.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	StartDBInstance(ctx context.Context, params *rds.StartDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error)
	StopDBInstance(ctx context.Context, params *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error)
}

// ClientFactory builds a region-scoped RDS client from session credentials.
type ClientFactory func(creds schedule.SessionCredentials) RDSAPI

// Driver implements driver.Driver for managed databases.
type Driver struct {
	newClient ClientFactory
	emitter   driver.Emitter
}

// New constructs a DB Driver.
func New(newClient ClientFactory, emitter driver.Emitter) *Driver {
	return &Driver{newClient: newClient, emitter: emitter}
}

func (d *Driver) Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta driver.Meta, _ *schedule.PriorState) schedule.ResourceActionResult {
	parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, Kind: schedule.KindDB, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	client := d.newClient(creds)

	describeOut, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(parsed.LocalID)})
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}
	if len(describeOut.DBInstances) == 0 {
		err := fmt.Errorf("db instance %s not found in describe response", parsed.LocalID)
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	instance := describeOut.DBInstances[0]
	availability := aws.ToString(instance.DBInstanceStatus)
	instanceClass := aws.ToString(instance.DBInstanceClass)
	prior := &schedule.PriorState{Availability: availability, InstanceClass: instanceClass}

	switch action {
	case schedule.ActionStop:
		if availability != availabilityAvailable {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(parsed.LocalID)}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: schedule.ActionStop, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("stopped db instance %s (was %s)", parsed.LocalID, availability))
		return result

	case schedule.ActionStart:
		if availability == availabilityAvailable || availability == availabilityStarting {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(parsed.LocalID)}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: schedule.ActionStart, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("started db instance %s", parsed.LocalID))
		return result
	}

	return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDB, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
}

// NewRDSClientFactory returns a ClientFactory for wiring in cmd/hiberctl.
func NewRDSClientFactory(cfg aws.Config) ClientFactory {
	return func(creds schedule.SessionCredentials) RDSAPI {
		return rds.NewFromConfig(driver.RegionalConfig(cfg, creds))
	}
}
