// Package asg implements the Auto-Scaling-Group Driver (spec.md §4.7) and
// exposes the low-level ASG operations the Container-Service Driver
// (spec.md §4.6) also needs when orchestrating a cluster's backing compute
// fleet.
package asg

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// AutoScalingAPI is the subset of the Auto Scaling client both this driver
// and the container-service driver depend on.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	SetInstanceProtection(ctx context.Context, params *autoscaling.SetInstanceProtectionInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetInstanceProtectionOutput, error)
}

// ClientFactory builds a region-scoped Auto Scaling client from session credentials.
type ClientFactory func(creds schedule.SessionCredentials) AutoScalingAPI

// Driver implements driver.Driver for an ASG targeted directly by a
// schedule (not via a container service).
type Driver struct {
	newClient ClientFactory
	emitter   driver.Emitter
}

// New constructs an ASG Driver.
func New(newClient ClientFactory, emitter driver.Emitter) *Driver {
	return &Driver{newClient: newClient, emitter: emitter}
}

func (d *Driver) Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta driver.Meta, priorState *schedule.PriorState) schedule.ResourceActionResult {
	parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, Kind: schedule.KindAutoScalingGroup, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	client := d.newClient(creds)

	current, err := Describe(ctx, client, parsed.LocalID)
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}

	switch action {
	case schedule.ActionStop:
		if current.Min == 0 && current.Max == 0 && current.Desired == 0 {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: asgPriorState(current)}
		}
		if err := Update(ctx, client, parsed.LocalID, 0, 0, 0); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: schedule.ActionStop, Outcome: schedule.OutcomeSuccess, PriorState: asgPriorState(current)}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("scaled asg %s to zero (was min=%d max=%d desired=%d)", parsed.LocalID, current.Min, current.Max, current.Desired))
		return result

	case schedule.ActionStart:
		if current.Desired > 0 {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: asgPriorState(current)}
		}

		min, max, desired := int32(0), max32(1, current.Max), int32(1)
		if priorState != nil && (priorState.Min > 0 || priorState.Max > 0 || priorState.Desired > 0) {
			min, max, desired = priorState.Min, priorState.Max, priorState.Desired
		}

		if err := Update(ctx, client, parsed.LocalID, min, max, desired); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: schedule.ActionStart, Outcome: schedule.OutcomeSuccess, PriorState: asgPriorState(current)}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("restored asg %s to min=%d max=%d desired=%d", parsed.LocalID, min, max, desired))
		return result
	}

	return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindAutoScalingGroup, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: asgPriorState(current)}
}

func asgPriorState(c schedule.BackingASGState) *schedule.PriorState {
	return &schedule.PriorState{Min: c.Min, Max: c.Max, Desired: c.Desired}
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// Describe fetches the current (min, max, desired) triple for the named ASG;
// scale-in protected instance ids come from ProtectedInstanceIDs. Shared by
// this driver and the container-service driver's backing-fleet orchestration.
func Describe(ctx context.Context, client AutoScalingAPI, name string) (schedule.BackingASGState, error) {
	out, err := client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []string{name}})
	if err != nil {
		return schedule.BackingASGState{}, err
	}
	if len(out.AutoScalingGroups) == 0 {
		return schedule.BackingASGState{}, fmt.Errorf("auto scaling group %s not found in describe response", name)
	}
	group := out.AutoScalingGroups[0]
	return schedule.BackingASGState{
		Name:    name,
		Min:     aws.ToInt32(group.MinSize),
		Max:     aws.ToInt32(group.MaxSize),
		Desired: aws.ToInt32(group.DesiredCapacity),
	}, nil
}

// ProtectedInstanceIDs returns the ids of instances in the named ASG that
// currently carry scale-in protection.
func ProtectedInstanceIDs(ctx context.Context, client AutoScalingAPI, name string) ([]string, error) {
	out, err := client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{AutoScalingGroupNames: []string{name}})
	if err != nil {
		return nil, err
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, nil
	}
	var ids []string
	for _, inst := range out.AutoScalingGroups[0].Instances {
		if aws.ToBool(inst.ProtectedFromScaleIn) {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	return ids, nil
}

// ClearProtection clears scale-in protection on the given instances. A
// failure is returned to the caller to log-but-not-abort, per spec.md §4.6
// step 5b.
func ClearProtection(ctx context.Context, client AutoScalingAPI, asgName string, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	_, err := client.SetInstanceProtection(ctx, &autoscaling.SetInstanceProtectionInput{
		AutoScalingGroupName: aws.String(asgName),
		InstanceIds:          instanceIDs,
		ProtectedFromScaleIn: aws.Bool(false),
	})
	return err
}

// Update sets min/max/desired on the named ASG.
func Update(ctx context.Context, client AutoScalingAPI, name string, min, max, desired int32) error {
	_, err := client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		MinSize:              aws.Int32(min),
		MaxSize:              aws.Int32(max),
		DesiredCapacity:      aws.Int32(desired),
	})
	return err
}

// NewAutoScalingClientFactory returns a ClientFactory for wiring in cmd/hiberctl.
func NewAutoScalingClientFactory(cfg aws.Config) ClientFactory {
	return func(creds schedule.SessionCredentials) AutoScalingAPI {
		return autoscaling.NewFromConfig(driver.RegionalConfig(cfg, creds))
	}
}
