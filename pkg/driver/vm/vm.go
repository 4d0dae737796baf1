// Package vm implements the VM Driver (spec.md §4.4) against EC2.
package vm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// EC2API is the subset of the EC2 client the driver depends on.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
}

// ClientFactory builds a region-scoped EC2 client from session credentials.
type ClientFactory func(creds schedule.SessionCredentials) EC2API

// Driver implements driver.Driver for virtual machines.
type Driver struct {
	newClient ClientFactory
	emitter   driver.Emitter
}

// New constructs a VM Driver.
func New(newClient ClientFactory, emitter driver.Emitter) *Driver {
	return &Driver{newClient: newClient, emitter: emitter}
}

func (d *Driver) Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta driver.Meta, _ *schedule.PriorState) schedule.ResourceActionResult {
	parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, Kind: schedule.KindVM, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	client := d.newClient(creds)

	describeOut, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{parsed.LocalID}})
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}

	instance, err := soleInstance(describeOut)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	powerState := string(instance.State.Name)
	instanceType := string(instance.InstanceType)
	prior := &schedule.PriorState{PowerState: powerState, InstanceType: instanceType}

	switch action {
	case schedule.ActionStop:
		if powerState != string(types.InstanceStateNameRunning) {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{parsed.LocalID}}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: schedule.ActionStop, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("stopped instance %s (was %s)", parsed.LocalID, powerState))
		return result

	case schedule.ActionStart:
		if powerState == string(types.InstanceStateNameRunning) || powerState == string(types.InstanceStateNamePending) {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{parsed.LocalID}}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: schedule.ActionStart, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("started instance %s", parsed.LocalID))
		return result
	}

	return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindVM, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
}

func soleInstance(out *ec2.DescribeInstancesOutput) (types.Instance, error) {
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			return instance, nil
		}
	}
	return types.Instance{}, fmt.Errorf("instance not found in describe response")
}

// NewEC2ClientFactory returns a ClientFactory that builds a region-scoped
// ec2.Client from AWS SDK static credentials, for wiring in cmd/hiberctl.
func NewEC2ClientFactory(cfg aws.Config) ClientFactory {
	return func(creds schedule.SessionCredentials) EC2API {
		return ec2.NewFromConfig(driver.RegionalConfig(cfg, creds))
	}
}
