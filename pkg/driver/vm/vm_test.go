package vm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

type fakeEC2 struct {
	state        types.InstanceStateName
	instanceType types.InstanceType
	started      bool
	stopped      bool
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{
			Instances: []types.Instance{{
				InstanceId:   &params.InstanceIds[0],
				State:        &types.InstanceState{Name: f.state},
				InstanceType: f.instanceType,
			}},
		}},
	}, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.started = true
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.stopped = true
	return &ec2.StopInstancesOutput{}, nil
}

func newTestDriver(fake *fakeEC2) *Driver {
	return New(func(schedule.SessionCredentials) EC2API { return fake }, nil)
}

func TestVMDriverStopWhenRunning(t *testing.T) {
	fake := &fakeEC2{state: types.InstanceStateNameRunning, instanceType: types.InstanceTypeM5Large}
	d := newTestDriver(fake)

	ref := schedule.ResourceReference{CanonicalID: "aws:aws:ec2:ap-south-1:123456789012:vm/i-0abc", Kind: schedule.KindVM}
	result := d.Process(context.Background(), ref, schedule.ActionStop, schedule.SessionCredentials{}, driver.Meta{}, nil)

	if !fake.stopped {
		t.Fatal("expected StopInstances to be called")
	}
	if result.Action != schedule.ActionStop || result.Outcome != schedule.OutcomeSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PriorState.PowerState != string(types.InstanceStateNameRunning) {
		t.Fatalf("expected captured prior power state to be running, got %+v", result.PriorState)
	}
}

func TestVMDriverStopSkipsWhenAlreadyStopped(t *testing.T) {
	fake := &fakeEC2{state: types.InstanceStateNameStopped}
	d := newTestDriver(fake)

	ref := schedule.ResourceReference{CanonicalID: "aws:aws:ec2:ap-south-1:123456789012:vm/i-0abc", Kind: schedule.KindVM}
	result := d.Process(context.Background(), ref, schedule.ActionStop, schedule.SessionCredentials{}, driver.Meta{}, nil)

	if fake.stopped {
		t.Fatal("expected StopInstances not to be called")
	}
	if result.Action != schedule.ActionSkip {
		t.Fatalf("expected skip, got %+v", result)
	}
}

func TestVMDriverStartWhenStopped(t *testing.T) {
	fake := &fakeEC2{state: types.InstanceStateNameStopped}
	d := newTestDriver(fake)

	ref := schedule.ResourceReference{CanonicalID: "aws:aws:ec2:ap-south-1:123456789012:vm/i-0abc", Kind: schedule.KindVM}
	result := d.Process(context.Background(), ref, schedule.ActionStart, schedule.SessionCredentials{}, driver.Meta{}, nil)

	if !fake.started {
		t.Fatal("expected StartInstances to be called")
	}
	if result.Action != schedule.ActionStart || result.Outcome != schedule.OutcomeSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVMDriverRejectsInvalidIdentifier(t *testing.T) {
	d := newTestDriver(&fakeEC2{})
	ref := schedule.ResourceReference{CanonicalID: "not-enough-segments", Kind: schedule.KindVM}
	result := d.Process(context.Background(), ref, schedule.ActionStop, schedule.SessionCredentials{}, driver.Meta{}, nil)
	if result.Outcome != schedule.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", result)
	}
}
