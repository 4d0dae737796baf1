package asg

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

type fakeASG struct {
	min, max, desired int32
	updated           bool
	updatedMin        int32
	updatedMax        int32
	updatedDesired    int32
}

func (f *fakeASG) DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return &autoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: []types.AutoScalingGroup{{
			AutoScalingGroupName: aws.String(params.AutoScalingGroupNames[0]),
			MinSize:              aws.Int32(f.min),
			MaxSize:              aws.Int32(f.max),
			DesiredCapacity:      aws.Int32(f.desired),
		}},
	}, nil
}

func (f *fakeASG) UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	f.updated = true
	f.updatedMin = aws.ToInt32(params.MinSize)
	f.updatedMax = aws.ToInt32(params.MaxSize)
	f.updatedDesired = aws.ToInt32(params.DesiredCapacity)
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

func (f *fakeASG) SetInstanceProtection(ctx context.Context, params *autoscaling.SetInstanceProtectionInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetInstanceProtectionOutput, error) {
	return &autoscaling.SetInstanceProtectionOutput{}, nil
}

func TestASGDriverStopCapturesAndZeroes(t *testing.T) {
	fake := &fakeASG{min: 2, max: 10, desired: 4}
	d := New(func(schedule.SessionCredentials) AutoScalingAPI { return fake }, nil)

	ref := schedule.ResourceReference{CanonicalID: "aws:aws:autoscaling:us-east-1:123456789012:auto-scaling-group/g1", Kind: schedule.KindAutoScalingGroup}
	result := d.Process(context.Background(), ref, schedule.ActionStop, schedule.SessionCredentials{}, driver.Meta{}, nil)

	if !fake.updated || fake.updatedMin != 0 || fake.updatedMax != 0 || fake.updatedDesired != 0 {
		t.Fatalf("expected asg scaled to zero, got %+v", fake)
	}
	if result.PriorState.Min != 2 || result.PriorState.Max != 10 || result.PriorState.Desired != 4 {
		t.Fatalf("unexpected captured prior state: %+v", result.PriorState)
	}
}

func TestASGDriverStartRestoresCapturedTriple(t *testing.T) {
	fake := &fakeASG{min: 0, max: 10, desired: 0}
	d := New(func(schedule.SessionCredentials) AutoScalingAPI { return fake }, nil)

	prior := &schedule.PriorState{Min: 2, Max: 10, Desired: 4}
	ref := schedule.ResourceReference{CanonicalID: "aws:aws:autoscaling:us-east-1:123456789012:auto-scaling-group/g1", Kind: schedule.KindAutoScalingGroup}
	_ = d.Process(context.Background(), ref, schedule.ActionStart, schedule.SessionCredentials{}, driver.Meta{}, prior)

	if fake.updatedMin != 2 || fake.updatedMax != 10 || fake.updatedDesired != 4 {
		t.Fatalf("expected restore to captured triple, got min=%d max=%d desired=%d", fake.updatedMin, fake.updatedMax, fake.updatedDesired)
	}
}

func TestASGDriverStartFallbackWithoutPriorState(t *testing.T) {
	fake := &fakeASG{min: 0, max: 10, desired: 0}
	d := New(func(schedule.SessionCredentials) AutoScalingAPI { return fake }, nil)

	ref := schedule.ResourceReference{CanonicalID: "aws:aws:autoscaling:us-east-1:123456789012:auto-scaling-group/g1", Kind: schedule.KindAutoScalingGroup}
	_ = d.Process(context.Background(), ref, schedule.ActionStart, schedule.SessionCredentials{}, driver.Meta{}, nil)

	if fake.updatedMin != 0 || fake.updatedDesired != 1 || fake.updatedMax < 1 {
		t.Fatalf("expected fallback min=0 desired=1 max>=1, got min=%d max=%d desired=%d", fake.updatedMin, fake.updatedMax, fake.updatedDesired)
	}
}
