// Package containerservice implements the Container-Service Driver
// (spec.md §4.6), the hardest subsystem in the scheduler: scaling a
// service's desired count to zero/restoring it, and orchestrating the
// shutdown and restoration of the ECS cluster's backing auto-scaling
// compute fleet.
package containerservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/driver/asg"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// describeBatchSize is the ECS DescribeServices per-call limit (spec.md §9:
// "this spec mandates no particular batch size beyond the API's 10-service
// batch limit").
const describeBatchSize = 10

// ECSAPI is the subset of the ECS client the driver depends on.
type ECSAPI interface {
	ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
	DescribeCapacityProviders(ctx context.Context, params *ecs.DescribeCapacityProvidersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeCapacityProvidersOutput, error)
	ListContainerInstances(ctx context.Context, params *ecs.ListContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error)
	DescribeContainerInstances(ctx context.Context, params *ecs.DescribeContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error)
}

// AutoScalingInstanceLookupAPI is the legacy container-host-enumeration ASG
// discovery path (spec.md §9): given EC2 instance ids, find their ASG
// membership.
type AutoScalingInstanceLookupAPI interface {
	DescribeAutoScalingInstances(ctx context.Context, instanceIDs []string) (map[string]string, error)
}

// ClientFactory builds region-scoped ECS and Auto Scaling clients plus the
// legacy instance-lookup client from session credentials.
type ClientFactory func(creds schedule.SessionCredentials) (ECSAPI, asg.AutoScalingAPI, AutoScalingInstanceLookupAPI)

// Driver implements driver.Driver for ECS container services.
type Driver struct {
	newClients ClientFactory
	emitter    driver.Emitter
	// skipLegacyDiscovery disables the container-host-enumeration ASG
	// discovery path (spec.md §9: "MAY skip the legacy path if the
	// deployment guarantees capacity-provider usage").
	skipLegacyDiscovery bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithoutLegacyDiscovery disables the container-host-enumeration ASG
// discovery path.
func WithoutLegacyDiscovery() Option {
	return func(d *Driver) { d.skipLegacyDiscovery = true }
}

// New constructs a Container-Service Driver.
func New(newClients ClientFactory, emitter driver.Emitter, opts ...Option) *Driver {
	d := &Driver{newClients: newClients, emitter: emitter}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta driver.Meta, priorState *schedule.PriorState) schedule.ResourceActionResult {
	parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, Kind: schedule.KindContainerService, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}
	clusterID := parsed.ParentID
	if clusterID == "" {
		clusterID = ref.ParentID
	}

	ecsClient, asgClient, legacyLookup := d.newClients(creds)

	switch action {
	case schedule.ActionStop:
		return d.stop(ctx, ref, parsed.LocalID, clusterID, ecsClient, asgClient, legacyLookup, meta)
	case schedule.ActionStart:
		return d.start(ctx, ref, parsed.LocalID, clusterID, ecsClient, asgClient, legacyLookup, meta, priorState)
	}

	return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindContainerService, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess}
}

func (d *Driver) stop(ctx context.Context, ref schedule.ResourceReference, serviceID, clusterID string, ecsClient ECSAPI, asgClient asg.AutoScalingAPI, legacyLookup AutoScalingInstanceLookupAPI, meta driver.Meta) schedule.ResourceActionResult {
	current, err := describeOne(ctx, ecsClient, clusterID, serviceID)
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStop, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}

	serviceStopped := false
	if current.desired > 0 {
		if _, err := ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{Cluster: aws.String(clusterID), Service: aws.String(serviceID), DesiredCount: aws.Int32(0)}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: schedule.ActionStop, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStop, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		serviceStopped = true
	}

	idle, err := clusterIdle(ctx, ecsClient, clusterID, serviceID)
	if err != nil {
		// Fail-safe per spec.md §9/§4.6 step 3: treat as not idle, never
		// tear down compute under uncertainty.
		idle = false
	}

	var captured []schedule.BackingASGState
	if idle {
		names, err := discoverBackingASGs(ctx, ecsClient, legacyLookup, clusterID, d.skipLegacyDiscovery)
		if err == nil {
			for _, name := range names {
				state, asgStoppedOne, clearErr := stopBackingASG(ctx, asgClient, name)
				if clearErr != nil {
					// Logged but does not abort, per spec.md §4.6 step 5b.
					driver.EmitWarning(ctx, d.emitter, meta, schedule.KindAutoScalingGroup, name, "scheduler.asg.protection-clear-failed", clearErr.Error())
				}
				if asgStoppedOne {
					captured = append(captured, state)
				}
			}
		}
	}

	prior := &schedule.PriorState{Desired: current.desired, BackingASGState: captured}

	if !serviceStopped && len(captured) == 0 {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		return result
	}

	result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStop, Outcome: schedule.OutcomeSuccess, PriorState: prior}
	driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("stopped service %s (was desired=%d), %d backing asg(s) scaled down", serviceID, current.desired, len(captured)))
	return result
}

func (d *Driver) start(ctx context.Context, ref schedule.ResourceReference, serviceID, clusterID string, ecsClient ECSAPI, asgClient asg.AutoScalingAPI, legacyLookup AutoScalingInstanceLookupAPI, meta driver.Meta, priorState *schedule.PriorState) schedule.ResourceActionResult {
	if priorState != nil && len(priorState.BackingASGState) > 0 {
		for _, captured := range priorState.BackingASGState {
			if err := asg.Update(ctx, asgClient, captured.Name, captured.Min, captured.Max, captured.Desired); err != nil {
				// Logged but does not abort, per spec.md §4.6 start step 1.
				driver.EmitWarning(ctx, d.emitter, meta, schedule.KindAutoScalingGroup, captured.Name, "scheduler.asg.restore-failed", err.Error())
			}
		}
	} else {
		names, err := discoverBackingASGs(ctx, ecsClient, legacyLookup, clusterID, d.skipLegacyDiscovery)
		if err == nil {
			for _, name := range names {
				state, err := asg.Describe(ctx, asgClient, name)
				if err != nil || state.Desired != 0 {
					continue
				}
				min, max := state.Min, state.Max
				if min == 0 {
					min = 1
				}
				if max < 1 {
					max = 1
				}
				if err := asg.Update(ctx, asgClient, name, min, max, 1); err == nil {
					driver.EmitWarning(ctx, d.emitter, meta, schedule.KindAutoScalingGroup, name,
						"scheduler.asg.fallback-capacity",
						fmt.Sprintf("no prior captured state for %s; applied fallback capacity min=%d max=%d desired=1", name, min, max))
				}
			}
		}
	}

	current, err := describeOne(ctx, ecsClient, clusterID, serviceID)
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStart, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}

	if current.desired != 0 {
		return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess}
	}

	target := int32(1)
	if priorState != nil && priorState.Desired > 0 {
		target = priorState.Desired
	}

	if _, err := ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{Cluster: aws.String(clusterID), Service: aws.String(serviceID), DesiredCount: aws.Int32(target)}); err != nil {
		mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: schedule.ActionStart, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStart, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
		return result
	}

	result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: serviceID, Kind: schedule.KindContainerService, Action: schedule.ActionStart, Outcome: schedule.OutcomeSuccess}
	driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("started service %s at desired=%d", serviceID, target))
	return result
}

type serviceState struct {
	desired, running, pending int32
	status                    string
}

func describeOne(ctx context.Context, client ECSAPI, clusterID, serviceID string) (serviceState, error) {
	out, err := client.DescribeServices(ctx, &ecs.DescribeServicesInput{Cluster: aws.String(clusterID), Services: []string{serviceID}})
	if err != nil {
		return serviceState{}, err
	}
	if len(out.Services) == 0 {
		return serviceState{}, fmt.Errorf("service %s not found on cluster %s", serviceID, clusterID)
	}
	svc := out.Services[0]
	return serviceState{
		desired: svc.DesiredCount,
		running: svc.RunningCount,
		pending: svc.PendingCount,
		status:  aws.ToString(svc.Status),
	}, nil
}

// clusterIdle enumerates every service on the cluster, excluding
// excludeServiceID (the one just transitioned in the current scan, per
// spec.md §8 invariant 7), and reports whether every remaining service has
// both desired=0 and running=0.
func clusterIdle(ctx context.Context, client ECSAPI, clusterID, excludeServiceID string) (bool, error) {
	listOut, err := client.ListServices(ctx, &ecs.ListServicesInput{Cluster: aws.String(clusterID)})
	if err != nil {
		return false, &schedule.ClusterIdlenessCheckFailedError{ClusterID: clusterID, Cause: err}
	}

	var others []string
	for _, arn := range listOut.ServiceArns {
		if serviceNameFromARN(arn) == excludeServiceID {
			continue
		}
		others = append(others, arn)
	}
	if len(others) == 0 {
		return true, nil
	}

	for start := 0; start < len(others); start += describeBatchSize {
		end := min(start+describeBatchSize, len(others))
		batch := others[start:end]

		out, err := client.DescribeServices(ctx, &ecs.DescribeServicesInput{Cluster: aws.String(clusterID), Services: batch})
		if err != nil {
			return false, &schedule.ClusterIdlenessCheckFailedError{ClusterID: clusterID, Cause: err}
		}
		for _, svc := range out.Services {
			if svc.DesiredCount != 0 || svc.RunningCount != 0 {
				return false, nil
			}
		}
	}

	return true, nil
}

// discoverBackingASGs unions the two complementary discovery paths named in
// spec.md §4.6 step 4.
func discoverBackingASGs(ctx context.Context, client ECSAPI, legacyLookup AutoScalingInstanceLookupAPI, clusterID string, skipLegacy bool) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string

	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	describeOut, err := client.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{clusterID}})
	if err == nil && len(describeOut.Clusters) > 0 {
		providerNames := describeOut.Clusters[0].CapacityProviders
		if len(providerNames) > 0 {
			cpOut, err := client.DescribeCapacityProviders(ctx, &ecs.DescribeCapacityProvidersInput{CapacityProviders: providerNames})
			if err == nil {
				for _, cp := range cpOut.CapacityProviders {
					if isManagedCapacityProvider(cp) || cp.AutoScalingGroupProvider == nil {
						continue
					}
					add(asgNameFromARN(aws.ToString(cp.AutoScalingGroupProvider.AutoScalingGroupArn)))
				}
			}
		}
	}

	if !skipLegacy {
		listOut, err := client.ListContainerInstances(ctx, &ecs.ListContainerInstancesInput{Cluster: aws.String(clusterID)})
		if err == nil && len(listOut.ContainerInstanceArns) > 0 {
			describeCIOut, err := client.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{Cluster: aws.String(clusterID), ContainerInstances: listOut.ContainerInstanceArns})
			if err == nil {
				var instanceIDs []string
				for _, ci := range describeCIOut.ContainerInstances {
					instanceIDs = append(instanceIDs, aws.ToString(ci.Ec2InstanceId))
				}
				if len(instanceIDs) > 0 {
					membership, err := legacyLookup.DescribeAutoScalingInstances(ctx, instanceIDs)
					if err == nil {
						for _, name := range membership {
							add(name)
						}
					}
				}
			}
		}
	}

	return names, nil
}

// stopBackingASG clears scale-in protection (failure logged, not fatal),
// then captures and zeroes the ASG if it has any non-zero capacity, per
// spec.md §4.6 step 5.
func stopBackingASG(ctx context.Context, client asg.AutoScalingAPI, name string) (schedule.BackingASGState, bool, error) {
	state, err := asg.Describe(ctx, client, name)
	if err != nil {
		return schedule.BackingASGState{}, false, err
	}

	var clearErr error
	if protected, err := asg.ProtectedInstanceIDs(ctx, client, name); err == nil && len(protected) > 0 {
		clearErr = asg.ClearProtection(ctx, client, name, protected)
	}

	if state.Desired == 0 && state.Min == 0 {
		return schedule.BackingASGState{}, false, clearErr
	}

	if err := asg.Update(ctx, client, name, 0, 0, 0); err != nil {
		return schedule.BackingASGState{}, false, err
	}

	return state, true, clearErr
}

func isManagedCapacityProvider(cp types.CapacityProvider) bool {
	name := aws.ToString(cp.Name)
	return strings.HasPrefix(name, "FARGATE")
}

func serviceNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}

func asgNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}

// autoScalingInstanceLookup adapts the Auto Scaling client's
// DescribeAutoScalingInstances call into AutoScalingInstanceLookupAPI for the
// legacy container-host-enumeration discovery path.
type autoScalingInstanceLookup struct {
	client *autoscaling.Client
}

func (l *autoScalingInstanceLookup) DescribeAutoScalingInstances(ctx context.Context, instanceIDs []string) (map[string]string, error) {
	membership := make(map[string]string, len(instanceIDs))
	for start := 0; start < len(instanceIDs); start += describeBatchSize * 5 {
		end := min(start+describeBatchSize*5, len(instanceIDs))
		out, err := l.client.DescribeAutoScalingInstances(ctx, &autoscaling.DescribeAutoScalingInstancesInput{InstanceIds: instanceIDs[start:end]})
		if err != nil {
			return membership, err
		}
		for _, inst := range out.AutoScalingInstances {
			membership[aws.ToString(inst.InstanceId)] = aws.ToString(inst.AutoScalingGroupName)
		}
	}
	return membership, nil
}

// NewECSClientFactory returns a ClientFactory for wiring in cmd/hiberctl.
func NewECSClientFactory(cfg aws.Config) ClientFactory {
	return func(creds schedule.SessionCredentials) (ECSAPI, asg.AutoScalingAPI, AutoScalingInstanceLookupAPI) {
		regional := driver.RegionalConfig(cfg, creds)
		autoScalingClient := autoscaling.NewFromConfig(regional)
		return ecs.NewFromConfig(regional), autoScalingClient, &autoScalingInstanceLookup{client: autoScalingClient}
	}
}
