// Package documentdb implements the DocumentDB Driver (SPEC_FULL.md §4.11),
// the tagged resource variant named in spec.md §9 but not given its own
// numbered subsection there. Its contract matches the DB Driver (spec.md
// §4.5); its captured state records availability only, with no instance
// class, since it describes the cluster and not its member instances.
package documentdb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/docdb"

	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

const (
	availabilityAvailable = "available"
	availabilityStarting  = "starting"
)

// DocDBAPI is the subset of the DocumentDB client the driver depends on.
// DocumentDB exposes stop/start at the cluster granularity.
type DocDBAPI interface {
	DescribeDBClusters(ctx context.Context, params *docdb.DescribeDBClustersInput, optFns ...func(*docdb.Options)) (*docdb.DescribeDBClustersOutput, error)
	StartDBCluster(ctx context.Context, params *docdb.StartDBClusterInput, optFns ...func(*docdb.Options)) (*docdb.StartDBClusterOutput, error)
	StopDBCluster(ctx context.Context, params *docdb.StopDBClusterInput, optFns ...func(*docdb.Options)) (*docdb.StopDBClusterOutput, error)
}

// ClientFactory builds a region-scoped DocumentDB client from session credentials.
type ClientFactory func(creds schedule.SessionCredentials) DocDBAPI

// Driver implements driver.Driver for DocumentDB clusters.
type Driver struct {
	newClient ClientFactory
	emitter   driver.Emitter
}

// New constructs a DocumentDB Driver.
func New(newClient ClientFactory, emitter driver.Emitter) *Driver {
	return &Driver{newClient: newClient, emitter: emitter}
}

func (d *Driver) Process(ctx context.Context, ref schedule.ResourceReference, action schedule.Action, creds schedule.SessionCredentials, meta driver.Meta, _ *schedule.PriorState) schedule.ResourceActionResult {
	parsed, err := schedule.ParseCanonicalID(ref.CanonicalID)
	if err != nil {
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, Kind: schedule.KindDocumentDatabase, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	client := d.newClient(creds)

	describeOut, err := client.DescribeDBClusters(ctx, &docdb.DescribeDBClustersInput{DBClusterIdentifier: aws.String(parsed.LocalID)})
	if err != nil {
		descErr := &schedule.ResourceDescribeFailedError{CanonicalID: ref.CanonicalID, Cause: err}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: descErr.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, descErr.Error())
		return result
	}
	if len(describeOut.DBClusters) == 0 {
		err := fmt.Errorf("documentdb cluster %s not found in describe response", parsed.LocalID)
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: err.Error()}
		driver.EmitResult(ctx, d.emitter, meta, result, err.Error())
		return result
	}

	cluster := describeOut.DBClusters[0]
	availability := aws.ToString(cluster.Status)
	// Instance class lives on cluster members (a separate describe-instances
	// call), not on the cluster itself; captured state records availability
	// only, matching what a single DescribeDBClusters call can observe.
	prior := &schedule.PriorState{Availability: availability}

	switch action {
	case schedule.ActionStop:
		if availability != availabilityAvailable {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StopDBCluster(ctx, &docdb.StopDBClusterInput{DBClusterIdentifier: aws.String(parsed.LocalID)}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: schedule.ActionStop, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("stopped documentdb cluster %s (was %s)", parsed.LocalID, availability))
		return result

	case schedule.ActionStart:
		if availability == availabilityAvailable || availability == availabilityStarting {
			return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		}
		if _, err := client.StartDBCluster(ctx, &docdb.StartDBClusterInput{DBClusterIdentifier: aws.String(parsed.LocalID)}); err != nil {
			mutErr := &schedule.ResourceMutateFailedError{CanonicalID: ref.CanonicalID, Action: action, Cause: err}
			result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: action, Outcome: schedule.OutcomeFailed, ErrorText: mutErr.Error()}
			driver.EmitResult(ctx, d.emitter, meta, result, mutErr.Error())
			return result
		}
		result := schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: schedule.ActionStart, Outcome: schedule.OutcomeSuccess, PriorState: prior}
		driver.EmitResult(ctx, d.emitter, meta, result, fmt.Sprintf("started documentdb cluster %s", parsed.LocalID))
		return result
	}

	return schedule.ResourceActionResult{CanonicalID: ref.CanonicalID, LocalID: parsed.LocalID, Kind: schedule.KindDocumentDatabase, Action: schedule.ActionSkip, Outcome: schedule.OutcomeSuccess, PriorState: prior}
}

// NewDocDBClientFactory returns a ClientFactory for wiring in cmd/hiberctl.
func NewDocDBClientFactory(cfg aws.Config) ClientFactory {
	return func(creds schedule.SessionCredentials) DocDBAPI {
		return docdb.NewFromConfig(driver.RegionalConfig(cfg, creds))
	}
}
