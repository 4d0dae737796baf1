// Package creds implements the Credential Broker: per-account role
// assumption with a shared, single-flighted cache of short-lived session
// credentials.
package creds

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"golang.org/x/sync/singleflight"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// cacheMargin is subtracted from the credential's expiration so callers never
// receive a credential within 5 minutes of expiry (spec.md §4.2).
const cacheMargin = 5 * time.Minute

// maxCacheTTL is the broker's fixed cache ceiling (spec.md §4.2: "up
// to min(credential expiry, 55 minutes)").
const maxCacheTTL = 55 * time.Minute

// requestedLifetime is the STS AssumeRole session duration requested; it
// must be at least 1 hour per spec.md §4.2.
const requestedLifetime = time.Hour

// STSAssumeRoleAPI is the subset of the STS client the broker depends on.
type STSAssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

type cacheKey struct {
	accountID string
	region    string
}

// Broker assumes per-account roles and caches the resulting session
// credentials, keyed by (accountID, region), with single-flight coalescing
// of concurrent cache misses.
type Broker struct {
	client STSAssumeRoleAPI
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]schedule.SessionCredentials

	group singleflight.Group
	now   func() time.Time
}

// NewBroker constructs a Broker backed by the given STS client.
func NewBroker(client STSAssumeRoleAPI, logger *slog.Logger) *Broker {
	return &Broker{
		client: client,
		logger: logger,
		cache:  make(map[cacheKey]schedule.SessionCredentials),
		now:    time.Now,
	}
}

// Assume returns session credentials for (roleID, accountID, region),
// assuming the role via STS AssumeRole on cache miss. externalSecret is
// passed as the STS ExternalId when non-empty.
func (b *Broker) Assume(ctx context.Context, roleID, accountID, region, externalSecret string) (schedule.SessionCredentials, error) {
	key := cacheKey{accountID: accountID, region: region}

	if creds, ok := b.lookup(key); ok {
		return creds, nil
	}

	result, err, _ := b.group.Do(fmt.Sprintf("%s/%s", accountID, region), func() (any, error) {
		// Re-check: another caller may have populated the cache while we
		// waited to enter the singleflight group.
		if creds, ok := b.lookup(key); ok {
			return creds, nil
		}

		sessionName := fmt.Sprintf("hiberctl-%s-%s", accountID, region)
		input := &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleID),
			RoleSessionName: aws.String(sessionName),
			DurationSeconds: aws.Int32(int32(requestedLifetime.Seconds())),
		}
		if externalSecret != "" {
			input.ExternalId = aws.String(externalSecret)
		}

		out, err := b.client.AssumeRole(ctx, input)
		if err != nil {
			return nil, &schedule.CredentialAcquisitionFailedError{AccountID: accountID, Region: region, Cause: err}
		}

		creds := toSessionCredentials(out.Credentials, region)
		b.store(key, creds)
		return creds, nil
	})
	if err != nil {
		return schedule.SessionCredentials{}, err
	}

	return result.(schedule.SessionCredentials), nil
}

func (b *Broker) lookup(key cacheKey) (schedule.SessionCredentials, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	creds, ok := b.cache[key]
	if !ok {
		return schedule.SessionCredentials{}, false
	}
	if creds.Expired(b.now()) {
		return schedule.SessionCredentials{}, false
	}
	return creds, true
}

func (b *Broker) store(key cacheKey, creds schedule.SessionCredentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[key] = creds
}

func toSessionCredentials(c *types.Credentials, region string) schedule.SessionCredentials {
	cacheExpiry := c.Expiration.Add(-cacheMargin)
	ceiling := time.Now().Add(maxCacheTTL)
	if ceiling.Before(cacheExpiry) {
		cacheExpiry = ceiling
	}
	return schedule.SessionCredentials{
		AccessID:     aws.ToString(c.AccessKeyId),
		Secret:       aws.ToString(c.SecretAccessKey),
		SessionToken: aws.ToString(c.SessionToken),
		Expiry:       cacheExpiry,
		Region:       region,
	}
}
