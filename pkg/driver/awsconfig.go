package driver

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// RegionalConfig derives an aws.Config scoped to creds' region and backed by
// its (already-broker-cached) static session credentials, for use by each
// driver's per-call client factory.
func RegionalConfig(base aws.Config, creds schedule.SessionCredentials) aws.Config {
	regional := base.Copy()
	regional.Region = creds.Region
	regional.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     creds.AccessID,
			SecretAccessKey: creds.Secret,
			SessionToken:    creds.SessionToken,
			Expires:         creds.Expiry,
			CanExpire:       true,
		}, nil
	})
	return regional
}
