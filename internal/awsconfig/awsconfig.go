// Package awsconfig builds the shared aws.Config used by the SQS queue
// client and the DynamoDB hot store, including optional assume-role
// credential refresh.
package awsconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// assumeRoleDuration is the lifetime of credentials obtained by role
// assumption; the SDK refreshes them automatically before they expire.
const assumeRoleDuration = time.Hour

// Load builds an aws.Config for region. When assumeRoleARN is non-empty,
// credentials come from assuming that role (refreshed automatically);
// otherwise the standard credential chain applies.
func Load(ctx context.Context, region, assumeRoleARN string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if assumeRoleARN == "" {
		return cfg, nil
	}

	stsClient := sts.NewFromConfig(cfg)
	provider := stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.Duration = assumeRoleDuration
	})
	cfg.Credentials = aws.NewCredentialsCache(provider)
	return cfg, nil
}
