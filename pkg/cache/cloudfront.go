package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// CloudFrontInvalidator issues a CloudFront invalidation batch whenever the
// destination is updated. Errors are logged and swallowed: invalidation is
// a best-effort side effect, not part of the signing transaction (§7).
type CloudFrontInvalidator struct {
	client            *cloudfront.Client
	DistributionID    string
	InvalidationPaths []string // may contain {bucket_id}/{collection_id}
	Logger            *slog.Logger
}

// NewCloudFrontInvalidator builds an invalidator from the default AWS
// config chain. distributionID == "" disables invalidation entirely,
// matching updater.py's "if not distribution_id: return" early-out.
func NewCloudFrontInvalidator(ctx context.Context, distributionID string, invalidationPaths []string) (*CloudFrontInvalidator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: load aws config: %w", err)
	}
	if len(invalidationPaths) == 0 {
		invalidationPaths = []string{"/v1/*"}
	}
	return &CloudFrontInvalidator{
		client:            cloudfront.NewFromConfig(cfg),
		DistributionID:    distributionID,
		InvalidationPaths: invalidationPaths,
	}, nil
}

// Invalidate implements pkg/updater.CacheInvalidator.
func (c *CloudFrontInvalidator) Invalidate(ctx context.Context, bucket, collection string, timestamp int64) error {
	if c.DistributionID == "" {
		return nil
	}
	paths := formatPaths(c.InvalidationPaths, bucket, collection)
	callerRef := strconv.FormatInt(timestamp, 10) + "-" + uuid.NewString()

	_, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: &c.DistributionID,
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: &callerRef,
			Paths: &types.Paths{
				Quantity: awsInt32(len(paths)),
				Items:    paths,
			},
		},
	})
	if err != nil {
		logInvalidationFailure(ctx, c.Logger, "cloudfront", err)
		return nil
	}
	return nil
}

func awsInt32(n int) *int32 {
	v := int32(n)
	return &v
}
