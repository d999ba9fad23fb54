package ec2source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tenant-usage-agent/internal/usage"
	"tenant-usage-agent/internal/version"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// EC2API is the subset of the EC2 client the fetchers call.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

// NewConfig loads the shared AWS configuration for region and an optional
// named profile.
func NewConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithAppID(version.AppID()),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewClient returns an EC2 client for cfg.
func NewClient(cfg aws.Config) *ec2.Client {
	return ec2.NewFromConfig(cfg)
}

// tagFilters selects resources carrying the tenant tag, narrowed to one
// tenant and to the metadata tags of the query.
func tagFilters(tenantTag string, q usage.Query) []types.Filter {
	var filters []types.Filter
	if q.TenantID != "" {
		filters = append(filters, types.Filter{Name: aws.String("tag:" + tenantTag), Values: []string{q.TenantID}})
	} else {
		filters = append(filters, types.Filter{Name: aws.String("tag-key"), Values: []string{tenantTag}})
	}
	for k, v := range q.Metadata {
		filters = append(filters, types.Filter{Name: aws.String("tag:" + k), Values: []string{v}})
	}
	return filters
}

func tagValue(tags []types.Tag, key string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return aws.ToString(t.Value)
		}
	}
	return ""
}

var transitionReasonRegex = regexp.MustCompile(`\(([^)]+)\)`)

// terminatedAt reads the date EC2 embeds in a state transition reason such
// as "User initiated (2024-01-01 10:00:00 GMT)". ok is false when the reason
// carries no date.
func terminatedAt(instanceID, reason string) (t time.Time, ok bool, err error) {
	matches := transitionReasonRegex.FindStringSubmatch(reason)
	if len(matches) < 2 {
		return time.Time{}, false, nil
	}
	parsed, perr := time.Parse("2006-01-02 15:04:05 MST", strings.TrimSpace(matches[1]))
	if perr != nil {
		return time.Time{}, false, &usage.DataFormatError{ResourceID: instanceID, Field: "stateTransitionReason", Value: reason, Err: perr}
	}
	return parsed.UTC(), true, nil
}

func apiError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
