package ec2source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tenant-usage-agent/internal/usage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowStop  = windowStart.Add(10 * time.Hour)
)

type fakeEC2 struct {
	instances     []types.Instance
	instanceTypes []types.InstanceTypeInfo
	volumes       []types.Volume
	images        []types.Image
	err           error

	instanceFilters []types.Filter
	typeRequests    [][]types.InstanceType
	imageOwners     []string
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.instanceFilters = in.Filters
	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: f.instances}}}, nil
}

func (f *fakeEC2) DescribeInstanceTypes(_ context.Context, in *ec2.DescribeInstanceTypesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error) {
	f.typeRequests = append(f.typeRequests, in.InstanceTypes)
	return &ec2.DescribeInstanceTypesOutput{InstanceTypes: f.instanceTypes}, nil
}

func (f *fakeEC2) DescribeVolumes(_ context.Context, _ *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeVolumesOutput{Volumes: f.volumes}, nil
}

func (f *fakeEC2) DescribeImages(_ context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.imageOwners = in.Owners
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func tags(tenant, name string) []types.Tag {
	return []types.Tag{
		{Key: aws.String("tenant"), Value: aws.String(tenant)},
		{Key: aws.String("Name"), Value: aws.String(name)},
	}
}

func instance(id, tenant string, launched time.Time, state types.InstanceStateName, reason string) types.Instance {
	return types.Instance{
		InstanceId:            aws.String(id),
		InstanceType:          types.InstanceTypeM5Large,
		LaunchTime:            aws.Time(launched),
		State:                 &types.InstanceState{Name: state},
		StateTransitionReason: aws.String(reason),
		Placement:             &types.Placement{AvailabilityZone: aws.String("us-east-1a")},
		Tags:                  tags(tenant, "vm-"+id),
	}
}

func TestInstanceFetcher(t *testing.T) {
	fake := &fakeEC2{
		instances: []types.Instance{
			instance("i-1", "alpha", windowStart.Add(-time.Hour), types.InstanceStateNameRunning, ""),
			instance("i-2", "alpha", windowStart.Add(time.Hour), types.InstanceStateNameTerminated, "User initiated (2024-01-01 03:00:00 GMT)"),
			instance("i-3", "beta", windowStart.Add(-48*time.Hour), types.InstanceStateNameTerminated, "User initiated (2023-12-30 00:00:00 GMT)"),
		},
		instanceTypes: []types.InstanceTypeInfo{{
			InstanceType: types.InstanceTypeM5Large,
			VCpuInfo:     &types.VCpuInfo{DefaultVCpus: aws.Int32(2)},
			MemoryInfo:   &types.MemoryInfo{SizeInMiB: aws.Int64(8192)},
		}},
	}

	q := usage.Query{TenantID: "", Metadata: map[string]string{"team": "core"}, Start: windowStart, Stop: windowStop}
	records, err := NewInstanceFetcher(fake, "tenant").Fetch(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "i-1", records[0].ID)
	assert.Equal(t, "alpha", records[0].TenantID)
	assert.Equal(t, "vm-i-1", records[0].Name)
	assert.Equal(t, "running", records[0].Status)
	assert.Equal(t, "m5.large", records[0].Attributes["flavor"])
	assert.InDelta(t, 2, records[0].Sizes[usage.SizeVCPUs], 1e-9)
	assert.InDelta(t, 8192, records[0].Sizes[usage.SizeMemoryMB], 1e-9)
	assert.Nil(t, records[0].DeletedAt)

	require.NotNil(t, records[1].DeletedAt)
	assert.Equal(t, windowStart.Add(3*time.Hour), *records[1].DeletedAt)

	require.Len(t, fake.typeRequests, 1)
	assert.Equal(t, []types.InstanceType{types.InstanceTypeM5Large}, fake.typeRequests[0])

	var names []string
	for _, f := range fake.instanceFilters {
		names = append(names, aws.ToString(f.Name))
	}
	assert.ElementsMatch(t, []string{"tag-key", "tag:team"}, names)
}

func TestInstanceFetcherTenantFilter(t *testing.T) {
	fake := &fakeEC2{}
	_, err := NewInstanceFetcher(fake, "project").Fetch(context.Background(), usage.Query{TenantID: "alpha", Start: windowStart, Stop: windowStop})
	require.NoError(t, err)
	require.Len(t, fake.instanceFilters, 1)
	assert.Equal(t, "tag:project", aws.ToString(fake.instanceFilters[0].Name))
	assert.Equal(t, []string{"alpha"}, fake.instanceFilters[0].Values)
	assert.Empty(t, fake.typeRequests)
}

func TestInstanceFetcherMalformedTransitionDate(t *testing.T) {
	fake := &fakeEC2{instances: []types.Instance{
		instance("i-9", "alpha", windowStart, types.InstanceStateNameTerminated, "User initiated (yesterday)"),
	}}
	_, err := NewInstanceFetcher(fake, "tenant").Fetch(context.Background(), usage.Query{Start: windowStart, Stop: windowStop})
	require.Error(t, err)
	assert.ErrorIs(t, err, usage.ErrDataFormat)
}

func TestVolumeFetcher(t *testing.T) {
	fake := &fakeEC2{volumes: []types.Volume{
		{
			VolumeId:    aws.String("vol-1"),
			Size:        aws.Int32(10),
			CreateTime:  aws.Time(windowStart.Add(-time.Hour)),
			State:       types.VolumeStateInUse,
			VolumeType:  types.VolumeTypeGp3,
			Attachments: []types.VolumeAttachment{{InstanceId: aws.String("i-1")}},
			Tags:        tags("alpha", "data"),
		},
		{
			VolumeId:   aws.String("vol-2"),
			Size:       aws.Int32(20),
			CreateTime: aws.Time(windowStop.Add(time.Hour)),
			State:      types.VolumeStateAvailable,
			Tags:       tags("alpha", "later"),
		},
	}}

	records, err := NewVolumeFetcher(fake, "tenant").Fetch(context.Background(), usage.Query{Start: windowStart, Stop: windowStop})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "vol-1", records[0].ID)
	assert.InDelta(t, 10, records[0].Sizes[usage.SizeGB], 1e-9)
	assert.Equal(t, "attached", records[0].Attributes["attach_status"])
	assert.Equal(t, "in-use", records[0].Status)
}

func TestImageFetcher(t *testing.T) {
	fake := &fakeEC2{images: []types.Image{
		{
			ImageId:      aws.String("ami-1"),
			Name:         aws.String("base"),
			CreationDate: aws.String("2024-01-01T01:00:00.000Z"),
			State:        types.ImageStateAvailable,
			BlockDeviceMappings: []types.BlockDeviceMapping{
				{Ebs: &types.EbsBlockDevice{VolumeSize: aws.Int32(8)}},
				{Ebs: &types.EbsBlockDevice{VolumeSize: aws.Int32(2)}},
				{VirtualName: aws.String("ephemeral0")},
			},
			Tags: tags("alpha", "base"),
		},
	}}

	records, err := NewImageFetcher(fake, "tenant", []string{"self"}).Fetch(context.Background(), usage.Query{Start: windowStart, Stop: windowStop})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"self"}, fake.imageOwners)
	assert.Equal(t, windowStart.Add(time.Hour), records[0].CreatedAt)
	assert.InDelta(t, 10*bytesPerGiB, records[0].Sizes[usage.SizeBytes], 1)

	summary, err := usage.NewAggregator(usage.ImageProfile).Aggregate(records, usage.Window{Start: windowStart, Stop: windowStop})
	require.NoError(t, err)
	alpha, ok := summary.Tenant("alpha")
	require.True(t, ok)
	assert.InDelta(t, 90, alpha.Totals["total_gb_hours"], 1e-9)
}

func TestImageFetcherMalformedCreationDate(t *testing.T) {
	fake := &fakeEC2{images: []types.Image{{
		ImageId:      aws.String("ami-2"),
		CreationDate: aws.String("Jan 1 2024"),
		Tags:         tags("alpha", "bad"),
	}}}
	_, err := NewImageFetcher(fake, "tenant", nil).Fetch(context.Background(), usage.Query{Start: windowStart, Stop: windowStop})
	assert.ErrorIs(t, err, usage.ErrDataFormat)
}

func TestAPIErrorsCarryCode(t *testing.T) {
	fake := &fakeEC2{err: &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "denied"}}
	_, err := NewVolumeFetcher(fake, "tenant").Fetch(context.Background(), usage.Query{Start: windowStart, Stop: windowStop})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "UnauthorizedOperation"))

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}
