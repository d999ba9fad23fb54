package ec2source

import (
	"context"

	"tenant-usage-agent/internal/usage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	bytesPerGiB = 1024 * 1024 * 1024
	// DescribeInstanceTypes accepts at most this many names per call.
	instanceTypeBatch = 100
)

// InstanceFetcher lists tagged EC2 instances as compute records.
type InstanceFetcher struct {
	client    EC2API
	tenantTag string
}

func NewInstanceFetcher(client EC2API, tenantTag string) *InstanceFetcher {
	return &InstanceFetcher{client: client, tenantTag: tenantTag}
}

// Fetch returns the instances active within the query window. Sizes come
// from the instance type catalog; local_gb is instance store only since EBS
// root disks are billed as volumes.
func (f *InstanceFetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	var instances []types.Instance
	p := ec2.NewDescribeInstancesPaginator(f.client, &ec2.DescribeInstancesInput{
		Filters: tagFilters(f.tenantTag, q),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apiError("describe instances", err)
		}
		for _, r := range page.Reservations {
			instances = append(instances, r.Instances...)
		}
	}

	shapes, err := f.instanceTypes(ctx, instances)
	if err != nil {
		return nil, err
	}

	out := make([]usage.ResourceRecord, 0, len(instances))
	for _, inst := range instances {
		rec, err := f.record(inst, shapes[inst.InstanceType])
		if err != nil {
			return nil, err
		}
		if rec.ActiveWithin(q.Start, q.Stop) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *InstanceFetcher) record(inst types.Instance, shape map[string]float64) (usage.ResourceRecord, error) {
	id := aws.ToString(inst.InstanceId)
	rec := usage.ResourceRecord{
		TenantID:   tagValue(inst.Tags, f.tenantTag),
		ID:         id,
		Name:       tagValue(inst.Tags, "Name"),
		Sizes:      map[string]float64{},
		Attributes: map[string]string{"flavor": string(inst.InstanceType)},
	}
	for k, v := range shape {
		rec.Sizes[k] = v
	}
	if inst.LaunchTime != nil {
		rec.CreatedAt = inst.LaunchTime.UTC()
	}
	if inst.Placement != nil {
		rec.Attributes["availabilityZone"] = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.State != nil {
		rec.Status = string(inst.State.Name)
		if inst.State.Name == types.InstanceStateNameTerminated {
			end, ok, err := terminatedAt(id, aws.ToString(inst.StateTransitionReason))
			if err != nil {
				return usage.ResourceRecord{}, err
			}
			if ok {
				rec.DeletedAt = &end
			}
		}
	}
	return rec, nil
}

func (f *InstanceFetcher) instanceTypes(ctx context.Context, instances []types.Instance) (map[types.InstanceType]map[string]float64, error) {
	seen := map[types.InstanceType]struct{}{}
	var names []types.InstanceType
	for _, inst := range instances {
		if _, ok := seen[inst.InstanceType]; ok || inst.InstanceType == "" {
			continue
		}
		seen[inst.InstanceType] = struct{}{}
		names = append(names, inst.InstanceType)
	}

	shapes := make(map[types.InstanceType]map[string]float64, len(names))
	for len(names) > 0 {
		n := min(len(names), instanceTypeBatch)
		batch := names[:n]
		names = names[n:]

		p := ec2.NewDescribeInstanceTypesPaginator(f.client, &ec2.DescribeInstanceTypesInput{InstanceTypes: batch})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, apiError("describe instance types", err)
			}
			for _, info := range page.InstanceTypes {
				shape := map[string]float64{}
				if info.VCpuInfo != nil {
					shape[usage.SizeVCPUs] = float64(aws.ToInt32(info.VCpuInfo.DefaultVCpus))
				}
				if info.MemoryInfo != nil {
					shape[usage.SizeMemoryMB] = float64(aws.ToInt64(info.MemoryInfo.SizeInMiB))
				}
				if info.InstanceStorageInfo != nil {
					shape[usage.SizeLocalGB] = float64(aws.ToInt64(info.InstanceStorageInfo.TotalSizeInGB))
				}
				shapes[info.InstanceType] = shape
			}
		}
	}
	return shapes, nil
}

// VolumeFetcher lists tagged EBS volumes as volume records.
type VolumeFetcher struct {
	client    EC2API
	tenantTag string
}

func NewVolumeFetcher(client EC2API, tenantTag string) *VolumeFetcher {
	return &VolumeFetcher{client: client, tenantTag: tenantTag}
}

// Fetch returns the volumes active within the query window.
func (f *VolumeFetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	var out []usage.ResourceRecord
	p := ec2.NewDescribeVolumesPaginator(f.client, &ec2.DescribeVolumesInput{
		Filters: tagFilters(f.tenantTag, q),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apiError("describe volumes", err)
		}
		for _, v := range page.Volumes {
			rec := f.record(v)
			if rec.ActiveWithin(q.Start, q.Stop) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (f *VolumeFetcher) record(v types.Volume) usage.ResourceRecord {
	attach := "detached"
	if len(v.Attachments) > 0 {
		attach = "attached"
	}
	rec := usage.ResourceRecord{
		TenantID: tagValue(v.Tags, f.tenantTag),
		ID:       aws.ToString(v.VolumeId),
		Name:     tagValue(v.Tags, "Name"),
		Status:   string(v.State),
		Sizes:    map[string]float64{usage.SizeGB: float64(aws.ToInt32(v.Size))},
		Attributes: map[string]string{
			"attach_status":    attach,
			"volumeType":       string(v.VolumeType),
			"availabilityZone": aws.ToString(v.AvailabilityZone),
		},
	}
	if v.CreateTime != nil {
		rec.CreatedAt = v.CreateTime.UTC()
	}
	return rec
}

// ImageFetcher lists tagged AMIs as image records.
type ImageFetcher struct {
	client    EC2API
	tenantTag string
	owners    []string
}

func NewImageFetcher(client EC2API, tenantTag string, owners []string) *ImageFetcher {
	return &ImageFetcher{client: client, tenantTag: tenantTag, owners: append([]string(nil), owners...)}
}

// Fetch returns the images active within the query window. The image size
// is the sum of its EBS snapshot sizes.
func (f *ImageFetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	var out []usage.ResourceRecord
	p := ec2.NewDescribeImagesPaginator(f.client, &ec2.DescribeImagesInput{
		Owners:  f.owners,
		Filters: tagFilters(f.tenantTag, q),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apiError("describe images", err)
		}
		for _, img := range page.Images {
			rec, err := f.record(img)
			if err != nil {
				return nil, err
			}
			if rec.ActiveWithin(q.Start, q.Stop) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (f *ImageFetcher) record(img types.Image) (usage.ResourceRecord, error) {
	id := aws.ToString(img.ImageId)
	created, err := usage.ParseRecordTime(id, "creationDate", aws.ToString(img.CreationDate))
	if err != nil {
		return usage.ResourceRecord{}, err
	}

	var gib int64
	for _, m := range img.BlockDeviceMappings {
		if m.Ebs != nil {
			gib += int64(aws.ToInt32(m.Ebs.VolumeSize))
		}
	}
	return usage.ResourceRecord{
		TenantID:  tagValue(img.Tags, f.tenantTag),
		ID:        id,
		Name:      aws.ToString(img.Name),
		Status:    string(img.State),
		CreatedAt: created,
		Sizes:     map[string]float64{usage.SizeBytes: float64(gib * bytesPerGiB)},
		Attributes: map[string]string{
			"owner":        aws.ToString(img.OwnerId),
			"architecture": string(img.Architecture),
		},
	}, nil
}
