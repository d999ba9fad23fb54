package kube

import (
	"context"
	"fmt"
	"time"

	"tenant-usage-agent/internal/usage"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/labels"
	corev1listers "k8s.io/client-go/listers/core/v1"
)

const (
	bytesPerMiB = 1024 * 1024
	bytesPerGiB = 1024 * 1024 * 1024
)

// PodFetcher lists pods as compute records. The namespace is the tenant and
// query metadata is matched against pod labels.
type PodFetcher struct {
	pods corev1listers.PodLister
}

// NewPodFetcher returns a compute fetcher backed by the cache.
func NewPodFetcher(c *ClusterCache) *PodFetcher {
	return &PodFetcher{pods: c.PodLister()}
}

// Fetch returns the pods active within the query window.
func (f *PodFetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := labels.SelectorFromSet(labels.Set(q.Metadata))

	var (
		pods []*corev1.Pod
		err  error
	)
	if q.TenantID != "" {
		pods, err = f.pods.Pods(q.TenantID).List(selector)
	} else {
		pods, err = f.pods.List(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	out := make([]usage.ResourceRecord, 0, len(pods))
	for _, pod := range pods {
		rec := podRecord(pod)
		if rec.ActiveWithin(q.Start, q.Stop) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func podRecord(pod *corev1.Pod) usage.ResourceRecord {
	var cpu, memory, ephemeral resource.Quantity
	for _, c := range pod.Spec.Containers {
		addRequest(&cpu, c.Resources.Requests, corev1.ResourceCPU)
		addRequest(&memory, c.Resources.Requests, corev1.ResourceMemory)
		addRequest(&ephemeral, c.Resources.Requests, corev1.ResourceEphemeralStorage)
	}

	rec := usage.ResourceRecord{
		TenantID: pod.Namespace,
		ID:       string(pod.UID),
		Name:     pod.Name,
		Status:   string(pod.Status.Phase),
		Sizes: map[string]float64{
			usage.SizeVCPUs:    float64(cpu.MilliValue()) / 1000,
			usage.SizeMemoryMB: float64(memory.Value()) / bytesPerMiB,
			usage.SizeLocalGB:  float64(ephemeral.Value()) / bytesPerGiB,
		},
		Attributes: map[string]string{
			"node":     pod.Spec.NodeName,
			"qosClass": string(pod.Status.QOSClass),
		},
	}
	// Pods that never started are not billed.
	if pod.Status.StartTime != nil {
		rec.CreatedAt = pod.Status.StartTime.UTC()
	}
	rec.DeletedAt = podEnd(pod)
	return rec
}

func addRequest(total *resource.Quantity, requests corev1.ResourceList, name corev1.ResourceName) {
	if q, ok := requests[name]; ok {
		total.Add(q)
	}
}

// podEnd is the last container finish time of a completed pod, or the
// deletion timestamp of a terminating one.
func podEnd(pod *corev1.Pod) *time.Time {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		var last time.Time
		for _, cs := range pod.Status.ContainerStatuses {
			if term := cs.State.Terminated; term != nil && term.FinishedAt.Time.After(last) {
				last = term.FinishedAt.Time
			}
		}
		if !last.IsZero() {
			end := last.UTC()
			return &end
		}
	}
	if pod.DeletionTimestamp != nil {
		end := pod.DeletionTimestamp.UTC()
		return &end
	}
	return nil
}

// ClaimFetcher lists persistent volume claims as volume records.
type ClaimFetcher struct {
	claims corev1listers.PersistentVolumeClaimLister
}

// NewClaimFetcher returns a volume fetcher backed by the cache.
func NewClaimFetcher(c *ClusterCache) *ClaimFetcher {
	return &ClaimFetcher{claims: c.ClaimLister()}
}

// Fetch returns the claims active within the query window.
func (f *ClaimFetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := labels.SelectorFromSet(labels.Set(q.Metadata))

	var (
		claims []*corev1.PersistentVolumeClaim
		err    error
	)
	if q.TenantID != "" {
		claims, err = f.claims.PersistentVolumeClaims(q.TenantID).List(selector)
	} else {
		claims, err = f.claims.List(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("list persistent volume claims: %w", err)
	}

	out := make([]usage.ResourceRecord, 0, len(claims))
	for _, pvc := range claims {
		rec := claimRecord(pvc)
		if rec.ActiveWithin(q.Start, q.Stop) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func claimRecord(pvc *corev1.PersistentVolumeClaim) usage.ResourceRecord {
	size, ok := pvc.Status.Capacity[corev1.ResourceStorage]
	if !ok {
		size = pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	}

	attachStatus := "detached"
	if pvc.Status.Phase == corev1.ClaimBound {
		attachStatus = "attached"
	}
	storageClass := ""
	if pvc.Spec.StorageClassName != nil {
		storageClass = *pvc.Spec.StorageClassName
	}

	rec := usage.ResourceRecord{
		TenantID:  pvc.Namespace,
		ID:        string(pvc.UID),
		Name:      pvc.Name,
		Status:    string(pvc.Status.Phase),
		CreatedAt: pvc.CreationTimestamp.UTC(),
		Sizes: map[string]float64{
			usage.SizeGB: float64(size.Value()) / bytesPerGiB,
		},
		Attributes: map[string]string{
			"attach_status": attachStatus,
			"storageClass":  storageClass,
			"volumeName":    pvc.Spec.VolumeName,
		},
	}
	if pvc.DeletionTimestamp != nil {
		end := pvc.DeletionTimestamp.UTC()
		rec.DeletedAt = &end
	}
	return rec
}
