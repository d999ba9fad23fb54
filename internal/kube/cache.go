package kube

import (
	"context"
	"fmt"
	"time"

	"k8s.io/client-go/informers"
	coreinformers "k8s.io/client-go/informers/core/v1"
	"k8s.io/client-go/kubernetes"
	corev1listers "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
)

// ClusterCache wraps shared informers for the tenant-owned resources we bill.
type ClusterCache struct {
	factory     informers.SharedInformerFactory
	podInformer coreinformers.PodInformer
	pvcInformer coreinformers.PersistentVolumeClaimInformer
	synced      []cache.InformerSynced
}

// NewClusterCache builds informers for pods and persistent volume claims.
func NewClusterCache(client kubernetes.Interface, resyncPeriod time.Duration) *ClusterCache {
	factory := informers.NewSharedInformerFactory(client, resyncPeriod)
	podInformer := factory.Core().V1().Pods()
	pvcInformer := factory.Core().V1().PersistentVolumeClaims()

	return &ClusterCache{
		factory:     factory,
		podInformer: podInformer,
		pvcInformer: pvcInformer,
		synced: []cache.InformerSynced{
			podInformer.Informer().HasSynced,
			pvcInformer.Informer().HasSynced,
		},
	}
}

// Start launches the informers and waits for their caches to sync.
func (c *ClusterCache) Start(ctx context.Context) error {
	stopCh := ctx.Done()
	c.factory.Start(stopCh)
	if !cache.WaitForCacheSync(stopCh, c.synced...) {
		return fmt.Errorf("timed out waiting for informer caches to sync")
	}
	return nil
}

// PodLister exposes the cached pod lister.
func (c *ClusterCache) PodLister() corev1listers.PodLister {
	return c.podInformer.Lister()
}

// ClaimLister exposes the cached persistent volume claim lister.
func (c *ClusterCache) ClaimLister() corev1listers.PersistentVolumeClaimLister {
	return c.pvcInformer.Lister()
}
