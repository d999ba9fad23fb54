package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client bundles the typed clientset used by the cluster backend.
type Client struct {
	Kubernetes kubernetes.Interface
}

// NewClient builds a clientset from kubeconfigPath, or from the in-cluster
// service account when the path is empty.
func NewClient(kubeconfigPath string) (*Client, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if kubeconfigPath == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load kube config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}
	return &Client{Kubernetes: clientset}, nil
}
