package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tenant-usage-agent/internal/collector"
	"tenant-usage-agent/internal/config"
	"tenant-usage-agent/internal/ec2source"
	"tenant-usage-agent/internal/inventory"
	"tenant-usage-agent/internal/kube"
	"tenant-usage-agent/internal/usage"
)

// Fetchers holds one fetcher per resource kind. A nil entry means the
// backend cannot serve that kind.
type Fetchers struct {
	Compute collector.Fetcher
	Image   collector.Fetcher
	Volume  collector.Fetcher
}

// Open connects the configured backend. For the kube backend the informer
// caches are started and synced under ctx.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Fetchers, error) {
	switch cfg.Backend {
	case config.BackendAWS:
		awsCfg, err := ec2source.NewConfig(ctx, cfg.AWS.Region, cfg.AWS.Profile)
		if err != nil {
			return Fetchers{}, err
		}
		client := ec2source.NewClient(awsCfg)
		logger.Info("using aws backend",
			slog.String("region", cfg.AWS.Region),
			slog.String("tenantTag", cfg.AWS.TenantTag),
		)
		return Fetchers{
			Compute: ec2source.NewInstanceFetcher(client, cfg.AWS.TenantTag),
			Image:   ec2source.NewImageFetcher(client, cfg.AWS.TenantTag, cfg.AWS.ImageOwners),
			Volume:  ec2source.NewVolumeFetcher(client, cfg.AWS.TenantTag),
		}, nil

	case config.BackendKube:
		client, err := kube.NewClient(cfg.Kube.KubeconfigPath)
		if err != nil {
			return Fetchers{}, err
		}
		cache := kube.NewClusterCache(client.Kubernetes, time.Duration(cfg.Kube.ResyncSeconds)*time.Second)
		if err := cache.Start(ctx); err != nil {
			return Fetchers{}, fmt.Errorf("start informers: %w", err)
		}
		logger.Info("using kube backend")
		return Fetchers{
			Compute: kube.NewPodFetcher(cache),
			Volume:  kube.NewClaimFetcher(cache),
		}, nil

	case config.BackendInventory:
		logger.Info("using inventory backend", slog.String("path", cfg.Inventory.Path))
		return Fetchers{
			Compute: inventory.NewFetcher(cfg.Inventory.Path, "compute"),
			Image:   inventory.NewFetcher(cfg.Inventory.Path, "image"),
			Volume:  inventory.NewFetcher(cfg.Inventory.Path, "volume"),
		}, nil
	}
	return Fetchers{}, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Sources pairs the fetchers with the configured toggles and prefixes, in
// compute, image, volume order. Kinds the backend cannot serve are left out.
func Sources(cfg config.Config, f Fetchers) []collector.Source {
	entries := []struct {
		name    string
		sc      config.SourceConfig
		profile usage.Profile
		fetcher collector.Fetcher
	}{
		{"compute", cfg.Sources.Compute, usage.ComputeProfile, f.Compute},
		{"image", cfg.Sources.Image, usage.ImageProfile, f.Image},
		{"volume", cfg.Sources.Volume, usage.VolumeProfile, f.Volume},
	}

	var out []collector.Source
	for _, e := range entries {
		if e.fetcher == nil {
			continue
		}
		out = append(out, collector.Source{
			Name:    e.name,
			Prefix:  e.sc.Prefix,
			Profile: e.profile,
			Fetcher: e.fetcher,
			Enabled: e.sc.IsEnabled(),
		})
	}
	return out
}
