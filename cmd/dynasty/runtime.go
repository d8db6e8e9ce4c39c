package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dynastycore/internal/blob"
	"dynastycore/internal/config"
	"dynastycore/internal/core"
	"dynastycore/internal/infra/telemetry"
)

// runtime owns the service and every resource it was built from.
type runtime struct {
	svc     *core.Service
	store   core.PersistentStore
	tracing telemetry.Provider
	metrics http.Handler
}

func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := core.OpenPersistentStore(ctx, cfg.StorageConfig(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	media, err := blob.Open(ctx, blob.Config{
		Driver:        blob.Driver(cfg.Blob.Driver),
		MemoryBaseURL: cfg.Blob.MemoryBaseURL,
		S3: blob.S3Config{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          cfg.Blob.S3.Region,
			Endpoint:        cfg.Blob.S3.Endpoint,
			PathStyle:       cfg.Blob.S3.PathStyle,
			KeyPrefix:       cfg.Blob.S3.KeyPrefix,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open media store: %w", err)
	}
	tracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	opts := []core.ServiceOption{
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithRetryPolicy(cfg.RetryPolicy()),
		core.WithInvitationTTL(cfg.InvitationTTL),
		core.WithMediaResolver(blob.NewMediaResolver(media, cfg.Blob.URLExpiry)),
	}
	if tracing.Enabled() {
		opts = append(opts, core.WithTracer(core.NewOTelTracer(tracing)))
	}
	rt := &runtime{store: store, tracing: tracing}
	if cfg.Telemetry.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)))
		rt.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	rt.svc = core.NewService(store, opts...)
	logger.Debug("runtime ready",
		"storage", cfg.Storage.Driver,
		"blob", media.Driver(),
		"tracing", tracing.Enabled(),
		"metrics", cfg.Telemetry.Metrics,
	)
	return rt, nil
}

// Close flushes spans and closes the store.
func (r *runtime) Close(ctx context.Context) error {
	return errors.Join(r.tracing.Shutdown(ctx), r.store.Close())
}
