package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/service"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/telemetry"
)

// app is everything a command needs to execute agents.
type app struct {
	configs capability.ConfigStore
	store   checkpoint.Store
	svc     *service.Service
	// registry is nil when Prometheus metrics are disabled.
	registry *prometheus.Registry
}

func (c *cli) openConfigs() (*capability.FileConfigStore, error) {
	path := c.v.GetString("agents")
	if path == "" {
		return nil, errors.New("no agent configuration file (--agents)")
	}
	return capability.NewFileConfigStore(path)
}

func (c *cli) openStore(ctx context.Context) (checkpoint.Store, error) {
	store, err := checkpoint.Open(ctx, c.v.GetString("checkpoint.driver"), c.v.GetString("checkpoint.dsn"))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return store, nil
}

func (c *cli) newApp(ctx context.Context) (*app, error) {
	files, err := c.openConfigs()
	if err != nil {
		return nil, err
	}
	url := c.v.GetString("gateway.url")
	if url == "" {
		return nil, errors.New("no capability gateway configured (--gateway-url)")
	}
	var remoteOpts []capability.RemoteOption
	if token := c.v.GetString("gateway.token"); token != "" {
		remoteOpts = append(remoteOpts, capability.WithToken(token))
	}
	remote, err := capability.NewRemote(url, append(remoteOpts, capability.WithRemoteLogger(c.logger))...)
	if err != nil {
		return nil, err
	}

	store, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	rt := &app{
		configs: capability.NewCachedConfigStore(files, c.v.GetDuration("config.cache_ttl")),
		store:   store,
	}
	sinks := telemetry.Multi{telemetry.LogSink{Logger: c.logger}}
	if c.v.GetBool("metrics.prometheus") {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sinks = append(sinks, telemetry.NewPrometheusSink(rt.registry, "agentgraph"))
	}

	rt.svc, err = service.New(rt.configs, capability.Set{LLM: remote, Retriever: remote, Context: remote},
		service.WithCheckpointStore(store),
		service.WithTelemetry(sinks),
		service.WithLogger(c.logger),
		service.WithRunOptions(
			agentgraph.WithMetrics(c.v.GetBool("metrics.otel")),
			agentgraph.WithTracing(c.v.GetBool("tracing.enabled")),
		),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return rt, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
