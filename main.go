// ABOUTME: Entry point for the watcher infrastructure optimization service
// ABOUTME: Wires store, clients, collectors, engine, applier, and HTTP API

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/openstack/watcher-sub000/applier"
	"github.com/openstack/watcher-sub000/cache"
	"github.com/openstack/watcher-sub000/clients"
	"github.com/openstack/watcher-sub000/collector"
	"github.com/openstack/watcher-sub000/config"
	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/engine"
	"github.com/openstack/watcher-sub000/handlers"
	"github.com/openstack/watcher-sub000/logger"
	"github.com/openstack/watcher-sub000/middleware"
	"github.com/openstack/watcher-sub000/planner"
	"github.com/openstack/watcher-sub000/pool"
	"github.com/openstack/watcher-sub000/store"
)

func main() {
	// Initialize structured logging
	logger.Init("watcher")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting watcher control plane")

	metricMap, err := config.LoadMetricMap(cfg.MetricMapPath)
	if err != nil {
		slog.Error("Failed to load metric map", "path", cfg.MetricMapPath, "error", err)
		os.Exit(1)
	}

	// Initialize query cache
	c := cache.New(cfg.QueryCacheTTL)
	slog.Info("Query cache initialized", "ttl", cfg.QueryCacheTTL)

	// Worker pools
	general := pool.New("general", cfg.MaxGeneralWorkers)
	launcher := pool.New("audit-launcher", cfg.AuditWorkers)
	applierPool := pool.New("applier", cfg.ApplierWorkers)

	// Persistence
	var st store.Store
	switch cfg.Store {
	case "badger":
		b, err := store.OpenBadger(cfg.StorePath)
		if err != nil {
			slog.Error("Failed to open store", "path", cfg.StorePath, "error", err)
			os.Exit(1)
		}
		st = b
	default:
		st = store.NewMemory()
	}
	defer st.Close()
	slog.Info("Store initialized", "backend", cfg.Store)

	// Infrastructure clients. Without vSphere credentials the service runs
	// against the in-memory fakes, which is only useful for demos and tests.
	var (
		compute   clients.ComputeClient
		placement clients.PlacementClient
	)
	if cfg.VSphereConfigured() {
		vc := clients.NewVSphereClient(clients.VSphereCredentials{
			Host:       cfg.VSphereHost,
			Username:   cfg.VSphereUsername,
			Password:   cfg.VSpherePassword,
			Datacenter: cfg.VSphereDatacenter,
			Insecure:   cfg.VSphereInsecure,
		})
		if err := vc.Connect(context.Background()); err != nil {
			slog.Error("Failed to connect to vSphere", "host", cfg.VSphereHost, "error", err)
			os.Exit(1)
		}
		defer vc.Disconnect(context.Background())
		slog.Info("vSphere connected", "host", cfg.VSphereHost, "datacenter", cfg.VSphereDatacenter)
		compute = vc
	} else {
		slog.Warn("vSphere not configured, using fake infrastructure clients")
		compute = clients.NewFakeComputeClient()
		placement = clients.NewFakePlacementClient()
	}
	storage := clients.NewFakeStorageClient()

	// Datasources
	manager, err := datasource.NewManager(cfg, metricMap, c)
	if err != nil {
		slog.Error("Failed to configure datasources", "error", err)
		os.Exit(1)
	}
	slog.Info("Datasources configured", "backends", cfg.Datasources)

	// Collectors and notification fold
	computeCollector := collector.NewComputeCollector(compute, placement, general, cfg.InstanceListLimit, c)
	storageCollector := collector.NewStorageCollector(storage, general)
	dispatcher := collector.NewDispatcher(computeCollector, storageCollector, compute, storage)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "watcher-unknown-host"
	}

	// Applier
	a := applier.New(applier.Options{
		Store:             st,
		Compute:           compute,
		Storage:           storage,
		Workers:           applierPool,
		Hostname:          hostname,
		ActionTimeout:     cfg.ActionTimeout,
		ExecutionRule:     cfg.ActionExecutionRule,
		MaxRetries:        cfg.ActionMaxRetries,
		RetryInterval:     cfg.ActionRetryInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	// Plans left ONGOING by a previous process that never came back are
	// failed here so their audits can run again.
	if err := a.FailStrandedPlans(3 * cfg.HeartbeatInterval); err != nil {
		slog.Error("Failed to recover stranded plans", "error", err)
	}

	// Decision engine
	eng := engine.New(engine.Options{
		Store:              st,
		Compute:            computeCollector,
		Storage:            storageCollector,
		Dispatcher:         dispatcher,
		Datasources:        manager,
		Planner:            planner.New(st),
		Applier:            a,
		Launcher:           launcher,
		Bus:                engine.NewBus(general),
		PlannerName:        cfg.Planner,
		ContinuousInterval: cfg.ContinuousAuditInterval,
	})
	eng.BindNotifications(cfg.NotificationTopics)
	eng.BindRPC(cfg.ConductorTopic)

	go func() {
		if err := eng.Run(context.Background()); err != nil {
			slog.Error("Continuous audit scheduler stopped", "error", err)
		}
	}()

	if cfg.PrintThreadPoolStats {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				general.LogStats()
				launcher.LogStats()
				applierPool.LogStats()
			}
		}()
	}

	// Register routes
	mux := http.NewServeMux()
	h := handlers.New(eng, st, general, launcher, applierPool)
	h.Register(mux, middleware.CORS, middleware.LogRequest, middleware.Recover)

	// Start server
	addr := ":" + cfg.Port
	slog.Info("Server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
