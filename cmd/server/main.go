// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Command server runs the RubinTV display service: S3 pollers, the
// WebSocket hub and the HTTP API under one supervisor tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lsst-ts/rubintv/internal/api"
	"github.com/lsst-ts/rubintv/internal/config"
	"github.com/lsst-ts/rubintv/internal/currentpoller"
	"github.com/lsst-ts/rubintv/internal/historical"
	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/query"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/supervisor"
	"github.com/lsst-ts/rubintv/internal/supervisor/services"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format(),
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("path_prefix", cfg.Server.PathPrefix).
		Str("locations_file", cfg.LocationsFile).
		Msg("starting rubintv")

	locations, err := models.LoadLocations(cfg.LocationsFile)
	if err != nil {
		return fmt.Errorf("loading location fixtures: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := buildStorageClients(ctx, cfg, locations)
	if err != nil {
		return err
	}

	// The hub's snapshot provider is wired after the facade exists; the
	// facade itself reads from components that broadcast through the hub.
	hub := websocket.NewHub(nil, websocket.NewFixtureValidator(locations))
	poller := currentpoller.New(locations, clients, hub, cfg.Poll.Interval)
	hist := historical.New(locations, clients, hub, cfg.Historical.CheckInterval)
	queries := query.New(locations, clients, poller, hist)
	hub.SetSnapshotProvider(queries)

	handler := api.NewHandler(queries, clients, hub)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg.Server, handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddDataService(hist)
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(poller)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("serving")
	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service missed shutdown timeout")
		}
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

// buildStorageClients creates one S3 client per location. A location whose
// client cannot be built is fatal: serving a site without its bucket would
// silently show no data.
func buildStorageClients(ctx context.Context, cfg *config.Config, locations []models.Location) (map[string]storage.Client, error) {
	clients := make(map[string]storage.Client, len(locations))
	for i := range locations {
		loc := &locations[i]
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:   loc.BucketName,
			Profile:  loc.ProfileName,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.EndpointURL,
		})
		if err != nil {
			return nil, fmt.Errorf("storage client for %s: %w", loc.Name, err)
		}
		clients[loc.Name] = client
	}
	return clients, nil
}
