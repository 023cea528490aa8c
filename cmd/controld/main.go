// Copyright 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// controld is the strata control-plane daemon: it reconciles partition
// placement, coordinates leadership transfers, drives tiered-storage
// uploads, and serves the admin API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/novatechflow/strata/internal/admin"
	"github.com/novatechflow/strata/pkg/archival"
	"github.com/novatechflow/strata/pkg/consensus"
	"github.com/novatechflow/strata/pkg/leadership"
	"github.com/novatechflow/strata/pkg/metadata"
	"github.com/novatechflow/strata/pkg/placement"
	"github.com/novatechflow/strata/pkg/topology"
)

const (
	defaultAdminAddr     = ":9644"
	defaultMinioBucket   = "strata"
	defaultMinioRegion   = "us-east-1"
	defaultMinioEndpoint = "http://127.0.0.1:9000"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	cache := metadata.NewCache()
	store, closeStore := buildStore(ctx, cache, logger)
	defer closeStore()

	assignments, err := store.LoadAssignments(ctx)
	if err != nil {
		logger.Error("load assignments failed", "error", err)
		os.Exit(1)
	}
	for ntp, assignment := range assignments {
		cache.PublishAssignment(ntp, assignment)
	}
	logger.Info("assignments restored", "partitions", len(assignments))

	shards := parseEnvInt("STRATA_SHARDS", runtime.NumCPU())
	if shards < 1 {
		shards = 1
	}
	topo := topology.NewIndex(shards)
	pool := topology.NewPool(shards)
	defer pool.Close()
	groups := consensus.NewRegistry()

	objects := buildObjectStore(ctx, logger)
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Error("object storage not reachable", "error", err)
		os.Exit(1)
	}

	archiveSvc := archival.NewService(objects, logger, archival.Config{
		InitialBackoff: time.Duration(parseEnvInt("STRATA_UPLOAD_BACKOFF_MS", 100)) * time.Millisecond,
		MaxBackoff:     time.Duration(parseEnvInt("STRATA_UPLOAD_BACKOFF_MAX_MS", 10000)) * time.Millisecond,
	})
	defer archiveSvc.Close()

	reconciler := placement.NewReconciler(cache, store, topo, pool, groups, logger, &placement.Config{
		CatchUpLag:          int64(parseEnvInt("STRATA_CATCHUP_LAG", 0)),
		CatchUpPollInterval: time.Duration(parseEnvInt("STRATA_CATCHUP_POLL_MS", 100)) * time.Millisecond,
		DefaultTimeout:      time.Duration(parseEnvInt("STRATA_MOVE_TIMEOUT_SEC", 10)) * time.Second,
	})
	coordinator := leadership.NewCoordinator(topo, pool, groups, logger)

	adminAddr := envOrDefault("STRATA_ADMIN_ADDR", defaultAdminAddr)
	if err := admin.StartServer(ctx, adminAddr, admin.ServerOptions{
		Cache:       cache,
		Reconciler:  reconciler,
		Coordinator: coordinator,
		Archival:    archiveSvc,
		Logger:      logger,
		MoveTimeout: time.Duration(parseEnvInt("STRATA_MOVE_TIMEOUT_SEC", 10)) * time.Second,
	}); err != nil {
		logger.Error("admin server failed to start", "error", err)
		os.Exit(1)
	}

	logger.Info("controld running", "admin_addr", adminAddr, "shards", shards)
	<-ctx.Done()
	logger.Info("shutting down")
}

func buildStore(ctx context.Context, cache *metadata.Cache, logger *slog.Logger) (metadata.Store, func()) {
	endpoints := strings.TrimSpace(os.Getenv("STRATA_ETCD_ENDPOINTS"))
	if endpoints == "" {
		logger.Info("using in-memory metadata store")
		return metadata.NewMemoryStore(), func() {}
	}
	cfg := metadata.EtcdStoreConfig{
		Endpoints: strings.Split(endpoints, ","),
		Username:  os.Getenv("STRATA_ETCD_USERNAME"),
		Password:  os.Getenv("STRATA_ETCD_PASSWORD"),
	}
	store, err := metadata.NewEtcdStore(ctx, cache, cfg)
	if err != nil {
		logger.Error("failed to initialize etcd store; using in-memory", "error", err)
		return metadata.NewMemoryStore(), func() {}
	}
	logger.Info("using etcd-backed metadata store", "endpoints", cfg.Endpoints)
	return store, func() { _ = store.Close() }
}

func buildObjectStore(ctx context.Context, logger *slog.Logger) archival.ObjectStore {
	if parseEnvBool("STRATA_USE_MEMORY_S3", false) {
		logger.Info("using in-memory object store", "env", "STRATA_USE_MEMORY_S3=1")
		return archival.NewMemoryObjectStore()
	}

	bucket := envOrDefault("STRATA_S3_BUCKET", defaultMinioBucket)
	region := envOrDefault("STRATA_S3_REGION", defaultMinioRegion)
	endpoint := envOrDefault("STRATA_S3_ENDPOINT", defaultMinioEndpoint)
	store, err := archival.NewS3ObjectStore(ctx, archival.S3Config{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        endpoint,
		ForcePathStyle:  parseEnvBool("STRATA_S3_PATH_STYLE", true),
		AccessKeyID:     os.Getenv("STRATA_S3_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("STRATA_S3_SECRET_KEY"),
		SessionToken:    os.Getenv("STRATA_S3_SESSION_TOKEN"),
		KMSKeyARN:       os.Getenv("STRATA_S3_KMS_ARN"),
	})
	if err != nil {
		logger.Error("failed to initialize S3 object store; using in-memory", "error", err)
		return archival.NewMemoryObjectStore()
	}
	logger.Info("using S3 object store", "bucket", bucket, "endpoint", endpoint)
	return store
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("STRATA_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler).With("component", "controld")
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
