package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
	"github.com/dd0wney/cluso-docstore/pkg/repl"
)

const feedTokenDuration = time.Hour

func main() {
	configPath := flag.String("config", "replica.yaml", "Path to config file")
	flag.Parse()

	fmt.Printf("🔥 Cluso DocStore - Replica Node\n")
	fmt.Printf("================================\n\n")

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	reg := metrics.NewRegistry()

	// Local oplog
	fmt.Printf("📂 Opening oplog in %s...\n", cfg.Replication.DataDir)
	store, err := oplog.OpenStore(oplog.StoreConfig{DataDir: cfg.Replication.DataDir})
	if err != nil {
		log.Fatalf("Failed to open oplog: %v", err)
	}
	defer store.Close()

	// GTID checkpoint
	ctx := context.Background()
	var cpStore gtid.CheckpointStore
	switch cfg.Checkpoint.Backend {
	case "postgres":
		cpStore, err = gtid.NewPGCheckpointStore(ctx, cfg.Checkpoint.PostgresDSN, cfg.NodeID)
	default:
		cpStore, err = gtid.NewFileCheckpointStore(cfg.Replication.DataDir)
	}
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}
	defer cpStore.Close()

	cp, found, err := cpStore.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}
	if found {
		fmt.Printf("🔖 Resuming from %s\n", cp.LastGTID)
	}
	mgr := gtid.NewManager(cp, cpStore)

	// Feed auth
	tokens, err := auth.NewFeedTokenManager(cfg.Replication.FeedSecret, feedTokenDuration)
	if err != nil {
		log.Fatalf("Failed to initialize feed auth: %v", err)
	}

	// Serve our own oplog to downstream replicas
	fmt.Printf("📡 Starting oplog feed on %s...\n", cfg.Replication.FeedAddr)
	feed := repl.NewFeedServer(cfg.Replication.FeedAddr, store, tokens,
		repl.WithFeedLogger(logger),
		repl.WithFeedMetrics(reg),
	)
	if err := feed.Start(); err != nil {
		log.Fatalf("Failed to start feed server: %v", err)
	}
	defer feed.Stop()

	// Replica-set view
	members := make([]repl.Member, 0, len(cfg.Replication.Members))
	for _, m := range cfg.Replication.Members {
		members = append(members, repl.Member{ID: m.ID, Host: m.Host})
	}
	rs := repl.NewReplicaSet(members,
		repl.WithSlaveDelay(cfg.Replication.SlaveDelay),
		repl.WithLogger(logger),
		repl.WithReplInfoFlush(func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mgr.ForceFlush(flushCtx); err != nil {
				logger.Warn("checkpoint flush failed", logging.Error(err))
			}
		}),
	)

	// Rollback archive
	archiveOpts := []repl.ArchiveOption{repl.WithArchiveLogger(logger)}
	if cfg.Archive.S3Bucket != "" {
		uploader, err := repl.NewS3Uploader(ctx, repl.S3UploaderConfig{
			Region:    cfg.Archive.S3Region,
			Bucket:    cfg.Archive.S3Bucket,
			Prefix:    cfg.Archive.S3Prefix,
			Endpoint:  cfg.Archive.S3Endpoint,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
		})
		if err != nil {
			log.Fatalf("Failed to initialize archive uploader: %v", err)
		}
		archiveOpts = append(archiveOpts, repl.WithArchiveUploader(uploader))
	}
	archive, err := repl.NewRollbackArchive(cfg.Archive.Dir, archiveOpts...)
	if err != nil {
		log.Fatalf("Failed to open rollback archive: %v", err)
	}
	defer archive.Close()

	// Sync pipeline
	syncCfg := cfg.SyncConfig()
	readerFactory := repl.NewRemoteReaderFactory(cfg.NodeID, tokens, syncCfg, logger)
	oplogStore := repl.NewStoreBackedOplog(store, nil, nil)
	bgsync, err := repl.NewBackgroundSync(syncCfg, rs, mgr, oplogStore, readerFactory,
		repl.WithSyncLogger(logger),
		repl.WithMetrics(reg),
		repl.WithRollbackArchive(archive),
	)
	if err != nil {
		log.Fatalf("Failed to create sync pipeline: %v", err)
	}

	go bgsync.ProducerThread()
	go bgsync.ApplierThread()

	flushCtx, stopFlush := context.WithCancel(ctx)
	go mgr.FlushLoop(flushCtx, cfg.Checkpoint.FlushInterval)

	rs.BecomeSecondary()
	bgsync.StartOpSyncThread()

	// HTTP status API
	fmt.Printf("🌐 Starting HTTP API on %s...\n", cfg.HTTPAddr)
	go startHTTPServer(cfg.HTTPAddr, rs, mgr, bgsync, store, reg)

	fmt.Printf("\n✅ Replica node started!\n")
	fmt.Printf("  Node ID: %s\n", cfg.NodeID)
	fmt.Printf("  Feed: %s\n", cfg.Replication.FeedAddr)
	fmt.Printf("  HTTP API: %s\n", cfg.HTTPAddr)
	fmt.Printf("  Data: %s\n\n", cfg.Replication.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Printf("\n👋 Shutting down...\n")
	bgsync.Shutdown()
	stopFlush()
	feed.Stop()
	archive.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.ForceFlush(shutdownCtx); err != nil {
		logger.Warn("final checkpoint flush failed", logging.Error(err))
	}
}

func startHTTPServer(addr string, rs *repl.ReplicaSet, mgr *gtid.Manager, bgsync *repl.BackgroundSync, store *oplog.Store, reg *metrics.Registry) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if rs.State().Fatal() {
			status = "fatal"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"role":   "replica",
			"state":  rs.State().String(),
		})
	})

	mux.HandleFunc("/replication/status", func(w http.ResponseWriter, r *http.Request) {
		lastLive, lastUnapplied := mgr.LiveGTIDs()
		resp := map[string]any{
			"state":         rs.State().String(),
			"lastLive":      lastLive.String(),
			"lastUnapplied": lastUnapplied.String(),
			"counters":      bgsync.GetCounters(),
			"rollbackId":    bgsync.RollbackID(),
			"oplogEntries":  store.Len(),
		}
		if target := bgsync.GetSyncTarget(); target != nil {
			resp["syncTarget"] = target.Host
		}
		if msg := rs.HealthMessage(); msg != "" {
			resp["healthMessage"] = msg
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
