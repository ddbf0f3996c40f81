package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"veil/internal/audittrail"
	trailhandler "veil/internal/audittrail/handler"
	identityhandler "veil/internal/identity/handler"
	identityservice "veil/internal/identity/service"
	identitystore "veil/internal/identity/store"
	"veil/internal/identity/token"
	"veil/internal/jwttoken"
	"veil/internal/platform/config"
	"veil/internal/platform/httpserver"
	"veil/internal/platform/kafka"
	"veil/internal/platform/logger"
	"veil/internal/platform/metrics"
	"veil/internal/platform/redis"
	"veil/internal/proof"
	proofhandler "veil/internal/proof/handler"
	proofmetrics "veil/internal/proof/metrics"
	revealhandler "veil/internal/reveal/handler"
	"veil/internal/reveal/keystore"
	revealmetrics "veil/internal/reveal/metrics"
	revealservice "veil/internal/reveal/service"
	revealstore "veil/internal/reveal/store"
	httptransport "veil/internal/transport/http"
	"veil/pkg/platform/tx"
)

const shutdownGrace = 10 * time.Second

// main wires the engine together: stores by configuration (Postgres or
// in-memory), the proof pipeline with its background flush loop, the reveal
// state machine with its retention sweeper, and the HTTP surface.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := make(map[string]httptransport.HealthChecker)

	// Persistence. An empty DSN selects the in-memory stores, which hold the
	// same contracts and back local development and most of the test suite.
	var (
		trailStore audittrail.Store
		entryStore audittrail.EntryStore
		proofStore proof.Store
		idStore    identitystore.Store
		revStore   revealstore.Store
		runner     tx.Runner = tx.Passthrough{}
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("open pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgTrail := audittrail.NewPostgresStore(db)
		trailStore, entryStore = pgTrail, pgTrail
		proofStore = proof.NewPostgresStore(db)
		idStore = identitystore.NewPostgresStore(db)
		revStore = revealstore.NewPostgresStore(pool)
		runner = tx.SQLRunner{DB: db}
		health["postgres"] = dbHealth{db}
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		memTrail := audittrail.NewMemoryStore()
		trailStore, entryStore = memTrail, memTrail
		proofStore = proof.NewMemoryStore()
		idStore = identitystore.NewMemoryStore()
		revStore = revealstore.NewMemoryStore()
	}

	// Bulletin fan-out. The trail is durable without it; with brokers
	// configured, entries and checkpoints also stream to Kafka.
	var (
		producer  audittrail.Producer
		publisher *audittrail.CheckpointPublisher
		sink      chan audittrail.Entry
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafka.NewPublisher(ctx, cfg.KafkaBrokers, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kp.Close()
		producer = kp
		publisher = audittrail.NewCheckpointPublisher(kp, log)
		sink = make(chan audittrail.Entry, 1024)
	}

	trail := audittrail.NewService(trailStore, entryStore, sink, log)
	if sink != nil {
		worker := audittrail.NewWorker(producer, kafka.TopicAuditTrail, sink, log)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit fan-out worker stopped", "error", err)
			}
		}()
	}

	// Proof engine.
	var (
		signer *proof.Signer
		err    error
	)
	if len(cfg.SigningSeed) > 0 {
		signer, err = proof.NewSignerFromSeed(cfg.SigningSeed)
	} else {
		log.Warn("no signing seed configured, using ephemeral proof key")
		signer, err = proof.NewSigner()
	}
	if err != nil {
		log.Error("initialize signer", "error", err)
		os.Exit(1)
	}

	batcher := proof.NewBatcher(cfg.Proof.Shards, cfg.Proof.MaxLeaves, cfg.Proof.BatchWindow)
	proofSvc := proof.NewService(trailStore, proofStore, runner, batcher, signer, trail, publisher, proofmetrics.New(), log)
	if err := proofSvc.RecoverPending(ctx); err != nil {
		log.Error("recover pending commitments", "error", err)
		os.Exit(1)
	}
	go proofSvc.Run(ctx)

	// Identity registry.
	jwtSvc := jwttoken.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)
	var consumer token.Consumer
	if cfg.Redis.URL != "" {
		rdb, err := redis.New(cfg.Redis)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		consumer = token.NewRedisConsumer(rdb.Client)
		health["redis"] = rdb
	} else {
		log.Warn("no redis URL configured, disclosure token replay window is per-process")
		consumer = token.NewMemoryConsumer()
	}
	identitySvc := identityservice.New(idStore, jwtSvc, consumer, trail, proofSvc, log)

	// Reveal state machine.
	revealSvc := revealservice.New(revStore, identitySvc, jwtSvc, consumer, keystore.New(),
		trail, proofSvc, revealmetrics.New(), log)
	go revealSvc.RunRetentionSweep(ctx, cfg.RetentionSweepInterval)

	m := metrics.New()
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Metrics:  m,
		Auth:     jwtSvc,
		Identity: identityhandler.New(identitySvc, log, m),
		Proof:    proofhandler.New(proofSvc, log),
		Reveal:   revealhandler.New(revealSvc, log),
		Trail:    trailhandler.New(trail, trailStore, log),
		Health:   health,
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := httpserver.Shutdown(srv, shutdownGrace); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

type dbHealth struct {
	db *sql.DB
}

func (h dbHealth) Health(ctx context.Context) error { return h.db.PingContext(ctx) }
