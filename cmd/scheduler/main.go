// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/audit"
	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/config"
	"github.com/mqc3/scheduler/internal/durable"
	"github.com/mqc3/scheduler/internal/events"
	"github.com/mqc3/scheduler/internal/jobmanager"
	"github.com/mqc3/scheduler/internal/obs"
	"github.com/mqc3/scheduler/internal/paramstore"
	"github.com/mqc3/scheduler/internal/priority"
	"github.com/mqc3/scheduler/internal/queue"
	"github.com/mqc3/scheduler/internal/rpc"
	"github.com/mqc3/scheduler/internal/statusmsg"
	"github.com/mqc3/scheduler/internal/tokenservice"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Durable.Region)})
	if err != nil {
		logger.Fatal("failed to create AWS session", obs.Err(err))
	}

	durableStore := durable.NewDynamoDBStore(sess, cfg.Durable.TableName, cfg.Durable.StatusIndexName, logger)
	blobStore := blob.NewS3Store(sess, cfg.Blob.BucketName, nil)
	ssmStore := paramstore.NewSSMStore(sess)
	availability, err := paramstore.New(ctx, ssmStore, cfg.ParamStore.BackendStatusParameter, logger)
	if err != nil {
		logger.Fatal("failed to initialize backend availability view", obs.Err(err))
	}

	tokens := tokenservice.New(cfg.TokenService.BaseURL, cfg.TokenService.Timeout)

	priorityCfg := &priority.Config{
		Weights: priority.Weights{
			Role:      cfg.Priority.WeightRole,
			Timeout:   cfg.Priority.WeightTimeout,
			Age:       cfg.Priority.WeightAge,
			FairShare: cfg.Priority.WeightFairShare,
		},
		RoleMaxTimeout:       cfg.Priority.RoleMaxTimeout,
		DefaultMaxTimeout:    cfg.Priority.DefaultMaxTimeout,
		MaxWaitingTimePerJob: cfg.Priority.MaxWaitingTimePerJob,
		MaxJobsToConsider:    cfg.Priority.MaxJobsToConsider,
		BurstHalfLife:        cfg.Priority.BurstHalfLife,
		FairSharePenalty:     cfg.Priority.FairSharePenalty,
		BurstEvictionHorizon: cfg.Priority.BurstEvictionHorizon,
	}

	backends, err := availability.GetAllBackends(ctx)
	if err != nil {
		logger.Fatal("failed to list backends from availability parameter", obs.Err(err))
	}

	queues := queue.NewContainer(priorityCfg, queue.ContainerOptions{
		Backends:              backends,
		CapacityBytes:         cfg.Quotas.QueueCapacityBytes,
		MaxConcurrentPerToken: cfg.Quotas.RoleConcurrencyCaps,
	})

	var publisher *events.Publisher
	if cfg.EventBus.Enabled {
		publisher, err = events.New(cfg.EventBus.NATSURL, logger, nil)
		if err != nil {
			logger.Fatal("failed to connect to event bus", obs.Err(err))
		}
		defer publisher.Close()
	} else {
		publisher = events.Noop()
	}

	var auditLog *audit.Logger
	if cfg.Audit.Path != "" {
		auditLog, err = audit.New(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.Compress)
		if err != nil {
			logger.Fatal("failed to open audit log", obs.Err(err))
		}
		defer auditLog.Close()
	} else {
		auditLog = audit.Noop()
	}

	catalog := statusmsg.Default()

	manager, err := jobmanager.New(ctx, jobmanager.Deps{
		Durable: durableStore,
		Blobs:   blobStore,
		Queues:  queues,
		Config:  priorityCfg,
		Clock:   clock.Real(),
		Catalog: catalog,
		Logger:  logger,
		Events:  publisher,
	})
	if err != nil {
		logger.Fatal("failed to construct job manager", obs.Err(err))
	}

	limits := rpc.DefaultRoleSizeLimits()
	for role, byteCap := range cfg.Quotas.RoleByteCaps {
		limits.ByRole[role] = byteCap
	}
	if cfg.Quotas.DefaultByteCap > 0 {
		limits.Default = cfg.Quotas.DefaultByteCap
	}

	submissionServer := rpc.NewSubmissionServer(manager, blobStore, availability, catalog, limits, auditLog, logger)
	submissionHTTP := rpc.NewSubmissionHTTPServer(rpc.ServerConfig{
		ListenAddr:     cfg.Submission.ListenAddr,
		ReadTimeout:    cfg.Submission.ReadTimeout,
		WriteTimeout:   cfg.Submission.WriteTimeout,
		AllowedOrigins: cfg.Submission.AllowedOrigins,
		RateLimitRPS:   cfg.Submission.RateLimitRPS,
		RateLimitBurst: cfg.Submission.RateLimitBurst,
	}, submissionServer, tokens, catalog, clock.Real(), logger)

	executionServer := rpc.NewExecutionServer(manager, durableStore, blobStore, catalog, auditLog, logger)
	executionHTTP := rpc.NewExecutionHTTPServer(rpc.ServerConfig{
		ListenAddr:     cfg.Execution.ListenAddr,
		ReadTimeout:    cfg.Execution.ReadTimeout,
		WriteTimeout:   cfg.Execution.WriteTimeout,
		AllowedOrigins: cfg.Execution.AllowedOrigins,
		RateLimitRPS:   cfg.Execution.RateLimitRPS,
		RateLimitBurst: cfg.Execution.RateLimitBurst,
	}, executionServer, tokens, catalog, clock.Real(), logger)

	go func() {
		if err := submissionHTTP.ListenAndServe(); err != nil {
			logger.Error("submission server stopped", obs.Err(err))
		}
	}()
	go func() {
		if err := executionHTTP.ListenAndServe(); err != nil {
			logger.Error("execution server stopped", obs.Err(err))
		}
	}()

	readyCheck := func(c context.Context) error {
		if err := durableStore.EnsureTableExists(c); err != nil {
			return err
		}
		_, err := availability.GetAllBackends(c)
		return err
	}
	metricsHTTP := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = metricsHTTP.Shutdown(context.Background()) }()

	obs.StartQueueLengthUpdater(ctx, queues, 2*time.Second, logger)

	var evictionCron *cron.Cron
	if cfg.Priority.BurstEvictionCron != "" {
		evictionCron = cron.New()
		_, err := evictionCron.AddFunc(cfg.Priority.BurstEvictionCron, func() {
			evicted := queues.Burst().Evict(time.Now(), cfg.Priority.BurstEvictionHorizon)
			if evicted > 0 {
				logger.Info("evicted stale burst-table entries", obs.Int("evicted", evicted))
			}
			obs.BurstTableSize.Set(float64(queues.Burst().Len()))
		})
		if err != nil {
			logger.Fatal("failed to schedule burst-eviction job", obs.Err(err))
		}
		evictionCron.Start()
		defer evictionCron.Stop()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		_ = submissionHTTP.Shutdown(shutdownCtx)
		_ = executionHTTP.Shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
	case sig2 := <-sigCh:
		logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
		os.Exit(1)
	case <-time.After(5 * time.Second):
		logger.Warn("graceful shutdown timed out")
	}
}
