package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/batchplant/platform/pkg/api"
	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/common/config"
	"github.com/batchplant/platform/pkg/common/database"
	"github.com/batchplant/platform/pkg/common/kafka"
	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/batchplant/platform/pkg/linkage"
	"github.com/batchplant/platform/pkg/orders"
	"github.com/batchplant/platform/pkg/pipeline"
	"github.com/batchplant/platform/pkg/reconcile"
	"gorm.io/gorm"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		logger.Log.WithError(err).Fatal("failed to load .env")
	}
	cfg := config.Load()

	loc, err := cfg.Location()
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid PLANT_TIMEZONE")
	}
	logger.Init(logger.Options{
		Service:   cfg.ServiceName,
		PlantZone: loc.String(),
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})

	policy, err := reconcile.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load reconcile policy")
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close(db)

	orderRepo := orders.NewRepository(db)
	batchRepo := batches.NewRepository(db)
	linkRepo := linkage.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"orders":  orderRepo.AutoMigrate,
		"batches": batchRepo.AutoMigrate,
		"links":   linkRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("table", name).Fatal("failed to migrate")
		}
	}

	if err := linkRepo.SyncUniqueOrderIndex(cfg.EnforceUniqueOrder); err != nil {
		logger.Log.WithError(err).Fatal("failed to sync unique order index")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applierOpts := []linkage.Option{linkage.WithUniqueOrderLinks(cfg.EnforceUniqueOrder)}
	if cfg.DecisionOutputTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.DecisionOutputTopic)
		defer producer.Close()
		applierOpts = append(applierOpts, linkage.WithPublisher(producer))
	}
	if cfg.DecisionDLQTopic != "" {
		dlq := kafka.NewProducer(cfg.KafkaBrokers, cfg.DecisionDLQTopic)
		defer dlq.Close()
		applierOpts = append(applierOpts, linkage.WithDLQ(dlq))
	}
	applier := linkage.NewApplier(linkRepo, applierOpts...)

	var locker pipeline.DateLocker = pipeline.NoopLocker()
	if cfg.DateLockEnabled {
		rdb, err := database.OpenRedis(ctx, cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		locker = pipeline.NewRedisLocker(rdb, cfg.DateLockTTL, cfg.RetrievalTimeout)
	}

	finder := reconcile.NewCandidateFinder(orderRepo, loc, cfg.RetrievalTimeout)
	engine := reconcile.NewEngine(finder, reconcile.NewScorer(policy), applier)
	runner := pipeline.NewRunner(batchRepo, engine, locker)

	if cfg.PollInterval > 0 {
		poller := pipeline.NewPoller(batchRepo, runner, pipeline.PollerConfig{
			Interval:  cfg.PollInterval,
			BatchSize: cfg.PollBatchSize,
			Lookback:  cfg.PollLookback,
			Workers:   cfg.Workers,
		})
		go poller.Start(ctx)
	}

	if cfg.BatchInputTopic != "" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.BatchInputTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, runner.HandleEvent); err != nil {
				logger.Log.WithError(err).Error("batch consumer stopped")
			}
		}()
	}

	handlerOpts := []api.HandlerOption{
		api.WithMaxBody(cfg.MaxRequestBody),
		api.WithReadinessCheck(pingDB(db)),
	}
	if cfg.IntakeEnabled {
		var batchEvents batches.Publisher
		if cfg.BatchInputTopic != "" {
			intakeProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.BatchInputTopic)
			defer intakeProducer.Close()
			batchEvents = intakeProducer
		}
		recorder := batches.NewRecorder(batchRepo, batchEvents, nil)
		handlerOpts = append(handlerOpts, api.WithIntake(recorder, orderRepo))
	}
	handler := api.NewHandler(runner, engine, linkRepo, handlerOpts...)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"timezone": loc.String(),
			"auto":     policy.AutoLinkThreshold,
			"review":   policy.ReviewThreshold,
		}).Info("Reconcile Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Reconcile Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Reconcile Service stopped")
}

func pingDB(db *gorm.DB) api.ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
