package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/audit"
	"github.com/xela07ax/scalegov-prototype/internal/blueprint"
	"github.com/xela07ax/scalegov-prototype/internal/engine"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"github.com/xela07ax/scalegov-prototype/internal/notify"
	"github.com/xela07ax/scalegov-prototype/internal/repository/postgres"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewRepo(bootCtx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to init postgres: %v", err)
	}
	if err := repo.Ping(bootCtx); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	bootCancel()
	defer repo.Close()

	// Журнал решений: пишется в базу пачками, асинхронно
	trail := audit.NewTrail(repo, logger)
	trail.Start()
	defer trail.Stop()

	// Контекст жизненного цикла фоновых горутин:
	// cancel() по SIGTERM останавливает слушателей и координатор
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Blueprints: загрузка + горячая перезагрузка каталога
	blueprints := blueprint.NewStore(repo, logger)
	if err := blueprint.LoadDir(cfg.Coordinator.BlueprintDir, blueprints, logger); err != nil {
		log.Fatalf("failed to load blueprints: %v", err)
	}
	if len(blueprints.Services()) == 0 {
		log.Fatal("no valid blueprints loaded, nothing to govern")
	}
	if err := blueprint.Watch(appCtx, cfg.Coordinator.BlueprintDir, blueprints, logger); err != nil {
		logger.Warn("blueprint hot reload unavailable", zap.Error(err))
	}

	// 3. Execution Layer (актуатор + надежность)
	// Прототип управляет имитацией кластера; в проде сюда
	// встает адаптер реального оркестратора
	cluster := actuator.NewMockCluster()
	cluster.SimulateLatency(true)
	for _, svc := range blueprints.Services() {
		bp, _ := blueprints.Get(svc)
		cluster.Seed(svc, bp.MinReplicas, 0.5, 0.5, bp.LatencyTargetMs*0.8, 0.001)
	}

	guarded := engine.NewGuardedActuator(cluster, engine.GuardSettings{
		RPS:   cfg.Coordinator.ActuatorRPS,
		Burst: cfg.Coordinator.ActuatorBurst,
	})

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		log.Fatal(http.ListenAndServe(addr, mux))
	}()

	// 4. Core (сборка контура)
	notifier := notify.NewRedisNotifier(rdb, logger)
	broker := engine.NewApprovalBroker(repo, notifier, logger)

	// Заявки, пережившие рестарт: просроченные закрываются timed_out,
	// живым перевзводятся дедлайн-таймеры
	recoverCtx, recoverCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := broker.RecoverPending(recoverCtx); err != nil {
		logger.Error("approval recovery failed", zap.Error(err))
	}
	recoverCancel()

	go broker.StartListener(appCtx, rdb)

	executor := engine.NewExecutor(guarded, cluster)
	verifier := engine.NewVerifier(cluster, logger)
	rollback := engine.NewRollbackController(executor, verifier, logger)

	deps := engine.PipelineDeps{
		Blueprints: blueprints,
		MetricsSrc: cluster,
		Decider:    engine.NewDecisionEngine(),
		Enforcer:   engine.NewGovernanceEnforcer(logger),
		Approvals:  broker,
		Executor:   executor,
		Verifier:   verifier,
		Rollback:   rollback,
		Trail:      trail,
		Notifier:   notifier,
		Metrics:    metrics,
		Logger:     logger,
		Breaker: engine.BreakerSettings{
			MaxFailures: cfg.Coordinator.BreakerMaxFailures,
			Timeout:     cfg.Coordinator.BreakerTimeout,
		},
	}

	capacity := &actuator.StaticCapacity{Available: cfg.Coordinator.ClusterCapacity}
	coordinator := engine.NewCoordinator(capacity, trail, logger, cfg.Coordinator.CycleInterval)
	for _, svc := range blueprints.Services() {
		coordinator.Register(engine.NewPipeline(svc, deps))
	}

	go coordinator.StartBreakerResetListener(appCtx, rdb)

	// 5. Запуск контура
	go coordinator.Run(appCtx)
	logger.Info("governor started",
		zap.Strings("services", blueprints.Services()),
		zap.Duration("cycle_interval", cfg.Coordinator.CycleInterval),
	)

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("governor stopping...")
	cancel()

	// Даем время дописать журнал и дождаться in-flight циклов
	time.Sleep(2 * time.Second)
	logger.Info("governor exited properly")
}
