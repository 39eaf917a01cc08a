package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/scalegov-prototype/internal/console/handler"
	"github.com/xela07ax/scalegov-prototype/internal/console/server"
	"github.com/xela07ax/scalegov-prototype/internal/console/service"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"github.com/xela07ax/scalegov-prototype/internal/infra/auth"
	"github.com/xela07ax/scalegov-prototype/internal/repository/postgres"
)

func main() {
	// 1. Инициализация ресурсов
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

	// Проверяем соединение с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewRepo(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to init postgres: %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	cancel()
	defer repo.Close()

	// 2. Ключи RS256: приватный подписывает токены, публичный проверяет
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		log.Fatalf("failed to parse private key: %v", err)
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		log.Fatalf("failed to parse public key: %v", err)
	}
	validator := auth.NewBaseValidator(publicKey)

	// 3. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(repo, privateKey)
	approvalService := service.NewApprovalService(rdb, repo, validator, logger)
	auditService := service.NewAuditService(repo)
	blueprintService := service.NewBlueprintService(repo)

	srv := server.NewConsoleServer(
		cfg,
		logger,
		approvalService,
		handler.NewAuthHandler(authService),
		handler.NewApprovalHandler(approvalService),
		handler.NewAuditHandler(auditService),
		handler.NewBlueprintHandler(blueprintService),
	)

	// 4. Запуск сервера
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Console API started on %s", httpSrv.Addr)
	log.Fatal(httpSrv.ListenAndServe())
}
