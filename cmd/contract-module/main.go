// Точка входа Contract Module — модуль договоров платформы SilentOakRanch.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует хранилища документов и WORM-журнала, клиенты внешних
// сервисов (рендеринг, подпись, валидация), сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/handlers"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/middleware"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/config"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/database"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/repository"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/server"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/service"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/signclient"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/worm"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Contract Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилища: документы договоров и WORM-реплика журнала аудита
	docs, err := docstore.New(cfg.ContractsDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища документов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище документов инициализировано", slog.String("dir", cfg.ContractsDir))

	wormStore, err := worm.New(cfg.AuditDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WORM-журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("WORM-журнал инициализирован", slog.String("dir", cfg.AuditDir))

	// 6. Клиенты внешних сервисов
	renderer := signclient.NewRendererClient(cfg.RendererURL, cfg.RemoteTimeout, logger)

	// Сервис подписи опционален: без него гейтвей работает в fallback-режиме
	var remoteSigner service.RemoteSigner
	if cfg.SignerURL != "" {
		remoteSigner = signclient.NewSignerClient(cfg.SignerURL, cfg.SignerToken, cfg.RemoteTimeout, logger)
		logger.Info("Клиент сервиса подписи создан", slog.String("url", cfg.SignerURL))
	} else {
		logger.Warn("CM_SIGNER_URL не задан — подписание работает в режиме fallback")
	}

	// Внешний валидатор опционален: без него только локальные проверки
	var remoteValidator service.RemoteValidator
	if cfg.ValidatorURL != "" {
		remoteValidator = signclient.NewValidatorClient(cfg.ValidatorURL, cfg.RemoteTimeout, logger)
		logger.Info("Клиент сервиса валидации создан", slog.String("url", cfg.ValidatorURL))
	}

	// 7. Repositories
	contractRepo := repository.NewContractRepository(pool)
	auditRepo := repository.NewAuditLogRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 8. Services
	auditSvc := service.NewAuditService(auditRepo, wormStore, logger)
	gateway := service.NewSigningGateway(docs, remoteSigner, cfg.SigningEnabled, logger)
	verifier := service.NewVerifierService(docs, remoteValidator, cfg.SignatureTTLDays, logger)
	links := service.NewLinkCodec(cfg.LinkSecret, cfg.LinkTTL)
	contractsSvc := service.NewContractService(
		contractRepo, txRunner, docs, renderer, gateway, verifier, links, auditSvc,
		logger,
	)

	// 9. Readiness checker и API handlers
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)
	contractsHandler := handlers.NewContractsHandler(contractsSvc, logger)
	auditHandler := handlers.NewAuditHandler(auditSvc, logger)

	// 10. JWT middleware (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWTJWKSURL,
			Issuer:          cfg.JWTIssuer,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: time.Hour,
			JWTLeeway:       30 * time.Second,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("CM_JWT_JWKS_URL не задан — API работает без аутентификации")
	}

	// 11. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"contract-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.RendererURL,
		cfg.SignerURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, contractsHandler, auditHandler, healthHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
