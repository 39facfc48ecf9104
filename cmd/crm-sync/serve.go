package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/crm-sync/internal/api/handlers"
	"github.com/bigkaa/goartstore/crm-sync/internal/api/middleware"
	"github.com/bigkaa/goartstore/crm-sync/internal/config"
	"github.com/bigkaa/goartstore/crm-sync/internal/database"
	"github.com/bigkaa/goartstore/crm-sync/internal/localcrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/oauth"
	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
	"github.com/bigkaa/goartstore/crm-sync/internal/server"
	"github.com/bigkaa/goartstore/crm-sync/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер и фоновые задачи",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe применяет миграции, собирает сервисный слой и запускает
// HTTP-сервер до отмены ctx.
func runServe(ctx context.Context) error {
	// 1. Конфигурация и логирование
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}
	logger.Info("CRM Sync запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)
	if os.Getenv("CS_DEPHEALTH_GROUP") == "" {
		logger.Warn("CS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}
	if cfg.RemoteClientSecret == "" {
		logger.Warn("CS_REMOTE_CLIENT_SECRET не задан: OAuth недоступен, все webhook будут отклонены")
	}

	// 2. Миграции и подключение к PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции БД: %w", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	// 3. Repositories
	connRepo := repository.NewConnectionRepository(pool)
	mappingRepo := repository.NewMappingRepository(pool)
	linkRepo := repository.NewIdentityMapRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	eventRepo := repository.NewEventLogRepository(pool)
	recorder := repository.NewSyncRecorder(repository.NewTxRunner(pool))

	// 4. Клиенты CRM
	oauthClient := oauth.NewClient(oauth.Config{
		ClientID:     cfg.RemoteClientID,
		ClientSecret: cfg.RemoteClientSecret,
		AuthorizeURL: cfg.RemoteAuthorizeURL,
		TokenURL:     cfg.RemoteTokenURL,
		RedirectURL:  cfg.RemoteRedirectURL,
		Scopes:       cfg.RemoteScopes,
		HTTPClient:   httpClient,
	}, logger)
	tokens := service.NewTokenManager(connRepo, oauthClient, logger)
	remote := remotecrm.New(cfg.RemoteAPIURL, tokens, httpClient, logger)
	local := localcrm.New(cfg.LocalAPIURL, cfg.LocalAPIKey, httpClient, logger)

	// 5. Services
	events := service.NewEventService(eventRepo, logger)
	orchestrator := service.NewOrchestrator(
		connRepo, mappingRepo, linkRepo,
		service.NewLedgerService(ledgerRepo, cfg.LedgerTTL), recorder,
		remote, local,
		logger,
	)
	connections := service.NewConnectionService(connRepo, oauthClient, service.OAuthSettings{
		ClientID:     cfg.RemoteClientID,
		ClientSecret: cfg.RemoteClientSecret,
		StateSecret:  cfg.OAuthStateSecret,
	}, events, logger)
	webhooks := service.NewWebhookIngestService(connRepo, orchestrator, events, cfg.RemoteClientSecret, logger)
	localEvents := service.NewLocalEventService(orchestrator, local, events, logger)

	// 6. Фоновые задачи
	ledgerGC := service.NewLedgerGCService(ledgerRepo, cfg.LedgerGCInterval, logger)
	ledgerGC.Start(ctx)
	defer ledgerGC.Stop()

	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "crm-sync",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	// 7. HTTP API
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		Issuer:          cfg.JWTIssuer,
		TenantClaim:     cfg.JWTTenantClaim,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
		HTTPClient:      httpClient,
	}, logger)
	if err != nil {
		return fmt.Errorf("создание JWT middleware: %w", err)
	}

	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(pool)),
		handlers.Services{
			Connections: connections,
			Mappings:    service.NewMappingService(mappingRepo, logger),
			Properties:  service.NewPropertyService(remote, cfg.PropertyCacheTTL),
			Events:      events,
			Webhooks:    webhooks,
			LocalEvents: localEvents,
		},
		logger,
	)

	srv := server.New(cfg.Port, cfg.ShutdownTimeout, server.NewRouter(logger, apiHandler, jwtAuth), logger)
	return srv.Run(ctx)
}
