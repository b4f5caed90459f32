package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/medrecord-gateway/internal/api/handler"
	"github.com/xela07ax/medrecord-gateway/internal/api/server"
	"github.com/xela07ax/medrecord-gateway/internal/api/service"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"github.com/xela07ax/medrecord-gateway/internal/infra/auth"
	"github.com/xela07ax/medrecord-gateway/internal/pdp"
	"github.com/xela07ax/medrecord-gateway/internal/policy"
	"github.com/xela07ax/medrecord-gateway/internal/repository/postgres"
)

// pdpHealthService — имя сервиса в grpc.health.v1, отражает состояние breaker-а PDP.
const pdpHealthService = "pdp"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medrec: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфигурация и логгер
	flags := infra.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := infra.LoadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Контекст для управления жизненным циклом: SIGINT/SIGTERM отменяют его
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Роли проверяем до того, как что-то поднимать
	roles, err := policy.NewRoleMap(cfg.PDP.Roles)
	if err != nil {
		return err
	}

	// 3. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	// 4. Хранилища
	startCtx, startCancel := context.WithTimeout(appCtx, 10*time.Second)
	defer startCancel()

	db, err := postgres.OpenDB(startCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(startCtx, db); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(startCtx).Err(); err != nil {
		// Redis нужен только под dead-letter: без него шлюз работает, провалы лишь логируются
		logger.Warn("redis unavailable, failed PDP registrations will not be retained", zap.Error(err))
	}

	// 5. gRPC health: breaker PDP -> NOT_SERVING
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(pdpHealthService, healthpb.HealthCheckResponse_SERVING)

	// 6. PDP: клиент решений + фоновая регистрация
	pdpClient := pdp.NewClient(cfg.PDP, roles, metrics, logger,
		pdp.WithStateListener(func(_ string, _, to gobreaker.State) {
			status := healthpb.HealthCheckResponse_SERVING
			if to == gobreaker.StateOpen {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthSrv.SetServingStatus(pdpHealthService, status)
		}),
	)
	deadLetter := pdp.NewRedisDeadLetter(rdb)
	syncer := pdp.NewSyncer(pdpClient, deadLetter, cfg.Sync, metrics, logger)
	syncer.Start()
	if n, err := syncer.Replay(startCtx); err != nil {
		logger.Warn("dead-letter replay interrupted", zap.Int("replayed", n), zap.Error(err))
	} else if n > 0 {
		logger.Info("dead-letter replayed", zap.Int("replayed", n))
	}
	go syncer.ReplayEvery(appCtx, cfg.Sync.ReplayInterval, deadLetter)

	// 7. Ядро: remote-first, local-fallback
	controller := policy.NewController(logger, metrics, pdpClient, policy.LocalDecider{})

	// 8. Сессии
	codec := auth.NewCodec(cfg.Auth.TokenSecret)
	if codec.UsesDevSecret() {
		logger.Warn("auth.token_secret is empty, using the built-in development key")
	}
	sessions := auth.NewSessionManager(codec, cfg.Auth.CookieName, cfg.IsProduction(), logger)

	// 9. Сервисы и HTTP API
	authSvc := service.NewAuthService(postgres.NewUserRepo(db), syncer, cfg.Auth.BcryptCost, logger)
	recordSvc := service.NewRecordService(postgres.NewRecordRepo(db), controller, syncer, logger)

	if cfg.Seed {
		if _, err := authSvc.SeedUsers(startCtx); err != nil {
			return err
		}
		if _, err := recordSvc.SeedRecords(startCtx); err != nil {
			return err
		}
	}

	api := server.New(logger, cfg.Server.AllowedOrigins, sessions,
		handler.NewAuthHandler(authSvc, sessions, logger),
		handler.NewRecordHandler(recordSvc, logger),
		handler.NewHealthHandler(db, pdpClient),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	errCh := make(chan error, 3)

	// Экспортируем метрики для Prometheus
	go func() {
		logger.Info("metrics listener started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	go func() {
		logger.Info("medrec gateway started", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	// 10. Graceful Shutdown
	select {
	case <-appCtx.Done():
		logger.Info("medrec gateway stopping...")
	case err := <-errCh:
		logger.Error("listener failed, stopping", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	// После HTTP: новых регистраций уже не будет, дописываем очередь
	if err := syncer.Stop(shutdownCtx); err != nil {
		logger.Error("pdp syncer stop", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("medrec gateway exited properly")
	return nil
}
