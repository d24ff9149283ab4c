package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kyc-access/internal/config"
	"github.com/go-kyc-access/internal/infrastructure/awsconf"
	"github.com/go-kyc-access/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-kyc-access/internal/infrastructure/jwt"
	redisinfra "github.com/go-kyc-access/internal/infrastructure/redis"
	s3infra "github.com/go-kyc-access/internal/infrastructure/s3"
	"github.com/go-kyc-access/internal/infrastructure/smtp"
	"github.com/go-kyc-access/internal/infrastructure/sns"
	"github.com/go-kyc-access/internal/pkg/logging"
	"github.com/go-kyc-access/internal/pkg/metrics"
	"github.com/go-kyc-access/internal/pkg/otp"
	transporthttp "github.com/go-kyc-access/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	logger := logging.NewLogger(cfg.LogLevel, "kyc-access", cfg.AppEnv)
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Codes.Pepper == "" {
		if cfg.AppEnv != "development" {
			return errors.New("CODE_PEPPER must be set outside development")
		}
		slog.Warn("CODE_PEPPER is empty; verification code hashes are unkeyed")
	}

	awsCfg, err := awsconf.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		return err
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	// Keys are required.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("jwt provider: %w", err)
	}

	s3Store := s3infra.NewStore(s3infra.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.Documents.Bucket)

	// SNS SMS sender (optional).
	var smsSender sns.SMSSender
	if cfg.SNSRegion != "" {
		snsCfg, err := awsconf.Load(ctx, cfg, cfg.SNSRegion)
		if err != nil {
			return err
		}
		smsSender = sns.NewSender(snsCfg)
	} else {
		slog.Warn("SNS_REGION not set, SMS delivery disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	deps := &transporthttp.Deps{
		UserRepo:         dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		RoleRepo:         dynamo.NewRoleAssignmentRepo(dynamoClient, cfg.DynamoTables.RoleAssignments),
		VerificationRepo: dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.VerificationCodes),
		DocumentRepo:     dynamo.NewDocumentRepo(dynamoClient, cfg.DynamoTables.Documents),
		ObjectStore:      s3Store,
		Mailer:           smtp.NewMailer(cfg),
		SMSSender:        smsSender,
		JWTProvider:      jwtProvider,
		Hasher:           otp.NewHasher(cfg.Codes.Pepper),
		MetricsHandler:   metrics.Handler(registry),
	}

	// Per-email throttles (optional).
	if cfg.RedisAddr != "" {
		rdb := redisinfra.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		deps.RequestThrottle = redisinfra.NewThrottle(rdb, "code-request", cfg.Codes.RequestLimit, cfg.Codes.Window)
		deps.AttemptThrottle = redisinfra.NewThrottle(rdb, "code-attempt", cfg.Codes.AttemptLimit, cfg.Codes.Window)
	} else {
		slog.Warn("REDIS_ADDR not set, per-email throttling disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.AppPort),
		Handler:           transporthttp.NewRouter(ctx, cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
