package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/apperrors"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/approval"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/browser"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/config"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/controllers"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/dedup"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/logger"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/metrics"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/middleware"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/ratelimit"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/routes"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/secrets"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/sender"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/services"
	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/signature"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting purchase agent", zap.String("config", cfg.String()))
	if cfg.Mode == models.ModeProd {
		log.Warn("PRODUCTION MODE: approved orders will be placed for real")
	}

	ctx := context.Background()

	// AWS is only loaded when something needs it.
	var awsCfg *sdkaws.Config
	needAWS := cfg.SecretsBackend == "aws" || cfg.NotifySNSTopicARN != "" || cfg.CloudWatchEnabled
	if needAWS {
		c, err := config.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("AWS config load failed", zap.Error(err))
		}
		awsCfg = &c
	}

	// Secrets
	var provider secrets.Provider = secrets.NewEnvProvider()
	if cfg.SecretsBackend == "aws" {
		provider = secrets.NewChainProvider(log,
			secrets.NewAWSProvider(*awsCfg, cfg.SecretsPrefix),
			secrets.NewEnvProvider(),
		)
	}
	vault := secrets.NewVault(provider)

	webhookSecret, err := vault.WebhookSecret(ctx)
	if err != nil {
		log.Fatal("Webhook shared secret unavailable", zap.Error(err))
	}
	verifier := signature.NewVerifier(webhookSecret, cfg.TimestampTolerance)

	// Dedup
	var (
		eventStore dedup.Store
		eventSweep services.Sweepable
		redisConn  *redis.Client
	)
	switch cfg.DedupBackend {
	case "redis":
		redisConn = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisConn.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatal("Redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		rs := dedup.NewRedisStore(redisConn, "", cfg.DedupRetention)
		eventStore, eventSweep = rs, rs
	default:
		ms := dedup.NewMemoryStore(cfg.DedupRetention)
		eventStore, eventSweep = ms, ms
	}

	ledger := approval.NewLedger(cfg.ApprovalRetention, log)
	webhookLimiter := ratelimit.New(cfg.WebhookRateLimit, cfg.WebhookRateWindow)
	approvalLimiter := ratelimit.New(cfg.ApprovalRateLimit, cfg.ApprovalRateWindow)

	// Metrics (CloudWatch non-fatal)
	m := metrics.New(ledger.PendingCount, log)
	if cfg.CloudWatchEnabled {
		m.WithCloudWatch(metrics.NewCloudWatch(*awsCfg, cfg.CloudWatchNamespace, true))
	}

	// Senders
	senders := []sender.Sender{sender.NewLogSender(log)}
	if token, user, err := vault.Pushover(ctx); err == nil {
		pushover, err := sender.NewPushoverSender(token, user)
		if err != nil {
			log.Warn("Pushover disabled", zap.Error(err))
		} else {
			senders = append(senders, pushover)
		}
	} else {
		log.Warn("Pushover credentials missing, notifications are log-only", zap.Error(err))
	}
	if cfg.NotifySNSTopicARN != "" {
		senders = append(senders, sender.NewSNSSender(sender.NewSNSClient(*awsCfg), cfg.NotifySNSTopicARN))
	}
	notifier := sender.NewMultiSender(senders...)

	// Dependency injection
	worker := browser.NewWorkerClient(cfg.BrowserWorkerURL, cfg.CollaboratorTimeout, log)
	registry := services.NewRegistry(cfg.RunRetention)
	orchestrator := services.NewOrchestrator(services.Options{
		Mode:                cfg.Mode,
		ProductName:         cfg.ProductName,
		ApprovalTimeout:     cfg.ApprovalTimeout,
		PollInterval:        cfg.ApprovalPollInterval,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		NavigationTimeout:   cfg.NavigationTimeout,
		RetryAttempts:       cfg.RetryAttempts,
		RetryDelay:          cfg.RetryDelay,
		FailUnconfirmed:     cfg.UnconfirmedPolicy == config.UnconfirmedFail,
		PublicBaseURL:       cfg.PublicBaseURL,
	}, worker, ledger, notifier, vault, registry, log).WithObserver(m)

	sweeper := services.NewSweeper(cfg.SweepInterval, log).
		Add("events", eventSweep).
		Add("approvals", ledger).
		Add("runs", registry).
		Add("webhook_limiter", webhookLimiter).
		Add("approval_limiter", approvalLimiter)

	// Router
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, routes.Handlers{
		Webhook:          controllers.NewWebhookController(verifier, eventStore, orchestrator, m, log),
		Approval:         controllers.NewApprovalController(ledger, orchestrator, m, log),
		Runs:             controllers.NewRunController(orchestrator),
		Health:           controllers.NewHealthController(cfg.Mode, cfg.Version, ledger.PendingCount),
		WebhookLimiter:   webhookLimiter,
		ApprovalLimiter:  approvalLimiter,
		OnWebhookLimited: func() { m.WebhookOutcome(metrics.OutcomeRateLimited) },
		Metrics:          m.Handler(),
	}, log)

	// Background sweeps
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go sweeper.Run(sweepCtx)

	// HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Purchase agent started", zap.String("port", cfg.Port), zap.String("mode", string(cfg.Mode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Initiating graceful shutdown...")
	sweepCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error("Runs did not finish before shutdown deadline", zap.Error(err))
	}
	if redisConn != nil {
		if err := redisConn.Close(); err != nil {
			log.Error("Redis close error", zap.Error(err))
		}
	}

	log.Info("Purchase agent stopped gracefully")
}
