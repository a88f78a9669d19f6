package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"opsflow/internal/access"
	audithandler "opsflow/internal/audit/handler"
	"opsflow/internal/audit/relay"
	"opsflow/internal/identity"
	"opsflow/internal/notification"
	notificationhandler "opsflow/internal/notification/handler"
	"opsflow/internal/platform/config"
	"opsflow/internal/platform/httpserver"
	"opsflow/internal/platform/kafka"
	"opsflow/internal/platform/logger"
	"opsflow/internal/platform/metrics"
	"opsflow/internal/platform/middleware"
	"opsflow/internal/platform/redis"
	ratelimitmetrics "opsflow/internal/ratelimit/metrics"
	ratelimit "opsflow/internal/ratelimit/middleware"
	"opsflow/internal/ratelimit/models"
	"opsflow/internal/ratelimit/store/bucket"
	requestshandler "opsflow/internal/requests/handler"
	requestmetrics "opsflow/internal/requests/metrics"
	requestmodels "opsflow/internal/requests/models"
	"opsflow/internal/requests/service"
	"opsflow/pkg/platform/middleware/admin"
)

// main wires infrastructure, the workflow service and its background loops,
// then serves HTTP until SIGINT or SIGTERM.
func main() {
	// A local .env only fills variables the environment leaves unset.
	envErr := godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn("could not read .env", "error", envErr)
	}
	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("opsflow stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer infra.close()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		transport   notification.Transport = notification.NewLogTransport(log)
		limitBucket ratelimit.Store
	)
	if redisClient != nil {
		defer redisClient.Close()
		transport = notification.NewRedisTransport(redisClient.Client, cfg.Workflow.NotificationChannel)
		limitBucket = bucket.NewRedis(redisClient.Client, "opsflow:ratelimit:")
		log.Info("notifications and rate limits backed by redis", "channel", cfg.Workflow.NotificationChannel)
	}
	limitMetrics := ratelimitmetrics.New()
	limiter := ratelimit.New(
		ratelimit.NewLimiter(limitBucket, ratelimit.WithLimiterLogger(log), ratelimit.WithLimiterMetrics(limitMetrics)),
		map[models.EndpointClass]models.Limit{
			models.ClassRead:  {Requests: cfg.Limits.ReadRequests, Window: cfg.Limits.Window},
			models.ClassWrite: {Requests: cfg.Limits.WriteRequests, Window: cfg.Limits.Window},
		},
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(limitMetrics),
	)
	dispatcher := notification.NewDispatcher(infra.notifications, transport,
		notification.WithLogger(log),
		notification.WithMetrics(notification.NewMetrics()),
	)

	matrix := access.NewDefaultMatrix()
	svc := service.New(infra.requests, infra.approvals, infra.tx,
		service.WithLogger(log),
		service.WithMetrics(requestmetrics.New()),
		service.WithDispatcher(dispatcher),
		service.WithFinancePolicy(requestmodels.FinancePolicy{ThresholdCents: cfg.Workflow.FinanceThresholdCents}),
		service.WithMatrix(matrix),
	)

	authn := identity.NewJWTAuthenticator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	checks := map[string]httpserver.Check{}
	if infra.db != nil {
		checks["postgres"] = infra.db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Ready
	}
	router := newRouter(cfg, log, authn, limiter, svc, matrix, infra, checks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting opsflow", "addr", cfg.Server.Addr, "postgres", infra.db != nil)
		return httpserver.Serve(ctx, httpserver.New(cfg.Server.Addr, router), cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return dispatcher.Run(ctx, cfg.Workflow.DispatchInterval)
	})

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Warn("audit relay disabled, kafka unavailable", "error", err)
	}
	if producer != nil {
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.AuditTopic, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		r := relay.New(infra.outbox, producer, cfg.Kafka.AuditTopic,
			relay.WithLogger(log),
			relay.WithInterval(cfg.Kafka.RelayInterval),
		)
		g.Go(func() error { return r.Run(ctx) })
	}

	return g.Wait()
}

func newRouter(
	cfg config.Config,
	log *slog.Logger,
	authn identity.Authenticator,
	limiter *ratelimit.Middleware,
	svc *service.Service,
	matrix *access.Matrix,
	infra *storeSet,
	checks map[string]httpserver.Check,
) chi.Router {
	httpMetrics := metrics.New()
	requests := requestshandler.New(svc, log)
	inbox := notificationhandler.New(infra.notifications, log)
	auditLog := audithandler.New(infra.auditLog, matrix, log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(httpMetrics))

	r.Handle("/metrics", metrics.Handler())
	r.Get("/readyz", httpserver.Ready(checks))
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireAuth(authn, log))
		r.Use(limiter.PerActor)
		requests.Register(r)
		inbox.Register(r)
		auditLog.Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, log))
		requests.RegisterInternal(r)
	})
	return r
}
