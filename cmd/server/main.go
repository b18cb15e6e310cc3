// server runs the tenant-isolation gateway: the gin HTTP API and the gRPC
// server share one resolver, session manager and violation log.
package main

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/askeywa/Immigration-V2-sub004/internal/config"
	"github.com/askeywa/Immigration-V2-sub004/internal/db"
	"github.com/askeywa/Immigration-V2-sub004/internal/db/migrate"
	"github.com/askeywa/Immigration-V2-sub004/internal/health"
	identityservice "github.com/askeywa/Immigration-V2-sub004/internal/identity/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/logger"
	"github.com/askeywa/Immigration-V2-sub004/internal/policy/engine"
	"github.com/askeywa/Immigration-V2-sub004/internal/resolver"
	"github.com/askeywa/Immigration-V2-sub004/internal/security"
	"github.com/askeywa/Immigration-V2-sub004/internal/server"
	sessionrepo "github.com/askeywa/Immigration-V2-sub004/internal/session/repository"
	sessionservice "github.com/askeywa/Immigration-V2-sub004/internal/session/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
	telemetryotel "github.com/askeywa/Immigration-V2-sub004/internal/telemetry/otel"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/producer"
	tenantrepo "github.com/askeywa/Immigration-V2-sub004/internal/tenant/repository"
	userrepo "github.com/askeywa/Immigration-V2-sub004/internal/user/repository"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
	violationrepo "github.com/askeywa/Immigration-V2-sub004/internal/violation/repository"
)

const serviceName = "tenantguard"

func main() {
	runMigrations := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile, Service: serviceName})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *runMigrations); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, runMigrations bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()

	m, err := metrics.NewDefault()
	if err != nil {
		return err
	}

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the tenant directory")
	}
	if runMigrations {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			return err
		}
		log.Info("migrations applied")
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer conn.Close()

	tenants := tenantrepo.NewPostgresRepository(conn)
	res, err := resolver.New(tenantrepo.NewCachedLookup(tenants, cfg.DirectoryCacheSize, cfg.CacheTTL()), resolver.Options{
		SuperAdminDomains: cfg.SuperAdminDomainList(),
		APIDomain:         cfg.APIDomain,
		BaseDomain:        cfg.BaseDomain,
		SubdomainPattern:  cfg.SubdomainPattern,
		DirectoryTimeout:  cfg.DirectoryDeadline(),
		FallbackTimeout:   cfg.FallbackDeadline(),
		Subscriptions:     tenants,
		Metrics:           m,
		Tracer:            otel.Tracer(serviceName + "/resolver"),
		Logger:            log.Named("resolver"),
	})
	if err != nil {
		return err
	}

	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.ViolationKafkaTopic)
	sinks := []violation.Sink{telemetryotel.NewViolationEmitter(providers.LoggerProvider)}
	if kafkaProducer != nil {
		sinks = append(sinks, kafkaProducer)
		log.Info("streaming violations to kafka", zap.String("topic", cfg.ViolationKafkaTopic))
	}
	violations := violation.NewLog(violation.Options{
		Capacity:    cfg.ViolationCapacity,
		Retention:   cfg.Retention(),
		SinkTimeout: cfg.SinkDeadline(),
		Store:       violationrepo.NewPostgresRepository(conn),
		Sinks:       sinks,
		Observe:     func(v vdomain.Violation) { m.ObserveViolation(string(v.Kind), string(v.Severity)) },
		Logger:      log.Named("violation"),
	})

	policyText, err := engine.LoadPolicyFile(cfg.SeverityPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, policyText, engine.Defaults{
		IPMismatch:        vdomain.Severity(cfg.IPMismatchSeverity),
		UserAgentMismatch: vdomain.Severity(cfg.UserAgentMismatchSeverity),
		FatalAt:           vdomain.Severity(cfg.MismatchFatalSeverity),
	}, log.Named("policy"))
	if err != nil {
		return err
	}

	signer, pub, err := signingKeys(cfg, log)
	if err != nil {
		return err
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience)
	authenticator, err := identityservice.NewAuthenticator(userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	if err != nil {
		return err
	}

	sessions, redisClient, err := sessionStore(ctx, cfg, conn)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	manager := sessionservice.NewManager(sessions, authenticator, tokens, sessionservice.Options{
		StoreTimeout:  cfg.StoreDeadline(),
		MaxConcurrent: cfg.MaxConcurrentSessions,
		Policy:        policy,
		Recorder:      violations,
		Metrics:       m,
		Logger:        log.Named("session"),
	})

	pingers := map[string]health.Pinger{"postgres": health.PingFunc(conn.PingContext)}
	if redisClient != nil {
		pingers["redis"] = health.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	checker := health.NewChecker(pingers, policy)

	router := server.NewRouter(server.HTTPDeps{
		Resolver:    res,
		Sessions:    manager,
		Violations:  violations,
		Recorder:    violations,
		Metrics:     m,
		Logger:      log.Named("http"),
		CORSOrigins: cfg.CORSOrigins(),
		Ready:       checker.Check,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer, healthServer := server.NewGRPCServer(server.GRPCDeps{
		Resolver: res,
		Sessions: manager,
		Metrics:  m,
		Logger:   log.Named("grpc"),
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		violations.Run(gctx, cfg.SweepInterval())
		return nil
	})
	g.Go(func() error {
		checker.Watch(gctx, healthServer, 10*time.Second, log.Named("health"))
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	// Let in-flight async violation emits finish before closing the sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if cerr := kafkaProducer.Close(); cerr != nil {
		log.Warn("kafka producer close", zap.Error(cerr))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := providers.Shutdown(shutdownCtx); serr != nil {
		log.Warn("telemetry shutdown", zap.Error(serr))
	}
	log.Info("server stopped")
	return err
}

// sessionStore builds the repository selected by SESSION_STORE. The redis
// client is returned so the caller can close it and check it for readiness.
func sessionStore(ctx context.Context, cfg *config.Config, conn *sql.DB) (sessionrepo.Repository, *redis.Client, error) {
	switch cfg.SessionStore {
	case "redis":
		client, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return sessionrepo.NewRedisRepository(client, sessionrepo.ExpiredRetention), client, nil
	case "postgres":
		return sessionrepo.NewPostgresRepository(conn), nil, nil
	default:
		return sessionrepo.NewMemoryRepository(sessionrepo.ExpiredRetention), nil, nil
	}
}

// signingKeys loads the session signing pair. Outside production a missing
// pair is replaced by an ephemeral P-256 key; tokens then do not survive a restart.
func signingKeys(cfg *config.Config, log *zap.Logger) (crypto.Signer, crypto.PublicKey, error) {
	if cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" || cfg.Env == "production" {
		return security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	log.Warn("JWT_PRIVATE_KEY not set; using an ephemeral signing key")
	return key, key.Public(), nil
}
