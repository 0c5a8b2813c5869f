package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/apps/relay/handlers"
	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/audit"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/chain"
	awsclient "github.com/cyphera/sponsor-relay/libs/go/client/aws"
	"github.com/cyphera/sponsor-relay/libs/go/client/registry"
	relayconfig "github.com/cyphera/sponsor-relay/libs/go/config"
	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"github.com/cyphera/sponsor-relay/libs/go/helpers"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/middleware"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
	"github.com/cyphera/sponsor-relay/libs/go/signer"
	"github.com/cyphera/sponsor-relay/libs/go/sponsorlock"
	"github.com/cyphera/sponsor-relay/libs/go/tasks"
)

// App is a fully wired relay server.
type App struct {
	Stage     string
	Window    time.Duration
	Sponsor   common.Address
	ChainName string

	Cluster *relay.Cluster
	// Names is nil when no name registry is configured.
	Names *relay.Names
	// OperatorKey is nil when message signing is disabled.
	OperatorKey middleware.KeySource
	Limiter     *middleware.RateLimiter

	closers []func()
}

var app *App

// InitializeHandlers loads configuration and builds every component. It
// exits the process on failure.
func InitializeHandlers() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	stage := os.Getenv(relayconfig.EnvStage)
	if stage == "" {
		stage = helpers.StageLocal
		log.Printf("Warning: STAGE environment variable not set, defaulting to '%s'", stage)
	}
	if !helpers.IsValidStage(stage) {
		log.Fatalf("Invalid STAGE environment variable: '%s'. Must be one of: %s, %s, %s",
			stage, helpers.StageProd, helpers.StageDev, helpers.StageLocal)
	}

	logger.InitLogger(stage)
	logger.Info("Initializing relay for stage", zap.String("stage", stage))

	cfg, err := relayconfig.Load()
	if err != nil {
		logger.Fatal("Failed to load relay configuration", zap.Error(err))
	}

	app, err = Build(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Failed to build relay", zap.Error(err))
	}
}

// InitializeRoutes registers the relay routes on router.
func InitializeRoutes(router *gin.Engine) {
	if app == nil {
		logger.Fatal("InitializeRoutes called before InitializeHandlers")
	}
	app.Routes(router)
}

// Shutdown releases everything InitializeHandlers created.
func Shutdown() {
	if app != nil {
		app.Close()
	}
}

// Build wires the relay from cfg.
func Build(ctx context.Context, cfg *relayconfig.Config) (*App, error) {
	a := &App{
		Stage:     cfg.Stage,
		Window:    cfg.AuthWindow,
		Sponsor:   cfg.Sponsor,
		ChainName: cfg.Action.ChainName,
		Limiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	a.closers = append(a.closers, a.Limiter.Stop)

	gate, err := buildGate(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	ts, err := signer.NewGRPCSigner(signer.GRPCConfig{
		Addr:         cfg.SignerAddr,
		RPCTimeout:   cfg.SignerTimeout,
		UseLocalMode: cfg.SignerLocalMode,
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to create signer client")
	}
	a.closers = append(a.closers, func() { _ = ts.Close() })

	validator := authz.NewValidator(authz.WithWindow(cfg.AuthWindow), authz.WithClockSkew(cfg.ClockSkew))

	registerFor, err := actions.RegisterFor(cfg.Action)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to build register_for action")
	}
	registryActions, err := actions.NewRegistry(registerFor)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to build action registry")
	}

	connector := &chain.GatedConnector{
		ChainName:   cfg.Action.ChainName,
		URLTemplate: cfg.RPCTemplate,
		Gate:        gate,
		Sealed:      cfg.RPCSealedKey,
	}

	r, err := relay.New(relay.Config{
		Sponsor:              cfg.Sponsor,
		KeyID:                cfg.SigningKeyID,
		AllowMissingRecovery: cfg.AllowMissingRecovery,
	}, registryActions, validator, connector, ts)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to create relay")
	}

	hub, err := a.buildHub(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Cluster = relay.NewCluster(r, hub, cfg.Redundancy,
		relay.WithAudit(publisher),
		relay.WithSponsorLock(sponsorlock.New()),
		relay.WithNodeIndex(cfg.NodeIndex),
	)

	if cfg.NameRegistryURL != "" {
		client, err := registry.NewClient(registry.Config{
			BaseURL:      cfg.NameRegistryURL,
			Gate:         gate,
			SealedAPIKey: cfg.NameRegistryAPIKey,
		})
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "failed to create name registry client")
		}
		tracker := tasks.NewTracker(tasks.WithCategorizer(func(err error) string {
			return string(relayerr.CategoryOf(err))
		}))
		a.closers = append(a.closers, func() {
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := tracker.Wait(waitCtx); err != nil {
				logger.Warn("Background tasks still running at shutdown", zap.Error(err))
			}
		})
		a.Names = relay.NewNames(validator, client, a.Cluster, tracker)
	}

	if cfg.OperatorAPIKey != nil {
		sealed := *cfg.OperatorAPIKey
		a.OperatorKey = func(ctx context.Context) (string, error) {
			cred, err := gate.Release(ctx, sealed)
			if err != nil {
				return "", err
			}
			return cred.Reveal(), nil
		}
	}

	logger.Annotate(zap.String("sponsor", cfg.Sponsor.Hex()), zap.String("chain", cfg.Action.ChainName))
	logger.Info("Relay ready",
		zap.String("contract", cfg.Action.Contract.Hex()),
		zap.Int("redundancy", cfg.Redundancy),
		zap.String("quorum_backend", cfg.QuorumBackend),
		zap.Bool("names_enabled", a.Names != nil),
		zap.Bool("message_signing_enabled", a.OperatorKey != nil),
	)
	return a, nil
}

func buildGate(ctx context.Context, cfg *relayconfig.Config) (*secrets.Gate, error) {
	var (
		program secrets.Program
		err     error
	)
	if cfg.ProgramHash != "" {
		program, err = secrets.ProgramFromHash(cfg.ProgramHash)
	} else {
		program, err = secrets.CurrentProgram()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to identify running program")
	}

	secretsClient, err := awsclient.NewSecretsManagerClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize AWS Secrets Manager client")
	}
	keys := secrets.NewSecretsManagerKey(secretsClient, relayconfig.EnvGateMasterKeyARN, relayconfig.EnvGateMasterKey)

	logger.Info("Secret gate ready", zap.String("program_hash", program.Hash))
	return secrets.NewGate(keys, program), nil
}

func (a *App) buildHub(ctx context.Context, cfg *relayconfig.Config) (quorum.Hub, error) {
	if cfg.QuorumBackend != constants.QuorumBackendRedis {
		return quorum.NewLocalHub(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid REDIS_URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to reach redis")
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	// Shared results must outlive every retry of a still-valid authorization
	// and may expire once it cannot validate anymore.
	return quorum.NewRedisHub(client, quorum.WithResultTTL(cfg.AuthWindow+cfg.ClockSkew)), nil
}

func buildPublisher(ctx context.Context, cfg *relayconfig.Config) (audit.Publisher, error) {
	if cfg.AuditQueueURL == "" {
		return audit.NewLogPublisher(), nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load AWS SDK config")
	}
	return audit.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.AuditQueueURL), nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Routes registers middleware and every relay endpoint.
func (a *App) Routes(router *gin.Engine) {
	router.Use(configureCORS())
	router.Use(middleware.CorrelationIDMiddleware())

	isDevelopment := os.Getenv("GIN_MODE") != "release"
	router.Use(middleware.EnhancedLoggingMiddleware(isDevelopment))
	if !isDevelopment {
		router.Use(middleware.RequestLoggingMiddleware())
	}

	health := handlers.NewHealthHandler(a.Sponsor.Hex(), a.ChainName)
	router.GET("/health", health.Health)

	v1 := router.Group("/api/v1")
	if a.Limiter != nil {
		v1.Use(a.Limiter.Middleware())
	}

	relayHandler := handlers.NewRelayHandler(a.Cluster, a.Window)
	v1.POST("/actions/register-for", middleware.ValidateInput(middleware.RegisterForValidation), relayHandler.RegisterFor)
	v1.POST("/actions/:action", middleware.ValidateInput(middleware.ActionValidation), relayHandler.Action)

	if a.OperatorKey != nil {
		messageHandler := handlers.NewMessageHandler(a.Cluster)
		v1.POST("/messages/sign",
			middleware.RequireAPIKey(a.OperatorKey),
			middleware.ValidateInput(middleware.SignMessageValidation),
			messageHandler.SignMessage,
		)
	}

	if a.Names != nil {
		nameHandler := handlers.NewNameHandler(a.Names, a.Window)
		v1.POST("/names", middleware.ValidateInput(middleware.RegisterNameValidation), nameHandler.Register)
		v1.GET("/tasks/:id", middleware.ValidatePathParam(middleware.TaskIDValidation), nameHandler.Task)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":       false,
			"error":    "route not found",
			"category": relayerr.CategoryValidation,
			"code":     "not_found",
		})
	})
}

func splitEnv(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	corsConfig.AllowMethods = splitEnv("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	corsConfig.AllowHeaders = splitEnv("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-API-Key", "X-Correlation-ID"})
	corsConfig.ExposeHeaders = splitEnv("CORS_EXPOSED_HEADERS", []string{
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
		"Retry-After",
		"X-Correlation-ID",
	})
	corsConfig.AllowCredentials = os.Getenv("CORS_ALLOW_CREDENTIALS") == "true"
	return cors.New(corsConfig)
}
