package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"room-chat/internal/accounts"
	"room-chat/internal/admission"
	"room-chat/internal/auth"
	"room-chat/internal/config"
	"room-chat/internal/db"
	"room-chat/internal/docstore"
	"room-chat/internal/feed"
	grpcserver "room-chat/internal/grpc"
	"room-chat/internal/handlers"
	"room-chat/internal/middleware"
	"room-chat/internal/observability"
	"room-chat/internal/presence"
	"room-chat/internal/rabbitmq"
	"room-chat/internal/repositories"
	"room-chat/internal/session"
	"room-chat/internal/telemetry"
	"room-chat/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", cfg.ServiceName).Str("instance", cfg.InstanceID).Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	redisClient, err := presence.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Env, logger)
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("event publisher ready")

	bus := feed.NewBus()
	var relay *feed.AMQPRelay
	if cfg.AMQPURL != "" {
		relay, err = feed.NewAMQPRelay(cfg.AMQPURL, cfg.FeedExchange, cfg.InstanceID, bus, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("feed relay disabled, changes stay local to this instance")
			relay = nil
		} else {
			defer relay.Close()
		}
	}

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	store := docstore.New(roomRepo, messageRepo, userRepo, bus, cfg.CallTimeout, logger)
	presenceStore := presence.NewStore(redisClient, logger)

	var federated auth.FederatedVerifier
	if cfg.FederatedEnabled() {
		federated = auth.NewJWTFederatedVerifier(cfg.FederatedIssuer, cfg.FederatedSecret)
	}
	provider := auth.NewProvider(auth.ProviderOptions{
		Users:       userRepo,
		Hasher:      auth.NewPasswordHasher(bcrypt.DefaultCost),
		Tokens:      auth.NewTokenManager(cfg.JWTSecret, cfg.ServiceName, cfg.TokenTTL),
		Federated:   federated,
		Revocations: auth.NewRedisRevocations(redisClient),
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
	})

	admissionService, err := admission.NewService(store, logger)
	if err != nil {
		return err
	}
	accountService := accounts.NewService(provider, store, logger)
	orchestrator := session.NewOrchestrator(store, presenceStore, cfg.CallTimeout, logger)

	hub := ws.NewHub()
	cancelIdentity := provider.OnIdentityChange(func(ev auth.IdentityEvent) {
		if ev.Kind == auth.EventSignedOut || ev.Kind == auth.EventDeleted {
			n := hub.CloseUser(ev.UserID, string(ev.Kind))
			logger.Info().Str("user_id", ev.UserID).Str("event", string(ev.Kind)).Int("connections", n).Msg("identity change ended live sessions")
		}
	})
	defer cancelIdentity()

	authHandler := handlers.NewAuthHandler(provider, audit)
	accountHandler := handlers.NewAccountHandler(provider, accountService, audit)
	roomHandler := handlers.NewRoomHandler(admissionService, store, presenceStore, provider, logger)
	roomWS := ws.NewRoomWebSocketHandler(hub, provider, orchestrator, presenceStore, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(checkCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := presenceStore.Ping(checkCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	authMiddleware := middleware.AuthMiddleware(provider)

	router.POST("/auth/signup", authHandler.SignUp)
	router.POST("/auth/login", authHandler.Login)
	router.POST("/auth/federated", authHandler.Federated)
	router.POST("/auth/logout", authMiddleware, authHandler.Logout)

	router.GET("/me", authMiddleware, accountHandler.Me)
	router.PATCH("/me/display-name", authMiddleware, accountHandler.ChangeDisplayName)
	router.DELETE("/me", authMiddleware, accountHandler.DeleteAccount)

	router.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	router.POST("/rooms/join", authMiddleware, roomHandler.JoinRoom)
	router.GET("/rooms/:room_id", authMiddleware, roomHandler.GetRoom)
	router.DELETE("/rooms/:room_id", authMiddleware, roomHandler.DeleteRoom)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.ListMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, roomHandler.PostMessage)
	router.GET("/rooms/:room_id/presence", authMiddleware, roomHandler.Presence)

	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := grpcserver.NewHealthServer(map[string]grpcserver.CheckFunc{
		"db":    database.PingContext,
		"redis": presenceStore.Ping,
	}, 2*time.Second, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return health.Run(gctx, ":"+cfg.GRPCPort, 15*time.Second)
	})
	g.Go(func() error {
		return presenceStore.RunReaper(gctx, cfg.ReapInterval, cfg.PresenceStaleAfter)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}
