package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-core/internal/channel"
	"chat-core/internal/config"
	"chat-core/internal/delivery"
	"chat-core/internal/directory"
	"chat-core/internal/handlers"
	"chat-core/internal/middleware"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/telemetry"
	"chat-core/internal/typing"
	"chat-core/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	if publisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
		log.Printf("event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(publisher)
		defer publisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))

	sessionID := cfg.UserID + "@" + cfg.Port
	emitter := telemetry.NewAuditEmitter(auditPublisher, "audit_log.chatcore", "chat-core", cfg.Environment, sessionID)

	directoryClient := upstream.NewDirectoryClient(cfg.DirectoryBaseURL, cfg.SessionToken, cfg.RequestTimeout)
	historyClient := upstream.NewHistoryClient(cfg.HistoryBaseURL, cfg.SessionToken, cfg.RequestTimeout)
	submitClient := upstream.NewSubmitClient(cfg.SubmitBaseURL, cfg.SessionToken, cfg.RequestTimeout)
	userClient := upstream.NewUserClient(cfg.UserBaseURL, cfg.SessionToken, cfg.RequestTimeout)

	manager := channel.NewManager(channel.Config{
		URL:              cfg.PushURL,
		Token:            cfg.SessionToken,
		UserID:           cfg.UserID,
		SessionID:        sessionID,
		ReconnectBase:    cfg.ReconnectBase,
		ReconnectCap:     cfg.ReconnectCap,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, channel.NewWebsocketDialer())
	manager.OnAuthFailure(func(err error) {
		emitter.Emit(context.Background(), "ERROR", "push channel session rejected, renewal required", "", cfg.UserID)
	})

	tracker := typing.NewTracker(manager, cfg.UserID, cfg.TypingTTL, cfg.TypingDebounce)
	orchestrator := delivery.New(cfg.UserID, historyClient, submitClient, manager, tracker, cfg.PageSize, cfg.PollInterval)
	directoryService := directory.NewService(directoryClient, userClient, cfg.UserID, cfg.NameCacheTTL)

	manager.Connect()
	defer manager.Disconnect()
	go orchestrator.Run(ctx)

	sessionHandler := handlers.NewSessionHandler(orchestrator, directoryService, emitter, cfg.UserID, cfg.PageSize)

	router := gin.Default()
	router.Use(otelgin.Middleware("chat-core"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.SessionAuth(cfg.SessionToken)
	api := router.Group("/", authMiddleware)
	api.GET("/conversations", sessionHandler.ListConversations)
	api.POST("/conversations/:conversation_id/open", sessionHandler.OpenConversation)
	api.POST("/conversations/:conversation_id/close", sessionHandler.CloseConversation)
	api.GET("/conversations/:conversation_id/messages", sessionHandler.GetMessages)
	api.POST("/conversations/:conversation_id/messages", sessionHandler.PostMessage)
	api.GET("/conversations/:conversation_id/typing", sessionHandler.GetTyping)
	api.POST("/conversations/:conversation_id/typing", sessionHandler.PostTyping)
	api.GET("/connection", sessionHandler.GetConnection)

	handlers.RegisterDebugRoutes(router, emitter, cfg.UserID, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
