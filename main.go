package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"collab-service/internal/chat"
	"collab-service/internal/community"
	"collab-service/internal/config"
	"collab-service/internal/db"
	"collab-service/internal/dispatch"
	"collab-service/internal/grpcserver"
	"collab-service/internal/handlers"
	"collab-service/internal/identity"
	"collab-service/internal/middleware"
	"collab-service/internal/observability"
	"collab-service/internal/orderedlist"
	"collab-service/internal/permissions"
	"collab-service/internal/rabbitmq"
	"collab-service/internal/repositories"
	"collab-service/internal/telemetry"
	"collab-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()
	store := repositories.NewPgStore(database)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("amqp publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, cfg.ServiceName, cfg.Environment)

	hub := ws.NewHub()
	if cfg.RedisURL != "" {
		relay, err := ws.NewRedisRelay(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer relay.Close()
		hub.SetRelay(relay)
		go relay.Run(ctx, hub)
	}

	lists := orderedlist.New(cfg.ListMaxDepth)
	gate := permissions.NewGate()
	dispatcher := dispatch.New(store, gate, hub, dispatch.WithPublisher(publisher), dispatch.WithAudit(audit))
	chat.Register(dispatcher, chat.NewEngine())
	community.Register(dispatcher, community.NewService(lists, community.Limits{
		CommunitiesPerUser:     cfg.MaxCommunitiesPerUser,
		CategoriesPerCommunity: cfg.MaxCategoriesPerCommunity,
		ChannelsPerCategory:    cfg.MaxChannelsPerCategory,
		RolesPerCommunity:      cfg.MaxRolesPerCommunity,
	}))
	log.Printf("registered %d realtime events", len(dispatcher.Events()))

	resolver := identity.NewJWTResolver(cfg.JWTSecret)
	wsHandler := ws.NewHandler(hub, dispatcher, resolver, cfg.SendBuffer)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)

	authed := router.Group("/", middleware.AuthMiddleware(resolver))
	handlers.NewHandler(store, gate, lists).Register(authed)
	handlers.RegisterDebugRoutes(authed, audit, cfg.DebugRoutes)

	grpcSrv, err := grpcserver.New(":" + cfg.GRPCPort)
	if err != nil {
		log.Fatalf("failed to start grpc: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(ctx); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("collab-service listening on :%s", cfg.Port)

	<-ctx.Done()
	log.Printf("shutting down")
	grpcSrv.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
