package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"permission-service/internal/cache"
	"permission-service/internal/config"
	mongodb "permission-service/internal/database/mongo"
	redisdb "permission-service/internal/database/redis"
	"permission-service/internal/events"
	"permission-service/internal/handlers"
	"permission-service/internal/hierarchy"
	"permission-service/internal/identity"
	"permission-service/internal/middleware"
	"permission-service/internal/repository"
	"permission-service/internal/service"
	"permission-service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/var", "log", "permission_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.ServiceConfig

	if err := mongodb.Connect(cfg.MongoDB); err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	redisdb.Connect(cfg.Redis)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Get("/health", func(c fiber.Ctx) error {
		if !mongodb.IsConnected() {
			return c.Status(fiber.StatusServiceUnavailable).SendString("Permission Service is degraded")
		}
		return c.Status(fiber.StatusOK).SendString("Permission Service is healthy")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Initialize repositories
	permissionRepo := repository.NewPermissionRepository(mongodb.Mongo_Database)
	delegationRepo := repository.NewDelegationRepository(mongodb.Mongo_Database)
	auditRepo := repository.NewAuditRepository(mongodb.Mongo_Database)

	// Create database indexes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := permissionRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create permission indexes: %v", err)
	}
	if err := delegationRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create delegation indexes: %v", err)
	}
	if err := auditRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create audit indexes: %v", err)
	}
	cancel()

	nodeStore := hierarchy.NewMongoNodeStore(mongodb.Mongo_Database)
	resolver := hierarchy.NewResolver(nodeStore, cfg.Engine.MaxHierarchyDepth)
	identityProvider := identity.NewMongoProvider(mongodb.Mongo_Database, cfg.Engine.AdminRoleName, cfg.Engine.MaxHierarchyDepth)

	var effectiveCache cache.EffectiveCache = cache.NewNoopCache()
	if redisdb.Redis_Client != nil {
		effectiveCache = cache.NewRedisCache(redisdb.Redis_Client, cfg.Engine.CacheTTL)
	}

	// Initialize event publisher
	var publisher events.Publisher
	eventPublisher, err := events.NewEventPublisher(cfg.RabbitMQ.URI, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
	} else {
		publisher = eventPublisher
	}

	// Initialize services
	effectiveService := service.NewEffectivePermissionService(permissionRepo, delegationRepo, resolver, identityProvider, effectiveCache)
	permissionService := service.NewPermissionService(permissionRepo, auditRepo, effectiveCache, nodeStore, publisher)
	inheritanceService := service.NewInheritanceService(permissionRepo, auditRepo, effectiveCache, nodeStore, resolver, publisher)
	delegationService := service.NewDelegationService(delegationRepo, effectiveService, auditRepo, effectiveCache, nodeStore, identityProvider, publisher)
	auditService := service.NewAuditService(auditRepo, cfg.Engine.AuditPageSize)

	// Initialize membership event consumer
	eventConsumer, err := events.NewEventConsumer(cfg.RabbitMQ.URI, cfg.RabbitMQ.QueueName, effectiveCache)
	if err != nil {
		log.Printf("Warning: Failed to initialize event consumer: %v", err)
	} else {
		if err := eventConsumer.Start(); err != nil {
			log.Printf("Warning: Failed to start event consumer: %v", err)
			eventConsumer.Close()
			eventConsumer = nil
		} else {
			log.Println("Successfully started membership event consumer")
		}
	}

	// Initialize and register handlers; the delegation routes carry a static
	// prefix and must be registered before the node param routes.
	auth := middleware.NewAuth(cfg.Server.JWTSecret, identityProvider)
	delegationHandler := handlers.NewDelegationHandler(delegationService, auth)
	delegationHandler.RegisterRoutes(app)
	permissionHandler := handlers.NewPermissionHandler(permissionService, effectiveService, inheritanceService, auditService, auth)
	permissionHandler.RegisterRoutes(app)

	serviceRegistry, err := discovery.NewServiceRegistry(cfg)
	if err != nil {
		log.Printf("Warning: Failed to create service registry: %v", err)
	} else {
		if err := serviceRegistry.Register(); err != nil {
			log.Printf("Warning: Failed to register with Consul: %v", err)
		}
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	if eventConsumer != nil {
		if err := eventConsumer.Close(); err != nil {
			log.Printf("Error closing event consumer: %v", err)
		}
	}

	if serviceRegistry != nil {
		if err := serviceRegistry.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	mongodb.DisconnectMongo()
	redisdb.Disconnect()

	<-doneChan
	log.Println("Server shutdown complete")
}
