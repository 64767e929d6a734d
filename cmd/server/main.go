package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/recapbook/api/internal/auth"
	"github.com/recapbook/api/internal/cache"
	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/generation"
	"github.com/recapbook/api/internal/handler"
	"github.com/recapbook/api/internal/lock"
	"github.com/recapbook/api/internal/middleware"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
	"github.com/recapbook/api/internal/service"
	"github.com/recapbook/api/internal/store"
	"github.com/recapbook/api/internal/tracker"
	"github.com/recapbook/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisOK = false
	}

	// Artifact store
	var artifacts store.ArtifactStore
	switch cfg.Storage.Driver {
	case "r2":
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Fatalf("Failed to initialize R2 client: %v", err)
		}
		artifacts = store.NewR2Store(r2Client, cfg.R2.Prefix)
		log.Printf("Artifact store: r2 (bucket=%s)", cfg.R2.BucketName)
	default:
		fsStore, err := store.NewFSStore(cfg.Storage.Root)
		if err != nil {
			log.Fatalf("Failed to initialize artifact store: %v", err)
		}
		artifacts = fsStore
		log.Printf("Artifact store: fs (%s)", cfg.Storage.Root)
	}

	// Run lifecycle state lives in Redis when it is reachable
	var events tracker.EventLog = tracker.NewMemoryLog()
	if redisOK {
		events = tracker.NewRedisLog(redisClient)
	} else {
		log.Printf("Warning: run events kept in memory only")
	}
	runTracker := tracker.New(events, artifacts, cfg.Pipeline.PollInterval)

	var statusCache cache.Cache = cache.NewMemoryCache()
	if cfg.Status.Cache == "redis" && redisOK {
		statusCache = cache.NewRedisCache(redisClient, "recap:")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Pipeline.Lock == "redis" && redisOK {
		locker = lock.NewRedisLocker(redisClient, cfg.Pipeline.LockTTL)
	}

	// Section plans
	plans, err := plan.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load section plans: %v", err)
	}

	// Text generation
	groqClient := client.NewGroqClient(&cfg.Groq, &cfg.LLM)
	openaiClient := client.NewOpenAIClient(&cfg.OpenAI, &cfg.LLM)
	generator := client.NewTextGenerator(cfg.LLM.Provider, groqClient, openaiClient)
	if _, mock := generator.(client.MockGenerator); mock {
		log.Printf("Warning: %s provider not configured, using mock text generator", cfg.LLM.Provider)
	}
	scheduler := generation.NewScheduler(generator, generation.NewGate(cfg.Quality), cfg.Pipeline)

	// Initialize services
	buildService := service.NewBuildService(runTracker, artifacts, plans, scheduler, locker, statusCache, cfg)
	localDispatcher := service.NewLocalDispatcher(buildService)
	buildService.SetDispatcher(localDispatcher)

	var workerServer *asynq.Server
	if cfg.Pipeline.Dispatch == "asynq" && redisOK {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()

		buildService.SetDispatcher(service.NewAsynqDispatcher(asynqClient))
		workerServer = startWorkerServer(redisOpt, cfg.Server.LogLevel, buildService)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize handlers
	runHandler := handler.NewRunHandler(buildService, validate)

	// Initialize middleware
	principal := middleware.GatewayPrincipal()
	if !cfg.Gateway.Enabled {
		principal = middleware.Principal(newVerifier(cfg))
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisOK,
				"storage":  cfg.Storage.Driver,
				"llm":      cfg.LLM.Provider,
				"dispatch": cfg.Pipeline.Dispatch,
			},
		})
	})

	// API routes
	api := app.Group("/api", principal)

	api.Post("/runs", runHandler.Create)
	api.Post("/runs/:runId/build", rateLimiter.BuildLimit(cfg.RateLimit.BuildPerHour), runHandler.Build)
	api.Get("/runs/:runId/status", runHandler.Status)
	api.Get("/runs/:runId/document", runHandler.Document)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if workerServer != nil {
		workerServer.Shutdown()
	}
	log.Println("Waiting for in-flight builds...")
	localDispatcher.Wait()
}

// newVerifier chains the identity provider's JWKS verifier with the local
// HMAC verifier. Either may be absent.
func newVerifier(cfg *config.Config) auth.Verifier {
	var chain auth.Chain
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier unavailable: %v", err)
		} else {
			chain = append(chain, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	if len(chain) == 0 {
		log.Printf("Warning: no token verifier configured, bearer tokens will be rejected")
		return nil
	}
	return chain
}

func startWorkerServer(redisOpt asynq.RedisClientOpt, logLevel string, runner service.Runner) *asynq.Server {
	level := asynq.InfoLevel
	if err := level.Set(logLevel); err != nil {
		log.Printf("Warning: unknown log level %q, using info", logLevel)
		level = asynq.InfoLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		LogLevel:    level,
		Queues: map[string]int{
			"build": 1,
		},
	})

	buildWorker := worker.NewBuildWorker(runner)

	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeBuild, buildWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
