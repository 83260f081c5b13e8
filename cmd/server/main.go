package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/voice2action/voice2action/internal/cleanup"
	"github.com/voice2action/voice2action/internal/config"
	"github.com/voice2action/voice2action/internal/export"
	"github.com/voice2action/voice2action/internal/handlers"
	"github.com/voice2action/voice2action/internal/pipeline"
	"github.com/voice2action/voice2action/internal/stage"
	"github.com/voice2action/voice2action/internal/storage"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cleanup.EnsureTempDir(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}

	logBuffer := &LogBuffer{lines: make([]string, 0, 1000)}
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	log.Println("Initializing components...")

	// Durable store + transient cache
	db, err := storage.NewDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	store := storage.NewStore(db)

	// Stage adapters
	openaiClient, err := stage.NewOpenAIClient(stage.OpenAIConfig{
		APIKey:            cfg.OpenAI.APIKey,
		TranscribeModel:   cfg.OpenAI.TranscribeModel,
		AnalysisModel:     cfg.OpenAI.AnalysisModel,
		TranscribeTimeout: time.Duration(cfg.OpenAI.TranscribeTimeout) * time.Second,
		AnalysisTimeout:   time.Duration(cfg.OpenAI.AnalysisTimeout) * time.Second,
		RetryAttempts:     cfg.OpenAI.RetryAttempts,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI client: %v", err)
	}

	// Export targets (each optional; missing credentials disable a target)
	coordinator := export.NewCoordinator(store, time.Duration(cfg.Export.TimeoutSeconds)*time.Second)
	ctx := context.Background()

	if cfg.Google.CredentialsFile != "" {
		if _, err := os.Stat(cfg.Google.CredentialsFile); err == nil {
			if docsTarget, err := export.NewGoogleDocsTarget(ctx, cfg.Google.CredentialsFile); err != nil {
				log.Printf("WARNING: Google Docs export not available: %v", err)
			} else {
				coordinator.Register(docsTarget)
			}
			if sheetsTarget, err := export.NewGoogleSheetsTarget(ctx, cfg.Google.CredentialsFile); err != nil {
				log.Printf("WARNING: Google Sheets export not available: %v", err)
			} else {
				coordinator.Register(sheetsTarget)
			}
		} else {
			log.Println("Google credentials not found - document/spreadsheet export disabled")
		}
	}

	if cfg.Jira.URL != "" && cfg.Jira.APIToken != "" {
		if jiraTarget, err := export.NewJiraTarget(cfg.Jira.URL, cfg.Jira.Email,
			cfg.Jira.APIToken, cfg.Jira.ProjectKey); err != nil {
			log.Printf("WARNING: Jira export not available: %v", err)
		} else {
			coordinator.Register(jiraTarget)
		}
	} else {
		log.Println("Jira credentials not found - ticket export disabled")
	}

	log.Printf("Export targets available: %v", coordinator.Available())

	// Pipeline runner
	runner := pipeline.NewRunner(store, openaiClient, openaiClient,
		coordinator, cfg.Pipeline.AutoExports, cfg.Pipeline.MaxConcurrent)

	// Cleanup scheduler for orphaned uploads
	cleanupScheduler := cleanup.NewScheduler(cfg.Storage.TempDir,
		cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(store, runner, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB)
	jobsHandler := handlers.NewJobsHandler(store)
	exportHandler := handlers.NewExportHandler(store, coordinator)
	progressHandler := handlers.NewProgressHandler(store)

	app.Get("/health", func(c *fiber.Ctx) error {
		dbOK := store.Ping() == nil
		status := "healthy"
		if !dbOK {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"services": fiber.Map{
				"database":       dbOK,
				"openai":         true,
				"export_targets": coordinator.Available(),
			},
			"statistics": fiber.Map{
				"active_jobs": store.ActiveCount(),
			},
		})
	})

	app.Post("/api/process-audio", uploadHandler.Handle)
	app.Get("/api/status/:id", jobsHandler.Status)
	app.Get("/api/jobs", jobsHandler.List)
	app.Get("/api/jobs/:id", jobsHandler.Get)
	app.Get("/api/jobs/:id/transcript", jobsHandler.Transcript)
	app.Get("/api/jobs/:id/analysis", jobsHandler.Analysis)
	app.Delete("/api/jobs/:id", jobsHandler.Delete)
	app.Get("/api/search", jobsHandler.Search)
	app.Get("/api/stats", jobsHandler.Stats)
	app.Post("/api/export", exportHandler.Handle)
	app.Get("/ws/jobs/:id", websocket.New(progressHandler.Handle))

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"logs": logBuffer.GetLogs()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /api/process-audio    - Upload audio for processing")
	log.Println("   GET    /api/status/:id       - Poll job status")
	log.Println("   GET    /api/jobs             - List jobs")
	log.Println("   GET    /api/jobs/:id         - Full job details")
	log.Println("   POST   /api/export           - Export results")
	log.Println("   GET    /api/search           - Search transcripts")
	log.Println("   GET    /api/stats            - Aggregate statistics")
	log.Println("   GET    /ws/jobs/:id          - Live progress stream")
	log.Println("   GET    /health               - Health check")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// LogBuffer captures recent log lines for the /logs endpoint.
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}
	return len(p), nil
}

// GetLogs returns a copy of the buffered lines.
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
