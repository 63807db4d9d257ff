// kroot-orchestrator server - provides the investigation/session HTTP+SSE API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/database"
	"github.com/agentkube/kroot-orchestrator/pkg/events"
	"github.com/agentkube/kroot-orchestrator/pkg/investigation"
	"github.com/agentkube/kroot-orchestrator/pkg/kgroot"
	"github.com/agentkube/kroot-orchestrator/pkg/kgroot/k8sclient"
	"github.com/agentkube/kroot-orchestrator/pkg/masking"
	"github.com/agentkube/kroot-orchestrator/pkg/mcp"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
	"github.com/agentkube/kroot-orchestrator/pkg/session"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting kroot-orchestrator")
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("connected to PostgreSQL database, migrations applied")

	sessionMgr := session.NewManager(dbClient)
	taskStore := investigation.NewStore(dbClient)

	eventHub := events.NewHub(taskStore, envInt("EVENT_HUB_DEPTH", 256))
	if natsURL := os.Getenv("NATS_NOTIFY_URL"); natsURL != "" {
		relay := events.NewNotifyRelay(natsURL, eventHub)
		if err := relay.Start(ctx); err != nil {
			log.Printf("Warning: event notify relay disabled: %v", err)
		} else {
			eventHub.AttachRelay(relay)
			defer relay.Stop(ctx)
		}
	}

	maskingSvc := masking.NewMaskingService(cfg.MCPServerRegistry, masking.AlertMaskingConfig{
		Enabled:      cfg.Defaults.AlertMasking != nil && cfg.Defaults.AlertMasking.Enabled,
		PatternGroup: alertMaskingPatternGroup(cfg),
	})
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry, maskingSvc)

	var extractor *kgroot.Extractor
	if clusterAPIURL := os.Getenv("KGROOT_CLUSTER_API_URL"); clusterAPIURL != "" {
		extractor = kgroot.NewExtractor(k8sclient.NewHTTPClusterAPI(clusterAPIURL))
	}

	supervisor := investigation.NewSupervisor(taskStore, eventHub, cfg, mcpFactory, extractor)

	podID := getEnv("POD_ID", "kroot-0")
	poolCfg := investigation.Config{
		WorkerCount:        envInt("INVESTIGATION_WORKERS", 4),
		MaxConcurrentTasks: envInt("INVESTIGATION_MAX_CONCURRENT", 8),
		TaskTimeout:        30 * time.Minute,
		PollInterval:       2 * time.Second,
	}
	pool := investigation.NewWorkerPool(podID, taskStore, poolCfg, supervisor)
	pool.Start(ctx)
	defer pool.Stop()

	log.Println("investigation worker pool started")

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, dbClient.DB())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbHealth,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": dbHealth,
			"pool":     pool.Health(),
			"configuration": gin.H{
				"agents":        stats.Agents,
				"chains":        stats.Chains,
				"mcp_servers":   stats.MCPServers,
				"llm_providers": stats.LLMProviders,
			},
		})
	})

	router.POST("/api/v1/tasks", func(c *gin.Context) {
		var req models.InvestigationTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		task, err := taskStore.Create(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, task)
	})

	router.GET("/api/v1/tasks/:id", func(c *gin.Context) {
		task, err := taskStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, task)
	})

	router.GET("/api/v1/tasks/:task_id/events", events.ServeTaskStream(eventHub))

	router.GET("/api/v1/sessions/:id", func(c *gin.Context) {
		sess, err := sessionMgr.Get(c.Request.Context(), c.Param("id"), true)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	log.Printf("HTTP server listening on :%s", httpPort)
	log.Printf("Health check available at: http://localhost:%s/health", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

func alertMaskingPatternGroup(cfg *config.Config) string {
	if cfg.Defaults.AlertMasking == nil {
		return ""
	}
	return cfg.Defaults.AlertMasking.PatternGroup
}
