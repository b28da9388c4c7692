// @title           MeshForge Backend API
// @version         1.0.0
// @description     Backend API for turning 2D images into downloadable 3D assets. Handles generation task submission, credit accounting, vendor callbacks, asset finalization and per-format rendition downloads.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"log"
	"net/http"

	"meshforge-backend/internal/config"
	"meshforge-backend/internal/credits"
	"meshforge-backend/internal/database"
	"meshforge-backend/internal/handlers"
	"meshforge-backend/internal/middleware"
	"meshforge-backend/internal/services"
	"meshforge-backend/internal/storage"
	"meshforge-backend/internal/supabase"
	"meshforge-backend/internal/tripo"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	// Run migrations before anything touches the schema
	migrator, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Run(); err != nil {
		migrator.Close()
		log.Fatalf("Migration failed: %v", err)
	}
	migrator.Close()
	log.Println("Migrations completed successfully")

	// Database client for direct queries
	dbClient, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database client: %v", err)
	}
	defer dbClient.Close()

	// Vendor client with a token store; the database-backed store survives
	// restarts and is shared across instances.
	var tokenStore tripo.TokenStore
	if cfg.TripoTokenStore == "memory" {
		tokenStore = tripo.NewMemoryTokenStore()
	} else {
		tokenStore = tripo.NewDBTokenStore(dbClient.DB())
	}

	vendorCfg := tripo.Config{
		BaseURL:         cfg.TripoBaseURL,
		AuthURL:         cfg.TripoAuthURL,
		AuthFallbackURL: cfg.TripoAuthFallbackURL,
		AppID:           cfg.TripoAppID,
		AppSecret:       cfg.TripoAppSecret,
		Referer:         cfg.TripoReferer,
		Origin:          cfg.TripoOrigin,
		UserAgent:       cfg.TripoUserAgent,
		TokenTTL:        cfg.TripoTokenTTL,
	}
	vendorClient := tripo.NewClient(vendorCfg, tokenStore)
	prober := tripo.NewProber(vendorCfg)

	// Supabase clients
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabasePublishableKey)
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}
	realtimeClient := supabase.NewRealtimeClient(supabaseClient.Supabase)

	storageClient, err := storage.NewClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, cfg.SupabaseStorageBucket)
	if err != nil {
		log.Fatalf("Failed to initialize storage client: %v", err)
	}

	// Services
	ledger := credits.NewLedger(dbClient.DB())
	finalizer := services.NewFinalizer(dbClient, vendorClient, prober, storageClient, realtimeClient, services.Options{
		InstantReady: cfg.InstantReadyRenditions,
		VendorHeaders: map[string]string{
			"Referer":    cfg.TripoReferer,
			"Origin":     cfg.TripoOrigin,
			"User-Agent": cfg.TripoUserAgent,
		},
	})

	sweeper := services.NewSweeper(finalizer, dbClient, cfg.SweepMinAge)
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Handlers
	tasksHandler := handlers.NewTasksHandler(dbClient, vendorClient, ledger, finalizer, cfg.WebhookCallbackURL, cfg.TaskCreditsBase)
	assetsHandler := handlers.NewAssetsHandler(dbClient, ledger)
	renditionsHandler := handlers.NewRenditionsHandler(dbClient, finalizer)
	downloadHandler := handlers.NewDownloadHandler(dbClient, storageClient)
	webhookHandler := handlers.NewWebhookHandler(finalizer, cfg.TripoWebhookToken)

	// Setup router
	router := gin.Default()

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	// Generation tasks
	api.POST("/tasks", tasksHandler.Submit)
	api.GET("/tasks/:task_id", tasksHandler.GetStatus)
	api.POST("/tasks/:task_id/finalize", tasksHandler.Finalize)

	// Assets and renditions
	api.GET("/assets/:asset_uuid", assetsHandler.Get)
	api.POST("/assets/:asset_uuid/renditions", renditionsHandler.Request)
	api.GET("/assets/:asset_uuid/renditions", renditionsHandler.List)
	api.GET("/assets/:asset_uuid/download", downloadHandler.Download)

	// Profile
	api.GET("/profile/credits", assetsHandler.GetCredits)

	// Webhook (no auth, shared token)
	router.POST("/api/v1/webhooks/tripo", webhookHandler.HandleCallback)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
