package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/internal/bootstrap"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/interfaces/middleware"
	"github.com/flowdesk/backend/internal/interfaces/rest"
)

func main() {
	// Local development convenience; deployed environments set real env vars
	if err := godotenv.Load(); err == nil {
		log.Println("📦 Loaded .env file")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	if err := bootstrap.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	svcMgr, err := services.NewServiceManager(db)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	log.Println("🔧 Service manager initialized")

	if err := bootstrap.InitializeSystemData(db, svcMgr); err != nil {
		log.Fatalf("Failed to initialize system data: %v", err)
	}

	router := gin.Default()
	router.Use(middleware.Cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	authHandler := rest.NewAuthHandler(svcMgr)
	orgHandler := rest.NewOrgHandler(svcMgr)
	billingHandler := rest.NewBillingHandler(svcMgr)
	integrationHandler := rest.NewIntegrationHandler(svcMgr)
	instanceHandler := rest.NewInstanceHandler(svcMgr)
	memoryHandler := rest.NewMemoryHandler(svcMgr)
	adminHandler := rest.NewAdminHandler(svcMgr)

	requireAuth := middleware.RequireAuth(svcMgr.Auth)
	requireActiveOrg := middleware.RequireActiveOrg()
	// Credential-guessing protection on the anonymous auth endpoints
	authLimiter := middleware.RateLimit(5, 10)
	// Per-user cap on the authenticated API
	userLimiter := middleware.RateLimitPerUser(20, 40)

	authRoutes := router.Group("/api/auth")
	{
		authRoutes.POST("/signup", authLimiter, authHandler.Signup)
		authRoutes.POST("/login", authLimiter, authHandler.Login)
		authRoutes.POST("/logout", requireAuth, authHandler.Logout)
		authRoutes.GET("/me", requireAuth, authHandler.GetMe)
		authRoutes.POST("/change-password", requireAuth, authHandler.ChangePassword)
	}

	orgRoutes := router.Group("/api/orgs", requireAuth, userLimiter)
	{
		orgRoutes.POST("", orgHandler.CreateOrg)
		orgRoutes.GET("", orgHandler.ListOrgs)
		orgRoutes.GET("/:id", orgHandler.GetOrg)
		orgRoutes.GET("/:id/members", orgHandler.ListMembers)
		orgRoutes.POST("/:id/members", orgHandler.AddMember)
		orgRoutes.DELETE("/:id/members/:userId", orgHandler.RemoveMember)
		orgRoutes.POST("/:id/switch", orgHandler.SwitchOrg)
	}

	billingRoutes := router.Group("/api/billing")
	{
		// Webhook authenticates via payload signature, not a session
		billingRoutes.POST("/webhook", billingHandler.Webhook)
		billingRoutes.GET("/subscription", requireAuth, userLimiter, requireActiveOrg, billingHandler.GetSubscription)
	}

	integrationRoutes := router.Group("/api/integrations")
	{
		integrationRoutes.POST("/webhook", integrationHandler.BrokerWebhook)

		protected := integrationRoutes.Group("", requireAuth, userLimiter, requireActiveOrg)
		protected.POST("/connect", integrationHandler.StartConnect)
		protected.GET("", integrationHandler.ListConnections)
		protected.PUT("/:id/filter", integrationHandler.UpdateEventFilter)
		protected.DELETE("/:id", integrationHandler.RevokeConnection)
	}

	instanceRoutes := router.Group("/api/instances", requireAuth, userLimiter, requireActiveOrg)
	{
		instanceRoutes.POST("", instanceHandler.RequestInstance)
		instanceRoutes.GET("", instanceHandler.ListInstances)
		instanceRoutes.GET("/:id", instanceHandler.GetInstance)
		instanceRoutes.POST("/:id/retry", instanceHandler.RetryInstance)
		instanceRoutes.DELETE("/:id", instanceHandler.DeprovisionInstance)
	}

	memoryRoutes := router.Group("/api/memory", requireAuth, userLimiter, requireActiveOrg)
	{
		memoryRoutes.POST("", memoryHandler.AddMemory)
		memoryRoutes.POST("/search", memoryHandler.SearchMemory)
		memoryRoutes.GET("", memoryHandler.ListMemory)
		memoryRoutes.DELETE("/:id", memoryHandler.DeleteMemory)
	}

	adminRoutes := router.Group("/api/admin", requireAuth, middleware.RequirePlatformAdmin())
	{
		adminRoutes.POST("/instances/sweep", adminHandler.SweepInstances)
		adminRoutes.POST("/outbox/cleanup", adminHandler.CleanupOutbox)
	}

	svcMgr.StartWorkers()
	log.Println("📤 Outbox event worker started (500ms polling)")
	log.Println("⏰ Scheduler service started (60s polling)")

	log.Println("🚀 FlowDesk backend started")
	log.Printf("📍 Server:       http://localhost:%s", port)
	log.Printf("🔐 Auth API:     http://localhost:%s/api/auth", port)
	log.Printf("💚 Health check: http://localhost:%s/health", port)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	svcMgr.StopWorkers()
	log.Println("🛑 Background workers stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
