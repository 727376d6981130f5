package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/givebridge/messaging/internal/api"
	"github.com/givebridge/messaging/internal/auth"
	"github.com/givebridge/messaging/internal/database"
	"github.com/givebridge/messaging/internal/logger"
	"github.com/givebridge/messaging/internal/notify"
	"github.com/givebridge/messaging/internal/profile"
	"github.com/givebridge/messaging/internal/service"
	"github.com/givebridge/messaging/internal/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	if !logger.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// The HMAC secret is shared with the identity service that issues
	// session tokens.
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	auth.InitJWTKey([]byte(jwtSecret))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := database.NewDatabase(database.PostgreSQL, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database successfully")

	// Delivery channel
	hub := ws.NewHub(db)
	go hub.Run()

	// External collaborators
	notifier := notify.NewClient(os.Getenv("NOTIFY_SERVICE_URL"))
	profiles := profile.NewClient(os.Getenv("PROFILE_SERVICE_URL"))

	// Orchestrator; also dispatches channel-initiated sends
	svc := service.New(db, hub, hub, notifier, profiles)
	hub.SetDispatcher(svc)

	router := gin.Default()

	allowedOrigins := strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	conversationHandler := api.NewConversationHandler(svc)
	messageHandler := api.NewMessageHandler(svc)

	authorized := router.Group("/api")
	authorized.Use(api.AuthMiddleware())
	{
		authorized.GET("/conversations", conversationHandler.ListConversations)
		authorized.POST("/conversations", conversationHandler.CreateConversation)
		authorized.GET("/conversations/:conversationID", conversationHandler.GetConversation)
		authorized.GET("/conversations/:conversationID/messages", conversationHandler.ListMessages)
		authorized.PATCH("/conversations/:conversationID/read", conversationHandler.MarkConversationRead)
		authorized.DELETE("/conversations/:conversationID", conversationHandler.DeactivateConversation)

		authorized.POST("/messages", messageHandler.SendMessage)
		authorized.PATCH("/messages/:messageID", messageHandler.EditMessage)
		authorized.DELETE("/messages/:messageID", messageHandler.DeleteMessage)
		authorized.PATCH("/messages/:messageID/read", messageHandler.MarkMessageRead)
		authorized.GET("/messages/unread-count", messageHandler.UnreadCount)

		authorized.GET("/ws", hub.HandleWebSocket)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited properly")
}
