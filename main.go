package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"challenge-proof-system/handlers"
	"challenge-proof-system/middleware"
	"challenge-proof-system/models"
	"challenge-proof-system/services"
	"challenge-proof-system/utils"
	"challenge-proof-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout: 90 * time.Second, // submit waits for adjudication (60s budget)
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}
	if err := models.EnsureIndexes(db); err != nil {
		log.Fatal("failed to create indexes:", err)
	}

	analysisServiceURL := os.Getenv("ANALYSIS_SERVICE_URL")
	if analysisServiceURL == "" {
		log.Fatal("ANALYSIS_SERVICE_URL environment variable not set")
	}
	challengeServiceURL := os.Getenv("CHALLENGE_SERVICE_URL")
	if challengeServiceURL == "" {
		log.Fatal("CHALLENGE_SERVICE_URL environment variable not set")
	}
	notifyServiceURL := os.Getenv("NOTIFY_SERVICE_URL")
	if notifyServiceURL == "" {
		log.Fatal("NOTIFY_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("PROOF_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("PROOF_SERVICE_TOKEN environment variable not set")
	}

	adjudicationClient := services.NewAdjudicationClient(analysisServiceURL, serviceToken)
	ledgerService := services.NewLedgerService(db)
	notifier := services.NewNotificationClient(db, notifyServiceURL, serviceToken)
	moderationService := services.NewModerationService(db)

	policy := services.PolicyFromEnv()
	participationService := services.NewParticipationService(db, adjudicationClient, ledgerService, notifier, policy)

	challengeSyncClient := workers.NewChallengeSyncClient(db, challengeServiceURL, serviceToken)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollChallenges(ctx, challengeSyncClient, 30*time.Second)

	participationService.StartStallSweeper()

	handlers.SetupParticipationRoutes(app, participationService, ledgerService)
	handlers.SetupModerationRoutes(app, participationService, moderationService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Challenge polling running (every 30s)")
	log.Println("✅ Stall sweeper running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
