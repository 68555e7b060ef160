package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"

	"RentChain/internal/chain"
	"RentChain/internal/database"
	"RentChain/internal/routes"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	// DEBUG: Print loaded env variables (remove in production)
	log.Printf("🔍 DEBUG - Environment Variables:")
	log.Printf("   DB_HOST: '%s'", os.Getenv("DB_HOST"))
	log.Printf("   JWT_SECRET: '%s'", maskSecret(os.Getenv("JWT_SECRET")))
	log.Printf("   CHAIN_RPC_URL: '%s'", os.Getenv("CHAIN_RPC_URL"))
	log.Printf("   CHAIN_FACTORY_ADDRESS: '%s'", os.Getenv("CHAIN_FACTORY_ADDRESS"))
	log.Printf("   RESEND_API_KEY: '%s'", maskSecret(os.Getenv("RESEND_API_KEY")))

	// Connect to database
	if err := database.Connect(); err != nil {
		log.Fatal("❌ Failed to connect to database:", err)
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(); err != nil {
		log.Fatal("❌ Failed to migrate database:", err)
	}
	log.Println("✅ Database connected and migrated successfully")

	// Connect to the blockchain node (falls back to the mock client
	// when no RPC URL is configured)
	client := chain.NewClient(chain.ConfigFromEnv())
	if err := client.Connect(); err != nil {
		log.Fatal("❌ Failed to connect to blockchain node:", err)
	}
	defer client.Close()
	if client.Mock() {
		log.Println("⚠️  Running with mock blockchain client, contracts settle off-chain")
	} else {
		log.Println("✅ Blockchain client connected")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "RentChain API v1.0",
		BodyLimit: 10 * 1024 * 1024,
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to RentChain API",
			"status":  "running",
			"version": "1.0",
		})
	})

	// Setup application routes
	routes.SetupRoutes(app, client)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🚀 RentChain server starting on http://localhost:%s", port)
	log.Fatal(app.Listen(":" + port))
}

// Helper function to mask sensitive data in logs
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
