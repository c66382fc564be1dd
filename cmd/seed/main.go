package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/seed"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "dev":
		run("🌱 Seeding development database...", func(s *seed.Seeder) error { return s.SeedDev() })
	case "test":
		run("🧪 Seeding test database...", func(s *seed.Seeder) error { return s.SeedTest() })
	case "clean":
		run("🧹 Cleaning seed data...", func(s *seed.Seeder) error { return s.Clean() })
	default:
		fmt.Println("Usage: seed [dev|test|clean]")
		fmt.Println("  dev   - Seed development database with realistic data")
		fmt.Println("  test  - Seed test database with minimal data")
		fmt.Println("  clean - Remove all seed data (use with caution)")
		os.Exit(1)
	}
}

func run(banner string, fn func(*seed.Seeder) error) {
	log.Println(banner)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("❌ DATABASE_URL environment variable is required")
	}

	if err := database.Initialize(databaseURL, false); err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}
	log.Println("✅ Database connected")

	if err := fn(seed.NewSeeder(database.DB)); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✅ Done!")
}
