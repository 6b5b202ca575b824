// Command seed fills the configured database with demo marketplace data.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/observability"
	"marketplace/internal/seed"
)

func main() {
	profiles := flag.Int("profiles", 20, "Number of random profiles to create")
	products := flag.Int("products", 60, "Number of random products to create")
	chats := flag.Int("chats", 15, "Number of random chats to create")
	clean := flag.Bool("clean", false, "Delete all marketplace data before seeding")
	fixtures := flag.String("fixtures", "", "YAML fixture file to load instead of random data")
	password := flag.String("password", seed.DefaultPassword, "Password for created accounts")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 = time based)")
	flag.Parse()

	log.Println("🌱 Marketplace Seeder")
	log.Println("====================")
	if *fixtures != "" {
		log.Printf("Loading fixtures from %s (ignoring count flags)", *fixtures)
	} else {
		log.Printf("Target: %d profiles, %d products, %d chats, clean=%v", *profiles, *products, *chats, *clean)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	db, err := database.Connect(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	if *clean {
		if err := seed.Clean(ctx, db); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
		log.Println("🗑️  Existing data cleared")
	}

	f, err := seed.NewFactory(db, seed.Options{Password: *password, RandSeed: *randSeed})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	var res *seed.Result
	if *fixtures != "" {
		fx, err := seed.LoadFixtures(*fixtures)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		res, err = f.Apply(ctx, fx)
		if err != nil {
			log.Fatalf("❌ Fixture seeding failed: %v", err)
		}
	} else {
		res, err = f.Seed(ctx, seed.Counts{Profiles: *profiles, Products: *products, Chats: *chats}, logger)
		if err != nil {
			log.Fatalf("❌ Seeding failed: %v", err)
		}
	}

	log.Printf("🎉 Created %d profiles, %d products, %d chats", len(res.Profiles), len(res.Products), len(res.Rooms))
	if len(res.Profiles) > 0 {
		log.Printf("Sign in as %q with the seed password", res.Profiles[0].LoginID)
	}
}
