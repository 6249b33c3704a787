// Command main fills the configured store with demo posts for Everyday.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"everyday/internal/assembler"
	"everyday/internal/bootstrap"
	"everyday/internal/config"
	"everyday/internal/middleware"
	"everyday/internal/repository"
	"everyday/internal/seed"
)

func main() {
	dailies := flag.Int("daily", 7, "Number of daily posts to create")
	tagged := flag.Int("tagged", 5, "Number of collaborative posts to create")
	fakerSeed := flag.Int64("seed", 0, "Faker seed (0 picks a random one)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed demo data in production")
	}

	log.Printf("Target: %d daily posts, %d tagged posts, store=%s", *dailies, *tagged, cfg.StoreDriver)

	if err := run(cfg, *dailies, *tagged, *fakerSeed); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Println("All done! The feed is populated with demo posts.")
}

func run(cfg *config.Config, dailies, tagged int, fakerSeed int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SeedBaseSelfie: true})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	repo := repository.NewPostStore(rt.Store, cfg.StoreMaxRetries, middleware.Logger)
	factory := seed.NewFactory(repo, assembler.New(cfg.Location()), fakerSeed)
	return factory.DemoFeed(ctx, dailies, tagged, cfg.OwnerHandle)
}
