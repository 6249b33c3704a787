// Command migrate applies the artifact store schema. Servers only
// auto-migrate outside production, so deploys run this first.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"everyday/internal/config"
	"everyday/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
		return fmt.Errorf("store driver %q has no schema", cfg.StoreDriver)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("artifact schema applied")
	case "status":
		missing := database.MissingTables(db)
		if len(missing) == 0 {
			log.Println("artifact schema up to date")
			return nil
		}
		log.Printf("missing tables: %s", strings.Join(missing, ", "))
	default:
		return usage()
	}
	return nil
}
