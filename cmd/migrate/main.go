// Command migrate applies the store schema for the configured driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"murmur/internal/config"
	"murmur/internal/database"
	"murmur/internal/repository/mongostore"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|status>")
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

	ctx := context.Background()
	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))

	switch cfg.DBDriver {
	case config.DriverMongo:
		client, db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(ctx) }()

		switch cmd {
		case "up":
			if err := mongostore.EnsureIndexes(ctx, db); err != nil {
				return fmt.Errorf("ensure indexes: %w", err)
			}
			log.Println("mongo indexes ensured")
		case "status":
			names, err := db.ListCollectionNames(ctx, bson.D{})
			if err != nil {
				return fmt.Errorf("list collections: %w", err)
			}
			log.Printf("collections: %s", strings.Join(names, ", "))
		default:
			return usage()
		}

	case config.DriverPostgres, config.DriverSQLite:
		db, err := database.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		switch cmd {
		case "up":
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Println("schema migrated")
		case "status":
			for _, m := range database.PersistentModels() {
				log.Printf("%-14T present=%t", m, db.Migrator().HasTable(m))
			}
		default:
			return usage()
		}

	default:
		return fmt.Errorf("driver %q has no schema", cfg.DBDriver)
	}
	return nil
}
