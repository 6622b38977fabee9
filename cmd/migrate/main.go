package main

import (
	"AuctionLedger/internal/observability"
	"AuctionLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

const usage = `Usage: migrate <up|down>

  up    apply all pending migrations
  down  roll back the last applied migration

Environment:
  AUCTION_POSTGRES_DSN    Postgres connection string (required)
  AUCTION_MIGRATIONS_DIR  migrations directory (default: migrations)
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", direction, usage)
		os.Exit(2)
	}

	log := observability.NewLogger("migrate")

	dsn := os.Getenv("AUCTION_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/auctionledger?sslmode=disable"
	}
	dir := os.Getenv("AUCTION_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	migrator := persistence.NewMigrator(db, dir)

	switch direction {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
	}
}
