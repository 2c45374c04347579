package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/migrations"
)

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalw("failed to ping database", "error", err)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := migrations.Up(db, log); err != nil {
			log.Fatalw("failed to apply migrations", "error", err)
		}

	case "fix":
		if err := migrations.FixDirtyDatabase(db, log); err != nil {
			log.Fatalw("failed to fix dirty database", "error", err)
		}

	case "force":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "usage: %s force <version>\n", os.Args[0])
			os.Exit(2)
		}
		v, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			log.Fatalw("invalid version number", "version", os.Args[2])
		}
		if err := migrations.ForceVersion(db, uint(v)); err != nil {
			log.Fatalw("failed to force version", "version", v, "error", err)
		}
		log.Infow("database version forced", "version", v)

	case "status":
		st, err := migrations.CurrentStatus(db)
		if err != nil {
			log.Fatalw("failed to read migration status", "error", err)
		}
		if st.Fresh {
			fmt.Println("no migrations applied")
			return
		}
		fmt.Printf("version=%d dirty=%t\n", st.Version, st.Dirty)

	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|fix|force <version>|status]\n", os.Args[0])
		os.Exit(2)
	}
}
