// Command migrate applies, rolls back and inspects the compliance
// service's schema migrations.
//
// Usage:
//
//	migrate -up                  apply all pending migrations
//	migrate -rollback            roll back the most recent completed migration
//	migrate -rollback -id 7      roll back migration 007
//	migrate -status              print the ledger state of every migration
//	migrate -new add_foo_table   print a skeleton for the next migration
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fisioflow/fisioflow-backend/internal/migrate"
	"github.com/fisioflow/fisioflow-backend/internal/migrate/migrations"
	"github.com/fisioflow/fisioflow-backend/pkg/config"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

func main() {
	var (
		up       = flag.Bool("up", false, "apply all pending migrations")
		rollback = flag.Bool("rollback", false, "roll back a completed migration")
		id       = flag.Int("id", 0, "migration id for -rollback (default: most recent)")
		status   = flag.Bool("status", false, "show migration status")
		newName  = flag.String("new", "", "print a skeleton for a new migration with the given name")
	)
	flag.Parse()

	cfg, err := config.Load("migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("migrate", cfg.Server.Environment)

	registry, err := migrations.BuildRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid migration set")
	}

	if *newName != "" {
		filename, contents := migrate.CreateTemplate(registry.NextID(), *newName)
		fmt.Printf("-- write this to internal/migrate/migrations/%s\n%s", filename, contents)
		return
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	runner := migrate.NewRunner(db, registry, migrations.DatabaseName, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case *up:
		summary, err := runner.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migration run failed")
		}
		for _, res := range summary.Results {
			if res.Error != "" {
				fmt.Fprintf(os.Stderr, "%03d  %-40s %s  error: %s\n", res.ID, res.Name, res.Status, res.Error)
			}
		}
		log.Info().
			Int("total", summary.Total).
			Int("executed", summary.Executed).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Dur("duration", summary.Duration).
			Msg("migration run finished")
		if !summary.Ok() {
			os.Exit(1)
		}

	case *rollback:
		if err := runner.Rollback(ctx, *id); err != nil {
			log.Fatal().Err(err).Msg("rollback failed")
		}
		log.Info().Msg("rollback completed")

	case *status:
		entries, err := runner.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migration status")
		}
		for _, e := range entries {
			line := fmt.Sprintf("%03d  %-40s %s", e.ID, e.Name, e.Status)
			if e.Drifted {
				line += "  (content changed since applied)"
			}
			if e.Unknown {
				line += "  (in ledger but not registered)"
			}
			if e.Error != "" {
				line += "  error: " + e.Error
			}
			fmt.Println(line)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}
