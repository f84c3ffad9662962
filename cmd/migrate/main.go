package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"verifica.org/internal/migrate"
	"verifica.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("VERIFICA_PG_DSN"), "PostgreSQL DSN (postgres:// URL)")
		table = flag.String("table", "", "Migrations bookkeeping table")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or VERIFICA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	migrations, err := fs.Sub(pg.Migrations, "migrations")
	if err != nil {
		log.Fatalf("migrations: %v", err)
	}
	seeds, err := fs.Sub(pg.Seeds, "seeds")
	if err != nil {
		log.Fatalf("seeds: %v", err)
	}
	mgr := migrate.NewManager(db, *dsn, migrations, seeds, migrate.WithMigrationsTable(*table))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var st migrate.Status
		st, err = mgr.Status(ctx)
		if err == nil {
			fmt.Printf("version %d dirty=%t\n", st.Version, st.Dirty)
			for _, item := range st.Seeds {
				fmt.Println("seed", item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
