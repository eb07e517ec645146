package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"gatekeep.org/internal/migrate"
	"gatekeep.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		dsn     = flag.String("dsn", os.Getenv("AUTH_GRPC_POSTGRES_DSN"), "PostgreSQL DSN")
		dir     = flag.String("migrations", "", "Directory with *.up.sql/*.down.sql files (default: bundled schema)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AUTH_GRPC_POSTGRES_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	files := migrate.Schema()
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), files)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("reverted", name)
		}
	case "status":
		var applied, pending []string
		if applied, err = mgr.Status(ctx); err == nil {
			pending, err = mgr.Pending(ctx)
		}
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		for _, name := range pending {
			fmt.Println("pending", name)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
