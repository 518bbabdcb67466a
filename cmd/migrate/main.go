package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appmigrations "github.com/wolfman30/messaging-service/migrations"
)

const usage = "usage: migrate [up | down | force <version>]"

type command struct {
	action  string
	version int
}

// parseCommand maps the process arguments onto a schema action. No
// argument means up.
func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{action: "up"}, nil
	}
	switch args[0] {
	case "up", "down":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments; %s", args[0], usage)
		}
		return command{action: args[0]}, nil
	case "force":
		if len(args) != 2 {
			return command{}, fmt.Errorf("force needs a version; %s", usage)
		}
		version, err := strconv.Atoi(args[1])
		if err != nil || version < 0 {
			return command{}, fmt.Errorf("invalid version %q; %s", args[1], usage)
		}
		return command{action: "force", version: version}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q; %s", args[0], usage)
	}
}

// migrator is the subset of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func apply(m migrator, cmd command, out io.Writer) error {
	var err error
	switch cmd.action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		err = m.Force(cmd.version)
	default:
		return fmt.Errorf("unknown command %q", cmd.action)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", cmd.action, err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(out, "messaging schema %s: no change\n", cmd.action)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Fprintln(out, "messaging schema: empty (no migrations applied)")
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case dirty:
		fmt.Fprintf(out, "messaging schema: version %d (dirty)\n", version)
	default:
		fmt.Fprintf(out, "messaging schema: version %d\n", version)
	}
	return nil
}

func main() {
	log.SetPrefix("messaging-service migrate: ")
	log.SetFlags(0)

	cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open messages database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping messages database: %v", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("postgres driver: %v", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		log.Fatalf("embedded migrations: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := apply(m, cmd, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
