package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/angelmondragon/donorledger-backend/internal/bootstrap"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db"
	"github.com/angelmondragon/donorledger-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory (the default is embedded in the binary)")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version for -cmd=version; 0 rolls everything back")
	flag.Parse()

	p, err := bootstrap.Load("migrate")
	if err != nil {
		os.Exit(1)
	}
	ctx := p.Logger.WithFields(context.Background(), map[string]any{"cmd": opts.cmd, "dir": opts.dir})

	err = execute(ctx, p, opts)
	if cerr := p.Close(); cerr != nil {
		p.Logger.Error(ctx, "failed to release resources", cerr)
	}
	if err != nil {
		p.Logger.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, p *bootstrap.Process, opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		fsys, err := migrate.Source(opts.dir)
		if err != nil {
			return err
		}
		if err := migrate.Validate(fsys); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		return err
	}
	p.OnClose("database", client.Close)

	// SQLite keeps no goose history; its schema comes straight from the models.
	if p.Config.DB.Driver == config.DriverSQLite {
		if opts.cmd != "up" {
			return fmt.Errorf("-cmd=%s is not supported on sqlite", opts.cmd)
		}
		return migrate.AutoMigrateModels(ctx, client)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	fsys, err := migrate.Source(opts.dir)
	if err != nil {
		return err
	}
	migrator, err := migrate.New(sqlDB, fsys)
	if err != nil {
		return err
	}

	switch opts.cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", len(applied))
	case "down":
		v, err := migrator.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Println("rolled back", v)
	case "status":
		return printStatus(ctx, migrator)
	case "version":
		target, err := strconv.ParseInt(opts.version, 10, 64)
		if err != nil || target < 0 {
			return errors.New("-version must be a migration version like 20260301090000, or 0")
		}
		return migrator.To(ctx, target)
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
	return nil
}

func printStatus(ctx context.Context, migrator *migrate.Migrator) error {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tFILE\tSTATE")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied " + s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Path, state)
	}
	return w.Flush()
}
