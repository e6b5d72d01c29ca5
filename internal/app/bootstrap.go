package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"ckdt/internal/config"
	"ckdt/internal/db"
	"ckdt/internal/engine"
	"ckdt/internal/engine/auth"
	"ckdt/internal/migrate"
)

// Open connects to the workspace catalog and brings the schema up to date.
func Open(workspace string, cfg *config.Config) (*sql.DB, engine.Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, File: cfg.Database.File})
	if err != nil {
		return nil, engine.Engine{}, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	return conn, engine.New(conn), nil
}

// Bootstrap seeds an empty catalog and creates the configured administrator
// when the database has none.
func Bootstrap(ctx context.Context, eng engine.Engine, cfg *config.Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.Catalog.SkipSeeding {
		seeded, err := eng.Seeded(ctx)
		if err != nil {
			return err
		}
		if !seeded {
			res, err := seed(ctx, eng, cfg.Catalog.SeedFile)
			if err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			logger.Printf("catalog: seeded %d services", res.Created)
		}
	}

	admin := cfg.Auth.Admin
	if admin.Email == "" {
		n, err := eng.Repo.CountAdmins(ctx, nil)
		if err != nil {
			return err
		}
		if n == 0 {
			logger.Printf("WARNING: no administrator configured; catalog is read-only until one is created")
		}
		return nil
	}
	created, err := eng.EnsureAdmin(ctx, admin.Name, admin.Email, admin.Password)
	if err != nil {
		return err
	}
	if created {
		logger.Printf("auth: created administrator %s", admin.Email)
	}
	return nil
}

func seed(ctx context.Context, eng engine.Engine, path string) (engine.ImportResult, error) {
	data := config.SeedCatalog()
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return engine.ImportResult{}, err
		}
	}
	cat, err := engine.ParseCatalog(bytes.NewReader(data))
	if err != nil {
		return engine.ImportResult{}, err
	}
	return eng.ImportCatalog(ctx, auth.System, cat)
}
