// Package migrations applies the embedded PostgreSQL schema with goose.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Runner applies pending migrations. Applied versions live in goose_db_version.
type Runner struct {
	provider *goose.Provider
	logger   *zap.Logger
}

// NewRunner uses the embedded scripts.
func NewRunner(db *sqlx.DB, logger *zap.Logger) (*Runner, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return NewRunnerFS(db, sub, logger)
}

// NewRunnerFS reads NNN_name.sql scripts with goose annotations from the root of fsys.
func NewRunnerFS(db *sqlx.DB, fsys fs.FS, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Runner{provider: provider, logger: logger}, nil
}

// Versions lists the known script versions in apply order.
func (r *Runner) Versions() []int64 {
	sources := r.provider.ListSources()
	versions := make([]int64, 0, len(sources))
	for _, src := range sources {
		versions = append(versions, src.Version)
	}
	return versions
}

// Up applies every pending migration and returns how many ran. goose runs
// each script in its own transaction, so a failure keeps the earlier ones.
func (r *Runner) Up(ctx context.Context) (int, error) {
	start := time.Now()
	results, err := r.provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if errors.As(err, &partial) {
			r.logApplied(partial.Applied)
			if partial.Failed != nil && partial.Failed.Source != nil {
				r.logger.Error("migration failed",
					zap.Int64("version", partial.Failed.Source.Version),
					zap.String("name", path.Base(partial.Failed.Source.Path)),
					zap.Error(partial.Err))
			}
			return len(partial.Applied), fmt.Errorf("apply migrations: %w", err)
		}
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	r.logApplied(results)
	if len(results) > 0 {
		r.logger.Info("schema up to date", zap.Int("applied", len(results)), zap.Duration("duration", time.Since(start)))
	}
	return len(results), nil
}

func (r *Runner) logApplied(results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logger.Info("migration applied",
			zap.Int64("version", res.Source.Version),
			zap.String("name", path.Base(res.Source.Path)),
			zap.Duration("duration", res.Duration))
	}
}
