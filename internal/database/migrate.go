package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// MigrationsDir is the directory inside a backend's embedded FS holding goose files.
const MigrationsDir = "migrations"

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// gooseUp is a seam for testing goose.UpContext.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

var gooseVersion = goose.GetDBVersionContext

// Migrate applies the embedded goose migrations in fsys and returns the resulting schema version.
func Migrate(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return 0, fmt.Errorf("goose dialect %s: %w", dialect, err)
	}
	if err := gooseUp(ctx, db, MigrationsDir); err != nil {
		return 0, fmt.Errorf("goose up: %w", err)
	}
	version, err := gooseVersion(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return version, nil
}
