package mariadb

import (
	"context"
	"embed"

	"github.com/kozaktomas/face-gate/internal/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.MigrateVersion(ctx)
	return err
}

// MigrateVersion applies pending migrations and returns the schema version.
func (p *Pool) MigrateVersion(ctx context.Context) (int64, error) {
	return database.Migrate(ctx, p.db, "mysql", migrationsFS)
}
