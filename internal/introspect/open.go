package introspect

import (
	"context"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/database/mysql"
	"github.com/koustreak/driftbox/internal/database/postgres"
	"github.com/koustreak/driftbox/internal/database/sqlite"
	"github.com/koustreak/driftbox/internal/errs"
)

// Open connects directly to the database cfg describes.
func Open(ctx context.Context, cfg *database.Config) (database.DB, error) {
	switch cfg.Driver {
	case database.DriverPostgres:
		return postgres.New(ctx, cfg)
	case database.DriverMySQL:
		return mysql.New(ctx, cfg)
	case database.DriverSQLite:
		return sqlite.New(ctx, cfg)
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported driver %q", cfg.Driver)
}
