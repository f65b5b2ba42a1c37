// Package database opens the catalog database. SQLite (pure Go), PostgreSQL
// and MySQL are supported through GORM.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/database/migrations"
)

// sqlitePragmas are applied to every SQLite connection.
var sqlitePragmas = []string{
	"busy_timeout(10000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

var dialectors = map[string]func(dsn string) gorm.Dialector{
	"sqlite": func(dsn string) gorm.Dialector {
		var q strings.Builder
		for _, p := range sqlitePragmas {
			q.WriteString("&_pragma=" + p)
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return sqlite.Open(dsn + sep + q.String()[1:])
	},
	"postgres": postgres.Open,
	"mysql":    mysql.Open,
}

// Drivers lists the supported driver names.
func Drivers() []string {
	return slices.Sorted(maps.Keys(dialectors))
}

// DB is the catalog connection.
type DB struct {
	*gorm.DB
	sql    *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects without touching the schema.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dialector, ok := dialectors[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q (want one of %s)",
			cfg.Driver, strings.Join(Drivers(), ", "))
	}

	gdb, err := gorm.Open(dialector(cfg.DSN), &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel, log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s catalog: %w", cfg.Driver, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("%s catalog pool: %w", cfg.Driver, err)
	}

	open, idle := poolLimits(cfg)
	sqlDB.SetMaxOpenConns(open)
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Debug("catalog database open",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open", open),
		slog.Int("max_idle", idle))

	return &DB{DB: gdb, sql: sqlDB, driver: cfg.Driver, logger: log}, nil
}

// poolLimits caps SQLite at one writer plus a few readers; an in-memory
// database exists per connection, so it gets exactly one.
func poolLimits(cfg config.DatabaseConfig) (open, idle int) {
	switch {
	case cfg.Driver != "sqlite":
		return cfg.MaxOpenConns, cfg.MaxIdleConns
	case strings.Contains(cfg.DSN, ":memory:"):
		return 1, 1
	default:
		return 4, 2
	}
}

// OpenAndMigrate connects and applies pending migrations.
func OpenAndMigrate(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	db, err := Open(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate brings the catalog schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := migrations.New(db.DB, db.logger, migrations.Catalog())
	if err != nil {
		return err
	}
	n, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	if n > 0 {
		db.logger.InfoContext(ctx, "catalog schema migrated",
			slog.Int("applied", n),
			slog.Int("version", m.Latest()))
	}
	return nil
}

func (db *DB) Close() error { return db.sql.Close() }

func (db *DB) Ping(ctx context.Context) error { return db.sql.PingContext(ctx) }

func (db *DB) Driver() string { return db.driver }
