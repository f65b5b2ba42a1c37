// Package migrations versions the catalog schema. Steps are numbered from 1
// and the highest applied number is kept in schema_migrations.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ErrIrreversible is returned by Down for a step without Revert.
var ErrIrreversible = errors.New("migration cannot be reverted")

// Step is one schema change.
type Step struct {
	Version int
	Name    string
	Apply   func(tx *gorm.DB) error
	Revert  func(tx *gorm.DB) error
}

// appliedStep is a row of schema_migrations.
type appliedStep struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (appliedStep) TableName() string {
	return "schema_migrations"
}

// Migrator moves a database between schema versions.
type Migrator struct {
	db     *gorm.DB
	logger *slog.Logger
	steps  []Step
}

// New returns a migrator for steps, which must be numbered 1..n in order.
func New(db *gorm.DB, logger *slog.Logger, steps []Step) (*Migrator, error) {
	for i, step := range steps {
		if step.Version != i+1 {
			return nil, fmt.Errorf("migration %q has version %d, want %d", step.Name, step.Version, i+1)
		}
		if step.Apply == nil {
			return nil, fmt.Errorf("migration %d has no Apply", step.Version)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger, steps: steps}, nil
}

// Latest returns the version the steps migrate to.
func (m *Migrator) Latest() int {
	return len(m.steps)
}

// Version returns the highest applied version; 0 for a fresh database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&appliedStep{}); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}
	var version int
	if err := db.Model(&appliedStep{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error; err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// Pending returns the steps not applied yet.
func (m *Migrator) Pending(ctx context.Context) ([]Step, error) {
	version, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	if version >= len(m.steps) {
		return nil, nil
	}
	return m.steps[version:], nil
}

// Up applies pending steps, each in its own transaction, and returns how
// many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}

	for n, step := range pending {
		m.logger.InfoContext(ctx, "applying migration",
			slog.Int("version", step.Version),
			slog.String("name", step.Name))

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Apply(tx); err != nil {
				return err
			}
			return tx.Create(&appliedStep{Version: step.Version, Name: step.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return n, fmt.Errorf("applying migration %d (%s): %w", step.Version, step.Name, err)
		}
	}
	return len(pending), nil
}

// Down reverts the latest applied step. It does nothing on a fresh
// database.
func (m *Migrator) Down(ctx context.Context) error {
	version, err := m.Version(ctx)
	if err != nil || version == 0 {
		return err
	}
	if version > len(m.steps) {
		return fmt.Errorf("schema version %d is newer than this build (%d)", version, len(m.steps))
	}

	step := m.steps[version-1]
	if step.Revert == nil {
		return fmt.Errorf("migration %d (%s): %w", step.Version, step.Name, ErrIrreversible)
	}

	m.logger.InfoContext(ctx, "reverting migration", slog.Int("version", step.Version), slog.String("name", step.Name))
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := step.Revert(tx); err != nil {
			return fmt.Errorf("reverting migration %d: %w", step.Version, err)
		}
		return tx.Delete(&appliedStep{}, step.Version).Error
	})
}
