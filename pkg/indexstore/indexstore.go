// Package indexstore persists an index of run summaries in a relational
// database so runs can be listed and queried per project.
package indexstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/reportoor/pkg/config"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for the run index.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// UpsertRun inserts or replaces a run and its spec file entries.
	UpsertRun(ctx context.Context, run *Run, specs []*SpecFile) error
	ListProjects(ctx context.Context) ([]string, error)
	ListRuns(ctx context.Context, project string, limit int) ([]Run, error)
	ListRunIDs(ctx context.Context, project string) ([]string, error)
	GetRun(ctx context.Context, project, runID string) (*Run, error)
	LatestRun(ctx context.Context, project string) (*Run, error)
	ListSpecFiles(ctx context.Context, project, runID string) ([]SpecFile, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and
		// avoids SQLITE_BUSY on concurrent writers.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&SpecFile{},
	); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts or updates a run keyed by project + run_id and replaces
// its spec file entries in one transaction.
func (s *store) UpsertRun(ctx context.Context, run *Run, specs []*SpecFile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Run

		err := tx.Select("id").
			Where("project = ? AND run_id = ?", run.Project, run.RunID).
			Take(&existing).Error

		switch {
		case err == nil:
			// Save writes every column, so zero counts overwrite stale ones.
			run.ID = existing.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("looking up run: %w", err)
		}

		if err := tx.Save(run).Error; err != nil {
			return fmt.Errorf("upserting run: %w", err)
		}

		if err := tx.
			Where("project = ? AND run_id = ?", run.Project, run.RunID).
			Delete(&SpecFile{}).Error; err != nil {
			return fmt.Errorf("deleting spec files: %w", err)
		}

		if len(specs) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(specs, 100).Error; err != nil {
			return fmt.Errorf("inserting spec files: %w", err)
		}

		return nil
	})
}

// ListProjects returns the distinct project names in the index.
func (s *store) ListProjects(ctx context.Context) ([]string, error) {
	var projects []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Distinct("project").
		Order("project").
		Pluck("project", &projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}

// ListRuns returns runs of a project, newest first. A limit of zero or
// less returns all runs.
func (s *store) ListRuns(
	ctx context.Context, project string, limit int,
) ([]Run, error) {
	q := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("started_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListRunIDs returns just the run IDs of a project.
func (s *store) ListRunIDs(
	ctx context.Context, project string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("project = ?", project).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}

// GetRun returns one run or ErrNotFound.
func (s *store) GetRun(
	ctx context.Context, project, runID string,
) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("project = ? AND run_id = ?", project, runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// LatestRun returns the newest run of a project or ErrNotFound.
func (s *store) LatestRun(ctx context.Context, project string) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest run: %w", err)
	}

	return &run, nil
}

// ListSpecFiles returns the spec file entries of a run in summary order.
func (s *store) ListSpecFiles(
	ctx context.Context, project, runID string,
) ([]SpecFile, error) {
	var specs []SpecFile
	if err := s.db.WithContext(ctx).
		Where("project = ? AND run_id = ?", project, runID).
		Order("id").
		Find(&specs).Error; err != nil {
		return nil, fmt.Errorf("listing spec files: %w", err)
	}

	return specs, nil
}
