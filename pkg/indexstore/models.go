package indexstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run is one indexed run summary.
type Run struct {
	ID                uint   `gorm:"primaryKey"`
	Project           string `gorm:"not null;uniqueIndex:idx_runs_project_run"`
	RunID             string `gorm:"not null;uniqueIndex:idx_runs_project_run"`
	StartedAt         int64  `gorm:"index"`
	Timestamp         string
	Status            string
	BranchName        string `gorm:"index"`
	PullRequestNumber string

	TotalTests   int
	Passed       int
	Failed       int
	Skipped      int
	TotalRuntime int64
	PassRate     decimal.Decimal `gorm:"type:numeric"`

	// SummaryFile is the run summary document name within the results dir.
	SummaryFile string

	IndexedAt time.Time
}

// SpecFile is one spec file entry of an indexed run.
type SpecFile struct {
	ID            uint   `gorm:"primaryKey"`
	Project       string `gorm:"not null;index:idx_spec_files_project_run"`
	RunID         string `gorm:"not null;index:idx_spec_files_project_run"`
	Name          string `gorm:"not null;index"`
	Status        string
	TotalDuration int64
	Tests         int
	RunURL        string
}
