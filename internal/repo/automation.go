package repo

import (
	"time"

	"covertext/pkg/models"

	"gorm.io/gorm"
)

// AutomationRunRepository handles the single-flight claim rows for the
// scheduled dispatchers.
type AutomationRunRepository struct {
	db *gorm.DB
}

// NewAutomationRunRepository creates a new automation run repository
func NewAutomationRunRepository(db *gorm.DB) *AutomationRunRepository {
	return &AutomationRunRepository{db: db}
}

// Claim atomically claims the (kind, run date) slot by inserting the claim
// row. The unique index is the lock: when a concurrent dispatcher already
// holds the slot the insert fails with a duplicate key and Claim reports
// claimed=false without error.
func (r *AutomationRunRepository) Claim(kind models.AutomationKind, runDate time.Time) (*models.AutomationRun, bool, error) {
	run := &models.AutomationRun{
		JobKind:   kind,
		RunDate:   runDate.UTC().Format("2006-01-02"),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.Create(run).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return run, true, nil
}

// Finish records the run's outcome and counters.
func (r *AutomationRunRepository) Finish(run *models.AutomationRun, status models.AutomationRunStatus) error {
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	return r.db.Model(run).Updates(map[string]interface{}{
		"status":        status,
		"finished_at":   now,
		"sent_count":    run.SentCount,
		"drafted_count": run.DraftedCount,
		"skipped_count": run.SkippedCount,
		"failed_count":  run.FailedCount,
	}).Error
}

// LatestRun returns the most recent run of a kind, or nil when none exists.
func (r *AutomationRunRepository) LatestRun(kind models.AutomationKind) (*models.AutomationRun, error) {
	var run models.AutomationRun
	err := r.db.Where("job_kind = ?", kind).Order("run_date DESC").First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
