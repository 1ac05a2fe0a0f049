package models

import "time"

// AutomationKind names the scheduled dispatchers.
type AutomationKind string

const (
	AutomationBirthday      AutomationKind = "birthday"
	AutomationLapse         AutomationKind = "lapse"
	AutomationBillingNotice AutomationKind = "billing_reminder"
	AutomationPolicyPacket  AutomationKind = "policy_packet"
)

// AutomationRunStatus is the closed set of states a dispatcher run can be in.
type AutomationRunStatus string

const (
	RunStatusRunning   AutomationRunStatus = "running"
	RunStatusCompleted AutomationRunStatus = "completed"
	RunStatusFailed    AutomationRunStatus = "failed"
)

// AutomationRun is the single-flight claim row for a dispatcher kind and day.
// Inserting it is the atomic claim: the unique (job_kind, run_date) index makes
// the second concurrent dispatcher lose with a duplicate-key error and back off.
type AutomationRun struct {
	BaseModel
	JobKind AutomationKind      `gorm:"type:varchar(30);not null;uniqueIndex:idx_automation_runs_kind_date" json:"job_kind"`
	RunDate string              `gorm:"type:varchar(10);not null;uniqueIndex:idx_automation_runs_kind_date" json:"run_date"`
	Status  AutomationRunStatus `gorm:"type:varchar(15);not null;default:'running'" json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	SentCount    int `gorm:"default:0" json:"sent_count"`
	DraftedCount int `gorm:"default:0" json:"drafted_count"`
	SkippedCount int `gorm:"default:0" json:"skipped_count"`
	FailedCount  int `gorm:"default:0" json:"failed_count"`
}
