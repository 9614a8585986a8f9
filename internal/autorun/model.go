package autorun

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeInteraction = "INTERACTION"

	StatusActive  = "ACTIVE"
	StatusPaused  = "PAUSED"
	StatusDeleted = "DELETED"

	RecordRunning   = "RUNNING"
	RecordSucceeded = "SUCCEEDED"
	RecordFailed    = "FAILED"
)

// Job is a recurring automation definition. Payload is interpreted by the
// handler registered for Type.
type Job struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	OwnerID   uint64 `gorm:"index;not null" json:"owner_id"`
	AccountID uint64 `gorm:"index;not null" json:"account_id"`

	Type    string         `gorm:"type:text;not null" json:"type"`
	Payload datatypes.JSON `gorm:"not null" json:"payload"`
	Cycle   string         `gorm:"type:text;not null" json:"cycle"`

	RunCount    int        `gorm:"not null;default:0" json:"run_count"`
	Status      string     `gorm:"index;not null;default:'ACTIVE'" json:"status"` // ACTIVE/PAUSED/DELETED
	LastFiredAt *time.Time `json:"last_fired_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string { return "automation_jobs" }

// Record is one firing of a Job.
type Record struct {
	ID      uint64 `gorm:"primaryKey" json:"id"`
	JobID   uint64 `gorm:"index;not null" json:"job_id"`
	OwnerID uint64 `gorm:"index;not null" json:"owner_id"`

	Cycle  string `gorm:"type:text;not null" json:"cycle"`
	Type   string `gorm:"type:text;not null" json:"type"`
	Status string `gorm:"index;not null;default:'RUNNING'" json:"status"` // RUNNING/SUCCEEDED/FAILED
	Note   string `gorm:"type:text;not null;default:''" json:"note"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Record) TableName() string { return "execution_records" }

var jobTransitions = map[string][]string{
	StatusActive: {StatusPaused, StatusDeleted},
	StatusPaused: {StatusActive, StatusDeleted},
}

// CanTransition reports whether a job may move from one status to another.
// DELETED is terminal.
func CanTransition(from, to string) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validJobStatus(s string) bool {
	return s == StatusActive || s == StatusPaused || s == StatusDeleted
}

func terminalRecordStatus(s string) bool {
	return s == RecordSucceeded || s == RecordFailed
}
