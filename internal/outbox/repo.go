package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// StuckAfter is how long a RUNNING message may stay claimed before another
// worker may take it.
const StuckAfter = 5 * time.Minute

type Repo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Notify queues a message for delivery. It satisfies the engine's notifier.
func (r *Repo) Notify(ctx context.Context, title, body string) error {
	m := Message{
		Title:       title,
		Body:        body,
		RunAt:       r.now(),
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
	}
	return r.DB.WithContext(ctx).Create(&m).Error
}

// Claim takes the oldest due message. The conditional update makes the claim
// atomic without SKIP LOCKED, so it behaves the same on postgres and sqlite.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Message, error) {
	db := r.DB.WithContext(ctx)
	now := r.now()

	// requeue messages whose worker died mid-delivery
	if err := db.Model(&Message{}).
		Where("status = ? AND locked_at < ?", StatusRunning, now.Add(-StuckAfter)).
		Updates(map[string]any{"status": StatusPending, "locked_by": nil, "locked_at": nil}).Error; err != nil {
		return nil, err
	}

	for {
		var m Message
		err := db.Where("status = ? AND run_at <= ?", StatusPending, now).
			Order("run_at asc, id asc").
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := db.Model(&Message{}).
			Where("id = ? AND status = ?", m.ID, StatusPending).
			Updates(map[string]any{"status": StatusRunning, "locked_by": workerID, "locked_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			m.Status = StatusRunning
			m.LockedBy = &workerID
			m.LockedAt = &now
			return &m, nil
		}
		// another worker won this row, try the next one
	}
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusDone, "locked_by": nil, "locked_at": nil}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.DB.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusFailed, "last_error": errMsg, "locked_by": nil, "locked_at": nil}).Error
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   attempts,
			"run_at":     runAt,
			"locked_by":  nil,
			"locked_at":  nil,
			"last_error": errMsg,
		}).Error
}
