package autorun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autorun/internal/cycle"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultMaxActive = 100

var (
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("active job quota exceeded")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCycle      = errors.New("invalid cycle descriptor")
	ErrInvalidType       = errors.New("invalid job type")
)

var knownTypes = map[string]struct{}{
	TypeInteraction: {},
}

// Repo is the persistence-backed job store. Business logic is limited to the
// active quota and the two status state machines.
type Repo struct {
	DB        *gorm.DB
	MaxActive int
}

type JobInput struct {
	OwnerID   uint64
	AccountID uint64
	Type      string
	Payload   json.RawMessage
	Cycle     string
}

type JobFilter struct {
	OwnerID   uint64
	AccountID uint64
	Status    string
	Type      string
	Page      int
	PageSize  int
}

type RecordFilter struct {
	OwnerID  uint64
	JobID    uint64
	Status   string
	Page     int
	PageSize int
}

func (r *Repo) maxActive() int {
	if r.MaxActive <= 0 {
		return DefaultMaxActive
	}
	return r.MaxActive
}

func (r *Repo) CreateJob(ctx context.Context, in JobInput) (*Job, error) {
	if _, ok := knownTypes[in.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if err := cycle.Validate(in.Cycle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCycle, err)
	}
	payload := in.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	j := Job{
		OwnerID:   in.OwnerID,
		AccountID: in.AccountID,
		Type:      in.Type,
		Payload:   datatypes.JSON(payload),
		Cycle:     in.Cycle,
		Status:    StatusActive,
	}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.checkQuota(tx, in.OwnerID); err != nil {
			return err
		}
		return tx.Create(&j).Error
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// checkQuota counts the owner's active jobs. On postgres the owner's quota is
// serialised with a transaction-scoped advisory lock, since row locks on the
// existing jobs do not stop a concurrent insert. sqlite runs on a single
// connection, so its transactions are already serialised.
func (r *Repo) checkQuota(tx *gorm.DB, ownerID uint64) error {
	if tx.Dialector.Name() == "postgres" {
		if err := lockOwnerQuota(tx, ownerID).Error; err != nil {
			return fmt.Errorf("lock quota: %w", err)
		}
	}

	var n int64
	if err := tx.Model(&Job{}).
		Where("owner_id = ? AND status = ?", ownerID, StatusActive).
		Count(&n).Error; err != nil {
		return err
	}
	if n >= int64(r.maxActive()) {
		return ErrQuotaExceeded
	}
	return nil
}

func lockOwnerQuota(tx *gorm.DB, ownerID uint64) *gorm.DB {
	return tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", quotaLockClass, int32(ownerID))
}

// quotaLockClass is the first key of the two-key advisory lock; the owner id
// is the second.
const quotaLockClass int32 = 0x6a6f6273

func (r *Repo) GetJob(ctx context.Context, ownerID, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) ListJobs(ctx context.Context, f JobFilter) ([]Job, int64, error) {
	q := r.DB.WithContext(ctx).Model(&Job{})
	if f.OwnerID != 0 {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.AccountID != 0 {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Job
	limit, offset := paginate(f.Page, f.PageSize)
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *Repo) ListActiveJobsForOwner(ctx context.Context, ownerID uint64) ([]Job, error) {
	var rows []Job
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, StatusActive).
		Order("id asc").
		Find(&rows).Error
	return rows, err
}

// ListActiveOwners returns every owner with at least one ACTIVE job.
func (r *Repo) ListActiveOwners(ctx context.Context) ([]uint64, error) {
	var owners []uint64
	err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ?", StatusActive).
		Distinct().
		Order("owner_id asc").
		Pluck("owner_id", &owners).Error
	return owners, err
}

func (r *Repo) SetJobStatus(ctx context.Context, ownerID, id uint64, status string) (*Job, error) {
	if !validJobStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	var j Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND owner_id = ?", id, ownerID).
			First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !CanTransition(j.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
		}
		if status == StatusActive {
			if err := r.checkQuota(tx, ownerID); err != nil {
				return err
			}
		}

		j.Status = status
		return tx.Model(&Job{}).Where("id = ?", j.ID).Update("status", status).Error
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkFired bumps run_count and stamps last_fired_at after a dispatch was accepted.
func (r *Repo) MarkFired(ctx context.Context, id uint64, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"run_count":     gorm.Expr("run_count + 1"),
			"last_fired_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) CreateExecutionRecord(ctx context.Context, j *Job) (*Record, error) {
	rec := Record{
		JobID:   j.ID,
		OwnerID: j.OwnerID,
		Cycle:   j.Cycle,
		Type:    j.Type,
		Status:  RecordRunning,
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) GetExecutionRecord(ctx context.Context, id uint64) (*Record, error) {
	var rec Record
	if err := r.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) ListExecutionRecords(ctx context.Context, f RecordFilter) ([]Record, int64, error) {
	q := r.DB.WithContext(ctx).Model(&Record{})
	if f.OwnerID != 0 {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.JobID != 0 {
		q = q.Where("job_id = ?", f.JobID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Record
	limit, offset := paginate(f.Page, f.PageSize)
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SetExecutionRecordStatus moves a RUNNING record to a terminal status. The
// update is conditional so a record transitions exactly once.
func (r *Repo) SetExecutionRecordStatus(ctx context.Context, id uint64, status, note string) error {
	if !terminalRecordStatus(status) {
		return fmt.Errorf("%w: record -> %s", ErrInvalidTransition, status)
	}

	res := r.DB.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status = ?", id, RecordRunning).
		Updates(map[string]any{"status": status, "note": note})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetExecutionRecord(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: record %d already terminal", ErrInvalidTransition, id)
}

// FailStaleRecords flips RUNNING records created before cutoff to FAILED. Used
// at startup to close records orphaned by a crash.
func (r *Repo) FailStaleRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&Record{}).
		Where("status = ? AND created_at < ?", RecordRunning, cutoff).
		Updates(map[string]any{"status": RecordFailed, "note": "abandoned: no terminal status before lock ttl"})
	return res.RowsAffected, res.Error
}

func paginate(page, size int) (limit, offset int) {
	if size <= 0 || size > 200 {
		size = 50
	}
	if page <= 0 {
		page = 1
	}
	return size, (page - 1) * size
}
