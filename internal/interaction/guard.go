package interaction

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Guard reads and writes interaction history so a work item is processed at
// most once per (owner, account, platform).
type Guard struct {
	DB *gorm.DB
}

type ListFilter struct {
	OwnerID      uint64
	AccountID    uint64
	PlatformType string
	Page         int
	PageSize     int
}

func (g *Guard) HasProcessed(ctx context.Context, k Key) (bool, error) {
	var n int64
	err := g.DB.WithContext(ctx).Model(&Record{}).
		Where("owner_id = ? AND account_id = ? AND platform_type = ? AND work_id = ?",
			k.OwnerID, k.AccountID, k.PlatformType, k.WorkID).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// RecordProcessed inserts the row, or returns the existing one when the
// unique key is already taken.
func (g *Guard) RecordProcessed(ctx context.Context, rec Record) (*Record, error) {
	db := g.DB.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return &rec, nil
	}

	var existing Record
	err := db.Where("owner_id = ? AND account_id = ? AND platform_type = ? AND work_id = ?",
		rec.OwnerID, rec.AccountID, rec.PlatformType, rec.WorkID).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (g *Guard) List(ctx context.Context, f ListFilter) ([]Record, int64, error) {
	q := g.DB.WithContext(ctx).Model(&Record{}).Where("owner_id = ?", f.OwnerID)
	if f.AccountID != 0 {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.PlatformType != "" {
		q = q.Where("platform_type = ?", f.PlatformType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	size := f.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	var rows []Record
	if err := q.Order("id desc").Limit(size).Offset((page - 1) * size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
