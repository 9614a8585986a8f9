package account

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("account not found")
var ErrInvalid = errors.New("invalid account")

type Repo struct {
	DB *gorm.DB
}

func (r *Repo) Create(ctx context.Context, a *Account) error {
	a.PlatformType = strings.ToUpper(strings.TrimSpace(a.PlatformType))
	a.UID = strings.TrimSpace(a.UID)
	if a.OwnerID == 0 || a.PlatformType == "" || a.UID == "" {
		return ErrInvalid
	}
	return r.DB.WithContext(ctx).Create(a).Error
}

// Get loads an account by id. ownerID 0 skips the ownership check, which is
// what the scheduler uses since the owning job already scoped the lookup.
func (r *Repo) Get(ctx context.Context, ownerID, id uint64) (*Account, error) {
	q := r.DB.WithContext(ctx).Where("id = ?", id)
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}

	var a Account
	if err := q.First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repo) List(ctx context.Context, ownerID uint64) ([]Account, error) {
	var rows []Account
	err := r.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id asc").Find(&rows).Error
	return rows, err
}
