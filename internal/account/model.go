package account

import "time"

// Account is a platform account a job acts on.
type Account struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	OwnerID      uint64    `gorm:"index;not null" json:"owner_id"`
	PlatformType string    `gorm:"type:text;not null" json:"platform_type"`
	UID          string    `gorm:"type:text;not null" json:"uid"`
	Nickname     string    `gorm:"type:text;not null;default:''" json:"nickname"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
