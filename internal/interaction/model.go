package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidPayload = errors.New("invalid interaction payload")

// Record is the audit row for one (owner, account, platform, work) interaction.
// Its presence means the work item must not be touched again.
type Record struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	OwnerID        uint64    `gorm:"not null;uniqueIndex:uq_interaction_item,priority:1" json:"owner_id"`
	AccountID      uint64    `gorm:"not null;uniqueIndex:uq_interaction_item,priority:2" json:"account_id"`
	PlatformType   string    `gorm:"type:text;not null;uniqueIndex:uq_interaction_item,priority:3" json:"platform_type"`
	WorkID         string    `gorm:"type:text;not null;uniqueIndex:uq_interaction_item,priority:4" json:"work_id"`
	WorkTitle      string    `gorm:"type:text;not null;default:''" json:"work_title"`
	WorkCover      string    `gorm:"type:text;not null;default:''" json:"work_cover"`
	CommentContent string    `gorm:"type:text;not null;default:''" json:"comment_content"`
	Liked          bool      `gorm:"not null;default:false" json:"liked"`
	Collected      bool      `gorm:"not null;default:false" json:"collected"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Record) TableName() string { return "interaction_records" }

type Key struct {
	OwnerID      uint64
	AccountID    uint64
	PlatformType string
	WorkID       string
}

// Work is one external content object targeted by a batch.
type Work struct {
	WorkID   string `json:"work_id"`
	Title    string `json:"title,omitempty"`
	Desc     string `json:"desc,omitempty"`
	Cover    string `json:"cover,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
}

// Payload is the job payload of an INTERACTION job.
type Payload struct {
	Works          []Work `json:"works"`
	CommentContent string `json:"comment_content,omitempty"`
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (p *Payload) Validate() error {
	if len(p.Works) == 0 {
		return fmt.Errorf("%w: no works", ErrInvalidPayload)
	}
	for i := range p.Works {
		p.Works[i].WorkID = strings.TrimSpace(p.Works[i].WorkID)
		if p.Works[i].WorkID == "" {
			return fmt.Errorf("%w: work %d has no work_id", ErrInvalidPayload, i)
		}
	}
	p.CommentContent = strings.TrimSpace(p.CommentContent)
	return nil
}

// seed is the text handed to the content suggester.
func (w Work) seed() string {
	return w.Desc + w.Title
}
