// Package video holds the persisted metadata of source media and the gateway
// the orchestrator uses to create and update it.
package video

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

var ErrNotFound = errors.New("video not found")

type Video struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Platform  string    `gorm:"size:32;index" json:"platform"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Status    Status    `gorm:"size:16;index" json:"status"`
	Duration  *float64  `json:"duration,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Gateway persists and retrieves Video records.
type Gateway interface {
	Create(ctx context.Context, platform, url, filename string, status Status) (uint, error)
	// UpdateStatus reports false when no video has the given id.
	UpdateStatus(ctx context.Context, id uint, status Status) (bool, error)
	UpdateFilename(ctx context.Context, id uint, filename string) (bool, error)
	// FindByID returns ErrNotFound when the id is unknown.
	FindByID(ctx context.Context, id uint) (*Video, error)
	// List returns videos newest first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Video, error)
}
