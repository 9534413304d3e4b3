package documents

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

type Document struct {
	ID       string `gorm:"primaryKey;size:26" json:"id"` // ULID length
	UserID   uint64 `gorm:"index;not null" json:"-"`
	Filename string `gorm:"type:varchar(255);not null" json:"filename"`
	Path     string `gorm:"type:varchar(512);not null" json:"-"`
	Size     int64  `gorm:"not null" json:"size"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when ready
	Chars  int `json:"chars"`
	Chunks int `json:"chunks"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
