package models

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Role         string    `gorm:"type:varchar(16);not null;default:user" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BotSettings configure how the assistant answers one user.
type BotSettings struct {
	UserID       uint64    `gorm:"primaryKey" json:"-"`
	Provider     string    `gorm:"type:varchar(32)" json:"provider"`
	Model        string    `gorm:"type:varchar(64)" json:"model"`
	SystemPrompt string    `gorm:"type:text" json:"system_prompt"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (BotSettings) TableName() string { return "bot_settings" }

// UserPrompt is a saved prompt template.
type UserPrompt struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(128);not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserPrompt) TableName() string { return "user_prompts" }
