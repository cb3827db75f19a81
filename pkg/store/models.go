package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names match the public API schema.
type UserModel struct {
	ID                string         `gorm:"primaryKey"`
	FingerprintHash   string         `gorm:"uniqueIndex;not null"`
	BackupIdentifiers datatypes.JSON `gorm:"type:jsonb"`
	SessionNickname   *string
	MessageCount      int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	LastSeen          time.Time `gorm:"not null;index"`
}

func (UserModel) TableName() string { return "users" }

type CubeModel struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"not null"`
	Description   string
	Color         string  `gorm:"not null"`
	Opacity       float64 `gorm:"not null;default:0.3"`
	PositionIndex int     `gorm:"not null;index"`
	IsActive      bool    `gorm:"not null;default:true;index"`
	OwnerUserID   *string `gorm:"index"`
	GithubRepoID  *int64
	RepoOwner     string
	Language      string
	HTMLURL       string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (CubeModel) TableName() string { return "cubes" }

type MessageModel struct {
	ID              string  `gorm:"primaryKey"`
	UserID          string  `gorm:"not null;index"`
	CubeID          string  `gorm:"not null;index"`
	ParentMessageID *string `gorm:"index"`
	Content         string  `gorm:"type:text;not null"`
	IsDeleted       bool    `gorm:"not null;default:false;index"`
	CreatedAt       time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string { return "messages" }
