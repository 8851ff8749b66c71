package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the hosted schema
// the clients were written against.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Status       string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type ProfileModel struct {
	UserID    string `gorm:"primaryKey"`
	Username  string
	FullName  string
	Bio       string `gorm:"type:text"`
	AvatarURL string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

type DocumentModel struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"not null;index"`
	Filename        string `gorm:"not null"`
	FileType        string `gorm:"not null"`
	DocumentType    string `gorm:"not null"`
	Content         string `gorm:"type:text;not null"`
	FileURL         string
	StorageKey      string
	SizeBytes       int64
	AnalyzedContent *string `gorm:"type:text"`
	QuizMetadata    datatypes.JSON
	Status          string `gorm:"not null;index"`
	ErrorMessage    string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

type ChatModel struct {
	ID            string  `gorm:"primaryKey"`
	UserID        string  `gorm:"not null;index"`
	Title         string  `gorm:"not null"`
	DocumentID    *string `gorm:"index"`
	MessageSeq    int64   `gorm:"not null;default:0"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ChatModel) TableName() string { return "chats" }

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ChatID    string    `gorm:"not null;uniqueIndex:idx_chat_history_chat_seq,priority:1"`
	Seq       int64     `gorm:"not null;uniqueIndex:idx_chat_history_chat_seq,priority:2"`
	UserID    string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string { return "chat_history" }

type VideoSuggestionModel struct {
	ID           string  `gorm:"primaryKey"`
	ChatID       string  `gorm:"not null;index"`
	DocumentID   *string `gorm:"index"`
	UserID       string  `gorm:"not null"`
	VideoID      string  `gorm:"not null"`
	Title        string  `gorm:"not null"`
	Description  string  `gorm:"type:text"`
	ThumbnailURL string
	CreatedAt    time.Time `gorm:"not null"`
}

func (VideoSuggestionModel) TableName() string { return "video_suggestions" }

type SecretModel struct {
	Name      string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SecretModel) TableName() string { return "secrets" }
