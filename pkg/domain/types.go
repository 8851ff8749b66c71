package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// DocumentStatus tracks how far analysis of an uploaded document got.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending_analysis"
	DocumentComplete DocumentStatus = "complete"
	DocumentFailed   DocumentStatus = "failed"
)

// DocumentType is the extraction class chosen for an upload.
type DocumentType string

const (
	DocumentImage DocumentType = "image"
	DocumentText  DocumentType = "text"
	DocumentPDF   DocumentType = "pdf"
	DocumentHTML  DocumentType = "html"
	DocumentEPUB  DocumentType = "epub"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Profile struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Document struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Filename        string         `json:"filename"`
	FileType        string         `json:"fileType"`
	DocumentType    DocumentType   `json:"documentType"`
	Content         string         `json:"content"`
	FileURL         string         `json:"fileUrl,omitempty"`
	StorageKey      string         `json:"-"`
	SizeBytes       int64          `json:"sizeBytes"`
	AnalyzedContent string         `json:"analyzedContent,omitempty"`
	Quiz            *Quiz          `json:"quiz,omitempty"`
	Status          DocumentStatus `json:"status"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type Chat struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	DocumentID    string     `json:"documentId,omitempty"`
	LastSeq       int64      `json:"lastSeq"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Message is one chat_history row. Seq is assigned by the store and is
// strictly increasing within a chat.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	UserID    string      `json:"userId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Seq       int64       `json:"seq"`
	CreatedAt time.Time   `json:"createdAt"`
}

type VideoSuggestion struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chatId"`
	DocumentID   string    `json:"documentId,omitempty"`
	UserID       string    `json:"userId"`
	VideoID      string    `json:"videoId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Secret struct {
	Name      string    `json:"name"`
	Value     string    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type QuizDifficulty string

const (
	QuizEasy   QuizDifficulty = "easy"
	QuizMedium QuizDifficulty = "medium"
	QuizHard   QuizDifficulty = "hard"
)

type Quiz struct {
	Questions        []QuizQuestion `json:"questions"`
	Difficulty       QuizDifficulty `json:"difficulty"`
	TimeLimitMinutes int            `json:"timeLimitMinutes"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}
