package store

import (
	"errors"
	"time"

	"studybuddy/pkg/domain"
)

var (
	// ErrChatNotFound is returned by writes that target a missing chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrDocumentNotFound is returned by writes that target a missing document.
	ErrDocumentNotFound = errors.New("document not found")
)

// AnalysisResult is everything written when a document finishes analysis.
// Chat is linked when it already exists and created otherwise.
type AnalysisResult struct {
	DocumentID string
	Summary    string
	Quiz       *domain.Quiz
	Chat       domain.Chat
	Message    domain.Message
}

// Store defines persistence for the study assistant.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	UserCount() (int, error)

	// profiles
	GetProfile(userID string) (domain.Profile, bool, error)
	SaveProfile(domain.Profile) error

	// documents
	CreateDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByUser(userID string) ([]domain.Document, error)
	CompleteAnalysis(res AnalysisResult) (domain.Chat, domain.Message, error)
	FailDocument(id string, errMsg string) error
	SetDocumentQuiz(id string, quiz *domain.Quiz) error
	DeleteDocument(id string) error
	FailStaleDocuments(before time.Time, errMsg string) (int64, error)

	// chats
	CreateChat(domain.Chat) error
	GetChat(id string) (domain.Chat, bool, error)
	ListChatsByUser(userID string, limit int) ([]domain.Chat, error)
	RenameChat(id, title string) error
	DeleteChat(id string) error
	AppendMessage(chatID string, msg domain.Message) (domain.Message, error)
	ListMessages(chatID string, limit int) ([]domain.Message, error)
	DeleteOrphanedMessages() (int64, error)

	// video suggestions
	SaveVideoSuggestions(items []domain.VideoSuggestion) error
	ListVideoSuggestions(chatID string) ([]domain.VideoSuggestion, error)

	// secrets
	GetSecret(name string) (domain.Secret, bool, error)
	PutSecret(domain.Secret) error
	ListSecretNames() ([]string, error)
	DeleteSecret(name string) error
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// SessionInspector is an optional capability that reports token expiry.
type SessionInspector interface {
	ExpiresAt(token string) (time.Time, error)
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is implemented by session stores that publish public keys.
type JWKSProvider interface {
	JWKS() []JWK
}
