package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"studybuddy/pkg/domain"
)

const migrateLockID int64 = 51730217

// GormStore implements Store using GORM. Postgres in production, any gorm
// dialector (SQLite in tests) otherwise.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres DB and runs migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn))
}

// OpenGormStore opens the store on an arbitrary dialector and runs migrations.
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func migrate(db *gorm.DB) error {
	run := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProfileModel{},
			&DocumentModel{},
			&ChatModel{},
			&MessageModel{},
			&VideoSuggestionModel{},
			&SecretModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() != "postgres" {
		return run(db)
	}
	return withMigrationLock(db, func(tx *gorm.DB) error {
		if err := run(tx); err != nil {
			return err
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'profiles'
					AND constraint_name = 'profiles_user_id_fkey'
				) THEN
					ALTER TABLE profiles
					ADD CONSTRAINT profiles_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chats'
					AND constraint_name = 'chats_document_id_fkey'
				) THEN
					UPDATE chats SET document_id = NULL
					WHERE document_id IS NOT NULL
					  AND NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = chats.document_id);
					ALTER TABLE chats
					ADD CONSTRAINT chats_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE SET NULL;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	})
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetProfile returns the profile of a user.
func (s *GormStore) GetProfile(userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// SaveProfile creates or updates a profile.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model := profileToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "full_name", "bio", "avatar_url", "updated_at"}),
	}).Create(&model).Error
}

// CreateDocument inserts a freshly extracted document.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model, err := documentToModel(d)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByUser returns a user's documents, newest first.
func (s *GormStore) ListDocumentsByUser(userID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// CompleteAnalysis stores the summary, links or creates the chat and appends
// the assistant message, all in one transaction.
func (s *GormStore) CompleteAnalysis(res AnalysisResult) (domain.Chat, domain.Message, error) {
	if strings.TrimSpace(res.Summary) == "" {
		return domain.Chat{}, domain.Message{}, fmt.Errorf("complete analysis: summary is empty")
	}
	quiz, err := marshalQuiz(res.Quiz)
	if err != nil {
		return domain.Chat{}, domain.Message{}, err
	}
	var (
		chat domain.Chat
		msg  domain.Message
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		summary := res.Summary
		now := time.Now().UTC()
		updates := map[string]any{
			"analyzed_content": &summary,
			"status":           string(domain.DocumentComplete),
			"error_message":    "",
			"updated_at":       now,
		}
		if quiz != nil {
			updates["quiz_metadata"] = quiz
		}
		result := tx.Model(&DocumentModel{}).Where("id = ?", res.DocumentID).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("update document: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDocumentNotFound
		}

		var existing ChatModel
		err := tx.First(&existing, "id = ?", res.Chat.ID).Error
		switch {
		case err == nil:
			if err := tx.Model(&ChatModel{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"document_id": res.DocumentID,
				"updated_at":  now,
			}).Error; err != nil {
				return fmt.Errorf("link chat: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			c := res.Chat
			c.DocumentID = res.DocumentID
			model := chatToModel(c)
			model.MessageSeq = 0
			model.LastMessageAt = nil
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("create chat: %w", err)
			}
		default:
			return fmt.Errorf("load chat: %w", err)
		}

		msg, err = appendMessageTx(tx, res.Chat.ID, res.Message)
		if err != nil {
			return err
		}
		var model ChatModel
		if err := tx.First(&model, "id = ?", res.Chat.ID).Error; err != nil {
			return fmt.Errorf("reload chat: %w", err)
		}
		chat = chatFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Chat{}, domain.Message{}, err
	}
	return chat, msg, nil
}

// FailDocument marks a document as failed with an error message.
func (s *GormStore) FailDocument(id string, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.DocumentFailed),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetDocumentQuiz replaces the quiz payload of a document.
func (s *GormStore) SetDocumentQuiz(id string, quiz *domain.Quiz) error {
	raw, err := marshalQuiz(quiz)
	if err != nil {
		return err
	}
	result := s.db.Model(&DocumentModel{}).Where("id = ?", id).Updates(map[string]any{
		"quiz_metadata": raw,
		"updated_at":    time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument unlinks chats, drops suggestions and removes the document.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ChatModel{}).Where("document_id = ?", id).Update("document_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&VideoSuggestionModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// FailStaleDocuments marks documents still pending since before as failed.
func (s *GormStore) FailStaleDocuments(before time.Time, errMsg string) (int64, error) {
	result := s.db.Model(&DocumentModel{}).
		Where("status = ? AND created_at < ?", string(domain.DocumentPending), before.UTC()).
		Updates(map[string]any{
			"status":        string(domain.DocumentFailed),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// CreateChat creates a new chat record.
func (s *GormStore) CreateChat(c domain.Chat) error {
	model := chatToModel(c)
	return s.db.Create(&model).Error
}

// GetChat returns one chat by ID.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser returns the newest chats of a user.
func (s *GormStore) ListChatsByUser(userID string, limit int) ([]domain.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []ChatModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Chat, 0, len(models))
	for _, model := range models {
		items = append(items, chatFromModel(model))
	}
	return items, nil
}

// RenameChat updates the title of a chat.
func (s *GormStore) RenameChat(id, title string) error {
	result := s.db.Model(&ChatModel{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes history, suggestions and then the chat row.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&VideoSuggestionModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ChatModel{}, "id = ?", id).Error
	})
}

// AppendMessage records a message under the next sequence number of the chat.
func (s *GormStore) AppendMessage(chatID string, msg domain.Message) (domain.Message, error) {
	var saved domain.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		saved, err = appendMessageTx(tx, chatID, msg)
		return err
	})
	return saved, err
}

// appendMessageTx bumps the chat sequence first so concurrent appends to the
// same chat serialise on the chat row.
func appendMessageTx(tx *gorm.DB, chatID string, msg domain.Message) (domain.Message, error) {
	result := tx.Model(&ChatModel{}).Where("id = ?", chatID).
		UpdateColumn("message_seq", gorm.Expr("message_seq + 1"))
	if result.Error != nil {
		return domain.Message{}, fmt.Errorf("bump sequence: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.Message{}, ErrChatNotFound
	}
	var chat ChatModel
	if err := tx.Select("id", "message_seq", "last_message_at").First(&chat, "id = ?", chatID).Error; err != nil {
		return domain.Message{}, fmt.Errorf("load chat: %w", err)
	}

	createdAt := msg.CreatedAt.UTC()
	if msg.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if chat.LastMessageAt != nil && createdAt.Before(chat.LastMessageAt.UTC()) {
		createdAt = chat.LastMessageAt.UTC()
	}

	model := messageToModel(msg)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	model.ChatID = chatID
	model.Seq = chat.MessageSeq
	model.CreatedAt = createdAt
	if err := tx.Create(&model).Error; err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Model(&ChatModel{}).Where("id = ?", chatID).UpdateColumns(map[string]any{
		"last_message_at": createdAt,
		"updated_at":      time.Now().UTC(),
	}).Error; err != nil {
		return domain.Message{}, fmt.Errorf("touch chat: %w", err)
	}
	return messageFromModel(model), nil
}

// ListMessages returns the transcript of a chat in sequence order. A positive
// limit keeps only the most recent messages.
func (s *GormStore) ListMessages(chatID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	if limit > 0 {
		if err := s.db.Where("chat_id = ?", chatID).
			Order("seq DESC").
			Limit(limit).
			Find(&models).Error; err != nil {
			return nil, err
		}
		msgs := make([]domain.Message, 0, len(models))
		for i := len(models) - 1; i >= 0; i-- {
			msgs = append(msgs, messageFromModel(models[i]))
		}
		return msgs, nil
	}
	if err := s.db.Where("chat_id = ?", chatID).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// DeleteOrphanedMessages removes history and suggestions whose chat is gone.
func (s *GormStore) DeleteOrphanedMessages() (int64, error) {
	var total int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("NOT EXISTS (SELECT 1 FROM chats c WHERE c.id = chat_history.chat_id)").
			Delete(&MessageModel{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Where("NOT EXISTS (SELECT 1 FROM chats c WHERE c.id = video_suggestions.chat_id)").
			Delete(&VideoSuggestionModel{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

// SaveVideoSuggestions inserts a batch of suggestions.
func (s *GormStore) SaveVideoSuggestions(items []domain.VideoSuggestion) error {
	if len(items) == 0 {
		return nil
	}
	models := make([]VideoSuggestionModel, 0, len(items))
	for _, item := range items {
		models = append(models, videoToModel(item))
	}
	return s.db.CreateInBatches(&models, 50).Error
}

// ListVideoSuggestions returns the suggestions of a chat, newest first.
func (s *GormStore) ListVideoSuggestions(chatID string) ([]domain.VideoSuggestion, error) {
	var models []VideoSuggestionModel
	if err := s.db.Where("chat_id = ?", chatID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.VideoSuggestion, 0, len(models))
	for _, m := range models {
		items = append(items, videoFromModel(m))
	}
	return items, nil
}

// GetSecret reads one secret.
func (s *GormStore) GetSecret(name string) (domain.Secret, bool, error) {
	var model SecretModel
	if err := s.db.First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Secret{}, false, nil
		}
		return domain.Secret{}, false, err
	}
	return domain.Secret{Name: model.Name, Value: model.Value, UpdatedAt: model.UpdatedAt}, true, nil
}

// PutSecret creates or replaces a secret.
func (s *GormStore) PutSecret(secret domain.Secret) error {
	now := time.Now().UTC()
	model := SecretModel{Name: secret.Name, Value: secret.Value, CreatedAt: now, UpdatedAt: now}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

// ListSecretNames returns secret names in lexical order.
func (s *GormStore) ListSecretNames() ([]string, error) {
	var names []string
	if err := s.db.Model(&SecretModel{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// DeleteSecret removes a secret.
func (s *GormStore) DeleteSecret(name string) error {
	return s.db.Delete(&SecretModel{}, "name = ?", name).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		UserID:    p.UserID,
		Username:  p.Username,
		FullName:  p.FullName,
		Bio:       p.Bio,
		AvatarURL: p.AvatarURL,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		UserID:    m.UserID,
		Username:  m.Username,
		FullName:  m.FullName,
		Bio:       m.Bio,
		AvatarURL: m.AvatarURL,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func marshalQuiz(q *domain.Quiz) (datatypes.JSON, error) {
	if q == nil {
		return nil, nil
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode quiz: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func documentToModel(d domain.Document) (DocumentModel, error) {
	quiz, err := marshalQuiz(d.Quiz)
	if err != nil {
		return DocumentModel{}, err
	}
	var analyzed *string
	if strings.TrimSpace(d.AnalyzedContent) != "" {
		value := d.AnalyzedContent
		analyzed = &value
	}
	status := d.Status
	if status == "" {
		status = domain.DocumentPending
	}
	return DocumentModel{
		ID:              d.ID,
		UserID:          d.UserID,
		Filename:        d.Filename,
		FileType:        d.FileType,
		DocumentType:    string(d.DocumentType),
		Content:         d.Content,
		FileURL:         d.FileURL,
		StorageKey:      d.StorageKey,
		SizeBytes:       d.SizeBytes,
		AnalyzedContent: analyzed,
		QuizMetadata:    quiz,
		Status:          string(status),
		ErrorMessage:    d.ErrorMessage,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

func documentFromModel(m DocumentModel) domain.Document {
	analyzed := ""
	if m.AnalyzedContent != nil {
		analyzed = *m.AnalyzedContent
	}
	var quiz *domain.Quiz
	if len(m.QuizMetadata) > 0 && string(m.QuizMetadata) != "null" {
		var q domain.Quiz
		if err := json.Unmarshal(m.QuizMetadata, &q); err == nil {
			quiz = &q
		}
	}
	return domain.Document{
		ID:              m.ID,
		UserID:          m.UserID,
		Filename:        m.Filename,
		FileType:        m.FileType,
		DocumentType:    domain.DocumentType(m.DocumentType),
		Content:         m.Content,
		FileURL:         m.FileURL,
		StorageKey:      m.StorageKey,
		SizeBytes:       m.SizeBytes,
		AnalyzedContent: analyzed,
		Quiz:            quiz,
		Status:          domain.DocumentStatus(m.Status),
		ErrorMessage:    m.ErrorMessage,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func chatToModel(c domain.Chat) ChatModel {
	var documentID *string
	if strings.TrimSpace(c.DocumentID) != "" {
		value := strings.TrimSpace(c.DocumentID)
		documentID = &value
	}
	return ChatModel{
		ID:            c.ID,
		UserID:        c.UserID,
		Title:         c.Title,
		DocumentID:    documentID,
		MessageSeq:    c.LastSeq,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	documentID := ""
	if m.DocumentID != nil {
		documentID = *m.DocumentID
	}
	return domain.Chat{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		DocumentID:    documentID,
		LastSeq:       m.MessageSeq,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Seq:       msg.Seq,
		UserID:    msg.UserID,
		Role:      string(msg.Role),
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Message,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
	}
}

func videoToModel(v domain.VideoSuggestion) VideoSuggestionModel {
	var documentID *string
	if strings.TrimSpace(v.DocumentID) != "" {
		value := v.DocumentID
		documentID = &value
	}
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	id := v.ID
	if id == "" {
		id = uuid.NewString()
	}
	return VideoSuggestionModel{
		ID:           id,
		ChatID:       v.ChatID,
		DocumentID:   documentID,
		UserID:       v.UserID,
		VideoID:      v.VideoID,
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: v.ThumbnailURL,
		CreatedAt:    createdAt,
	}
}

func videoFromModel(m VideoSuggestionModel) domain.VideoSuggestion {
	documentID := ""
	if m.DocumentID != nil {
		documentID = *m.DocumentID
	}
	return domain.VideoSuggestion{
		ID:           m.ID,
		ChatID:       m.ChatID,
		DocumentID:   documentID,
		UserID:       m.UserID,
		VideoID:      m.VideoID,
		Title:        m.Title,
		Description:  m.Description,
		ThumbnailURL: m.ThumbnailURL,
		CreatedAt:    m.CreatedAt,
	}
}
