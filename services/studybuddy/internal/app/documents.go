package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/queue"
	"studybuddy/pkg/store"
)

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is what a successful upload produced. Chat and Message are
// nil while analysis is still queued.
type UploadResult struct {
	Document domain.Document `json:"document"`
	Chat     *domain.Chat    `json:"chat,omitempty"`
	Message  *domain.Message `json:"message,omitempty"`
	JobID    string          `json:"jobId,omitempty"`
}

// UploadOutcome is the per-file result of a multi-file upload.
type UploadOutcome struct {
	Filename string        `json:"filename"`
	Result   *UploadResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// UploadDocuments processes files one by one. A failing file does not stop
// the ones after it.
func (a *App) UploadDocuments(ctx context.Context, user domain.User, files []Upload, chatID string) ([]UploadOutcome, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	out := make([]UploadOutcome, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			out = append(out, UploadOutcome{Filename: f.Filename, Error: ctx.Err().Error(), Err: ctx.Err()})
			continue
		}
		res, err := a.UploadDocument(ctx, user, f, chatID)
		if err != nil {
			out = append(out, UploadOutcome{Filename: f.Filename, Error: err.Error(), Err: err})
			continue
		}
		out = append(out, UploadOutcome{Filename: f.Filename, Result: &res})
	}
	return out, nil
}

// UploadDocument stores, extracts and analyses one file. Any failure
// publishes exactly one upload.failed event for the user and no failed
// document.status event.
func (a *App) UploadDocument(ctx context.Context, user domain.User, up Upload, chatID string) (UploadResult, error) {
	res, err := a.uploadDocument(ctx, user, up, strings.TrimSpace(chatID))
	if err != nil {
		a.log(ctx).Warn("upload failed", "user_id", user.ID, "filename", up.Filename, "err", err)
		a.notifier.Publish(user.ID, notify.Event{
			Type:       notify.EventUploadFailed,
			DocumentID: res.Document.ID,
			Filename:   up.Filename,
			Message:    err.Error(),
		})
		return UploadResult{}, err
	}
	return res, nil
}

func (a *App) uploadDocument(ctx context.Context, user domain.User, up Upload, chatID string) (UploadResult, error) {
	filename := strings.TrimSpace(filepath.Base(up.Filename))
	if filename == "" || filename == "." {
		filename = "upload"
	}
	if len(up.Data) == 0 {
		return UploadResult{}, ErrEmptyFile
	}
	if int64(len(up.Data)) > a.maxUploadBytes {
		return UploadResult{}, ErrFileTooLarge
	}
	docType, contentType, err := classify(filename, up.ContentType, up.Data)
	if err != nil {
		return UploadResult{}, err
	}
	if docType == domain.DocumentImage && int64(len(up.Data)) > a.maxImageBytes {
		return UploadResult{}, fmt.Errorf("%w: images are limited to %d MB", ErrFileTooLarge, a.maxImageBytes>>20)
	}
	if docType == domain.DocumentImage && !a.ocrReads(contentType) {
		return UploadResult{}, fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}
	if chatID != "" {
		if _, err := a.ownedChat(user, chatID); err != nil {
			return UploadResult{}, err
		}
	}

	docID := util.NewID()
	key := documentKey(user.ID, docID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), contentType); err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	fileURL, err := a.objects.URL(ctx, key)
	if err != nil {
		a.deleteObject(ctx, key)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}

	text, err := a.extractText(ctx, docType, filename, contentType, up.Data)
	if err != nil {
		a.deleteObject(ctx, key)
		return UploadResult{}, err
	}

	now := a.now()
	doc := domain.Document{
		ID:           docID,
		UserID:       user.ID,
		Filename:     filename,
		FileType:     contentType,
		DocumentType: docType,
		Content:      text,
		FileURL:      fileURL,
		StorageKey:   key,
		SizeBytes:    int64(len(up.Data)),
		Status:       domain.DocumentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateDocument(doc); err != nil {
		a.deleteObject(ctx, key)
		return UploadResult{}, fmt.Errorf("save document: %w", err)
	}
	a.publishStatus(doc)

	if a.queue != nil {
		job, err := a.queue.Enqueue(ctx, doc.ID, user.ID, chatID)
		if err != nil {
			a.failDocument(ctx, doc, err)
			return UploadResult{Document: doc}, fmt.Errorf("enqueue analysis: %w", err)
		}
		return UploadResult{Document: doc, JobID: job.ID}, nil
	}

	res, err := a.analyzeDocument(ctx, doc, chatID)
	if err != nil {
		a.failDocument(ctx, doc, err)
		return UploadResult{Document: doc}, err
	}
	return res, nil
}

// ProcessAnalysisJob runs one queued analysis attempt. Documents no longer
// pending are skipped so redelivered jobs are harmless.
func (a *App) ProcessAnalysisJob(ctx context.Context, job queue.Job) error {
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.Status != domain.DocumentPending {
		return nil
	}
	chatID := job.ChatID
	if chatID != "" {
		if chat, found, err := a.store.GetChat(chatID); err != nil {
			return fmt.Errorf("load chat: %w", err)
		} else if !found || chat.UserID != doc.UserID {
			chatID = ""
		}
	}
	_, err = a.analyzeDocument(ctx, doc, chatID)
	return err
}

// AnalysisJobExhausted marks the document failed after the last attempt.
func (a *App) AnalysisJobExhausted(ctx context.Context, job queue.Job, cause error) {
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil || !ok {
		a.logger.Warn("exhausted job for unknown document", "document_id", job.DocumentID, "err", err)
		return
	}
	a.failDocument(ctx, doc, cause)
	a.notifier.Publish(doc.UserID, notify.Event{
		Type:       notify.EventUploadFailed,
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Message:    cause.Error(),
	})
}

// analyzeDocument summarises the document, optionally builds a quiz and
// then commits summary, chat link and assistant message in one transaction.
func (a *App) analyzeDocument(ctx context.Context, doc domain.Document, chatID string) (UploadResult, error) {
	content := truncateRunes(doc.Content, a.maxPromptChars)
	summary, err := a.generator.GenerateText(ctx, summarySystemPrompt, summaryPrompt(doc.Filename, content))
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return UploadResult{}, fmt.Errorf("%w: empty summary", ErrAnalysisFailed)
	}

	var quiz *domain.Quiz
	if a.quizOnUpload {
		q, err := a.buildQuiz(ctx, content, QuizOptions{})
		if err != nil {
			a.log(ctx).Warn("quiz generation skipped", "document_id", doc.ID, "err", err)
		} else {
			quiz = &q
		}
	}

	now := a.now()
	chat := domain.Chat{
		ID:        util.NewID(),
		UserID:    doc.UserID,
		Title:     truncateRunes(doc.Filename, 80),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if chatID != "" {
		chat.ID = chatID
	}
	savedChat, msg, err := a.store.CompleteAnalysis(store.AnalysisResult{
		DocumentID: doc.ID,
		Summary:    summary,
		Quiz:       quiz,
		Chat:       chat,
		Message: domain.Message{
			ID:        util.NewID(),
			UserID:    doc.UserID,
			Role:      domain.MessageRoleAssistant,
			Content:   summaryMessage(doc.Filename, summary),
			CreatedAt: now,
		},
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("complete analysis: %w", err)
	}
	a.transcripts.Append(savedChat.ID, msg)

	doc.AnalyzedContent = summary
	doc.Quiz = quiz
	doc.Status = domain.DocumentComplete
	doc.UpdatedAt = now
	a.publishStatus(doc, savedChat.ID)
	a.log(ctx).Info("document analysed", "document_id", doc.ID, "chat_id", savedChat.ID)
	return UploadResult{Document: doc, Chat: &savedChat, Message: &msg}, nil
}

// failDocument records the failure. It publishes nothing: callers report it
// to the user as the single upload.failed event.
func (a *App) failDocument(ctx context.Context, doc domain.Document, cause error) {
	if err := a.store.FailDocument(doc.ID, cause.Error()); err != nil {
		a.log(ctx).Error("mark document failed", "document_id", doc.ID, "err", err)
	}
}

func (a *App) publishStatus(doc domain.Document, chatID ...string) {
	ev := notify.Event{
		Type:       notify.EventDocumentStatus,
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     string(doc.Status),
		Message:    doc.ErrorMessage,
	}
	if len(chatID) > 0 {
		ev.ChatID = chatID[0]
	}
	a.notifier.Publish(doc.UserID, ev)
}

func (a *App) deleteObject(ctx context.Context, key string) {
	// the upload context may already be cancelled; cleanup still has to run
	if err := a.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		a.log(ctx).Warn("delete stored object", "key", key, "err", err)
	}
}

// ListDocuments returns the caller's documents, newest first.
func (a *App) ListDocuments(user domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns one of the caller's documents.
func (a *App) GetDocument(user domain.User, id string) (domain.Document, error) {
	return a.ownedDocument(user, id)
}

// DocumentURL returns a retrievable URL for the stored file.
func (a *App) DocumentURL(ctx context.Context, user domain.User, id string) (string, error) {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return "", err
	}
	if doc.StorageKey == "" {
		return doc.FileURL, nil
	}
	u, err := a.objects.URL(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return u, nil
}

// DeleteDocument removes the document row, unlinks its chats and then deletes
// the stored object.
func (a *App) DeleteDocument(ctx context.Context, user domain.User, id string) error {
	doc, err := a.ownedDocument(user, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.StorageKey != "" {
		a.deleteObject(ctx, doc.StorageKey)
	}
	return nil
}

func (a *App) ownedDocument(user domain.User, id string) (domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Document{}, ErrDocumentNotFound
	}
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if doc.UserID != user.ID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}
