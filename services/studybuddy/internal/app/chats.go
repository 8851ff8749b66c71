package app

import (
	"errors"
	"fmt"
	"strings"

	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/store"
)

const (
	chatTitleLayout = "Chat 2006-01-02 15:04"
	maxTitleRunes   = 120
)

// ListChats returns the caller's chats, newest first.
func (a *App) ListChats(user domain.User, limit int) ([]domain.Chat, error) {
	if limit <= 0 || limit > a.chatListLimit {
		limit = a.chatListLimit
	}
	chats, err := a.store.ListChatsByUser(user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// CreateChat starts a new chat, optionally linked to one of the caller's
// documents. An empty title is derived from the current time.
func (a *App) CreateChat(user domain.User, title, documentID string) (domain.Chat, error) {
	now := a.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = now.Format(chatTitleLayout)
	}
	chat := domain.Chat{
		ID:        util.NewID(),
		UserID:    user.ID,
		Title:     truncateRunes(title, maxTitleRunes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if documentID = strings.TrimSpace(documentID); documentID != "" {
		doc, err := a.ownedDocument(user, documentID)
		if err != nil {
			return domain.Chat{}, err
		}
		chat.DocumentID = doc.ID
	}
	if err := a.store.CreateChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns one of the caller's chats.
func (a *App) GetChat(user domain.User, chatID string) (domain.Chat, error) {
	return a.ownedChat(user, chatID)
}

// RenameChat changes a chat title.
func (a *App) RenameChat(user domain.User, chatID, title string) (domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Chat{}, ErrTitleRequired
	}
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	chat.Title = truncateRunes(title, maxTitleRunes)
	if err := a.store.RenameChat(chat.ID, chat.Title); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			return domain.Chat{}, ErrChatNotFound
		}
		return domain.Chat{}, fmt.Errorf("rename chat: %w", err)
	}
	chat.UpdatedAt = a.now()
	return chat, nil
}

// GetTranscript returns the messages of a chat ordered by sequence. A chat
// that no longer exists has an empty transcript.
func (a *App) GetTranscript(user domain.User, chatID string) ([]domain.Message, error) {
	chatID = strings.TrimSpace(chatID)
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		a.transcripts.Invalidate(chatID)
		return []domain.Message{}, nil
	}
	if chat.UserID != user.ID {
		return nil, ErrForbidden
	}
	return a.loadTranscript(chat, 0)
}

// loadTranscript serves the full transcript from the cache when it matches
// the chat's current sequence and otherwise reloads it. limit > 0 returns
// only the last limit messages.
func (a *App) loadTranscript(chat domain.Chat, limit int) ([]domain.Message, error) {
	msgs, ok := a.transcripts.Get(chat.ID, chat.LastSeq)
	if !ok {
		loaded, err := a.store.ListMessages(chat.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		seq := int64(0)
		if n := len(loaded); n > 0 {
			seq = loaded[n-1].Seq
		}
		a.transcripts.Put(chat.ID, seq, loaded)
		msgs = loaded
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// DeleteChat removes the history, the video suggestions and the chat row in
// one transaction.
func (a *App) DeleteChat(user domain.User, chatID string) error {
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteChat(chat.ID); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			return ErrChatNotFound
		}
		return fmt.Errorf("delete chat: %w", err)
	}
	a.transcripts.Invalidate(chat.ID)
	return nil
}

func (a *App) ownedChat(user domain.User, chatID string) (domain.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.Chat{}, ErrChatNotFound
	}
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	if chat.UserID != user.ID {
		return domain.Chat{}, ErrForbidden
	}
	return chat, nil
}
