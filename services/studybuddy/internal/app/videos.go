package app

import (
	"context"
	"fmt"
	"strings"

	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
)

const maxSearchQueryRunes = 120

// SuggestVideos searches for videos related to a chat and stores the hits.
// Without a query, one is derived from the latest user message.
func (a *App) SuggestVideos(ctx context.Context, user domain.User, chatID, query string) ([]domain.VideoSuggestion, error) {
	if a.videos == nil {
		return nil, ErrVideosUnavailable
	}
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	var input string
	if query == "" {
		msgs, err := a.loadTranscript(chat, 0)
		if err != nil {
			return nil, err
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == domain.MessageRoleUser {
				input = msgs[i].Content
				break
			}
		}
		if input == "" {
			return nil, ErrMessageRequired
		}
	}
	return a.suggestVideos(ctx, user, chat, input, query)
}

// ListVideoSuggestions returns the suggestions stored for a chat.
func (a *App) ListVideoSuggestions(user domain.User, chatID string) ([]domain.VideoSuggestion, error) {
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListVideoSuggestions(chat.ID)
	if err != nil {
		return nil, fmt.Errorf("list video suggestions: %w", err)
	}
	if items == nil {
		items = []domain.VideoSuggestion{}
	}
	return items, nil
}

func (a *App) suggestVideos(ctx context.Context, user domain.User, chat domain.Chat, input, query string) ([]domain.VideoSuggestion, error) {
	if query == "" {
		derived, err := a.generator.GenerateText(ctx, searchQuerySystemPrompt, input)
		if err != nil {
			a.log(ctx).Warn("search query generation failed, using message", "chat_id", chat.ID, "err", err)
			derived = input
		}
		query = strings.Trim(strings.TrimSpace(derived), `"`)
		if query == "" {
			query = input
		}
	}
	query = truncateRunes(query, maxSearchQueryRunes)

	hits, err := a.videos.Search(ctx, query, a.videoResults)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoSearchFailed, err)
	}
	now := a.now()
	items := make([]domain.VideoSuggestion, 0, len(hits))
	for _, v := range hits {
		items = append(items, domain.VideoSuggestion{
			ID:           util.NewID(),
			ChatID:       chat.ID,
			DocumentID:   chat.DocumentID,
			UserID:       user.ID,
			VideoID:      v.ID,
			Title:        v.Title,
			Description:  v.Description,
			ThumbnailURL: v.ThumbnailURL,
			CreatedAt:    now,
		})
	}
	if len(items) == 0 {
		return items, nil
	}
	if err := a.store.SaveVideoSuggestions(items); err != nil {
		return nil, fmt.Errorf("save video suggestions: %w", err)
	}
	a.log(ctx).Info("videos suggested", "chat_id", chat.ID, "query", query, "count", len(items))
	return items, nil
}
