package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
	"studybuddy/pkg/notify"
	"studybuddy/pkg/store"
)

const maxMessageRunes = 8000

// TurnResult is the outcome of one chat turn. Notice is set when the reply
// is the apology message instead of a model answer.
type TurnResult struct {
	UserMessage domain.Message           `json:"userMessage"`
	Reply       domain.Message           `json:"reply"`
	Notice      string                   `json:"notice,omitempty"`
	Videos      []domain.VideoSuggestion `json:"videos,omitempty"`
}

// SendMessage persists the user's input, asks the model for a reply and
// persists that too. A failed model call is answered with an apology; the
// user message stays stored either way.
func (a *App) SendMessage(ctx context.Context, user domain.User, chatID, input string) (TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TurnResult{}, ErrMessageRequired
	}
	if utf8.RuneCountInString(input) > maxMessageRunes {
		return TurnResult{}, ErrMessageTooLong
	}
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return TurnResult{}, err
	}

	userMsg, err := a.appendMessage(chat.ID, domain.Message{
		ID:        util.NewID(),
		UserID:    user.ID,
		Role:      domain.MessageRoleUser,
		Content:   input,
		CreatedAt: a.now(),
	})
	if err != nil {
		return TurnResult{}, err
	}
	chat.LastSeq = userMsg.Seq

	var (
		summary string
		history []domain.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if chat.DocumentID == "" {
			return nil
		}
		doc, ok, err := a.store.GetDocument(chat.DocumentID)
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if ok && doc.UserID == user.ID {
			summary = doc.AnalyzedContent
		}
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		msgs, err := a.loadTranscript(chat, a.historyLimit+1)
		if err != nil {
			return err
		}
		// the newest message is the input itself
		if n := len(msgs); n > 0 && msgs[n-1].ID == userMsg.ID {
			msgs = msgs[:n-1]
		}
		history = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return a.apologise(ctx, user, chat, userMsg, err)
	}

	system := genericSystemPrompt
	if summary != "" {
		system = chatSystemPrompt
	}
	answer, err := a.generator.GenerateText(ctx, system, chatPrompt(summary, history, input))
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		return a.apologise(ctx, user, chat, userMsg, fmt.Errorf("%w: %v", ErrAnalysisFailed, err))
	}

	reply, err := a.appendMessage(chat.ID, domain.Message{
		ID:        util.NewID(),
		UserID:    user.ID,
		Role:      domain.MessageRoleAssistant,
		Content:   strings.TrimSpace(answer),
		CreatedAt: a.now(),
	})
	if err != nil {
		return TurnResult{}, err
	}
	res := TurnResult{UserMessage: userMsg, Reply: reply}

	if a.videosOnTurn && a.videos != nil {
		videos, err := a.suggestVideos(ctx, user, chat, input, "")
		if err != nil {
			a.log(ctx).Warn("video suggestions skipped", "chat_id", chat.ID, "err", err)
		} else {
			res.Videos = videos
		}
	}
	return res, nil
}

// apologise records the apology reply and tells the user's sessions that
// the turn failed.
func (a *App) apologise(ctx context.Context, user domain.User, chat domain.Chat, userMsg domain.Message, cause error) (TurnResult, error) {
	a.log(ctx).Error("chat turn failed", "chat_id", chat.ID, "err", cause)
	a.notifier.Publish(user.ID, notify.Event{
		Type:    notify.EventChatFailed,
		ChatID:  chat.ID,
		Message: "the assistant could not answer",
	})
	reply, err := a.appendMessage(chat.ID, domain.Message{
		ID:        util.NewID(),
		UserID:    user.ID,
		Role:      domain.MessageRoleAssistant,
		Content:   apologyMessage,
		CreatedAt: a.now(),
	})
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{UserMessage: userMsg, Reply: reply, Notice: "The assistant is unavailable right now."}, nil
}

func (a *App) appendMessage(chatID string, msg domain.Message) (domain.Message, error) {
	saved, err := a.store.AppendMessage(chatID, msg)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			a.transcripts.Invalidate(chatID)
			return domain.Message{}, ErrChatNotFound
		}
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	a.transcripts.Append(chatID, saved)
	return saved, nil
}
