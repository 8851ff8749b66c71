package app

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"studybuddy/pkg/domain"
)

const (
	ExportMarkdown = "markdown"
	ExportHTML     = "html"
)

// markdown renders exported transcripts. Raw HTML in messages is not passed
// through because the renderer is not created with WithUnsafe.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
		gmhtml.WithXHTML(),
	),
)

// ExportChat renders a chat transcript as markdown or as a standalone HTML
// page. It returns the body and its content type.
func (a *App) ExportChat(user domain.User, chatID, format string) ([]byte, string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "md" {
		format = ExportMarkdown
	}
	if format != ExportMarkdown && format != ExportHTML {
		return nil, "", fmt.Errorf("%w: format must be markdown or html", ErrInvalidExport)
	}
	chat, err := a.ownedChat(user, chatID)
	if err != nil {
		return nil, "", err
	}
	msgs, err := a.loadTranscript(chat, 0)
	if err != nil {
		return nil, "", err
	}
	md := transcriptMarkdown(chat, msgs)
	if format == ExportMarkdown {
		return md, "text/markdown; charset=utf-8", nil
	}

	var body bytes.Buffer
	if err := markdown.Convert(md, &body); err != nil {
		return nil, "", fmt.Errorf("render transcript: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\" />\n<title>%s</title>\n</head>\n<body>\n",
		html.EscapeString(chat.Title))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), "text/html; charset=utf-8", nil
}

func transcriptMarkdown(chat domain.Chat, msgs []domain.Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", chat.Title)
	for _, m := range msgs {
		who := "You"
		if m.Role == domain.MessageRoleAssistant {
			who = "Assistant"
		}
		fmt.Fprintf(&b, "### %s (%s)\n\n%s\n\n", who, m.CreatedAt.UTC().Format("2006-01-02 15:04"), strings.TrimSpace(m.Content))
	}
	return b.Bytes()
}
