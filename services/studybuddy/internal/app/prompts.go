package app

import (
	"fmt"
	"strings"

	"studybuddy/pkg/domain"
)

const (
	summarySystemPrompt = "You are a study assistant. Summarise the material a student uploaded. " +
		"Give a short overview followed by the key concepts as a bullet list. Use markdown."

	chatSystemPrompt = "You are a friendly study assistant. Answer the student's question clearly and concisely. " +
		"When study material is provided, ground your answer in it and say so when it does not cover the question."

	genericSystemPrompt = "You are a friendly study assistant helping a student learn. " +
		"Explain concepts step by step and suggest how to practise them."

	searchQuerySystemPrompt = "Turn the student's message into a short YouTube search query (at most 8 words) " +
		"for an educational video. Reply with the query only."

	quizSystemPrompt = "You write multiple-choice quizzes for students. Reply with JSON only."

	apologyMessage = "Sorry, I couldn't come up with an answer right now. Please try again in a moment."
)

func summaryPrompt(filename, content string) string {
	return fmt.Sprintf("File: %s\n\nContent:\n%s", filename, content)
}

// chatPrompt folds the document summary, the recent transcript and the new
// input into one prompt.
func chatPrompt(summary string, history []domain.Message, input string) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("Study material summary:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "Student"
			if m.Role == domain.MessageRoleAssistant {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Student: ")
	b.WriteString(input)
	return b.String()
}

func quizPrompt(content string, count int, difficulty domain.QuizDifficulty) string {
	return fmt.Sprintf(`Create %d %s multiple-choice questions about the material below.
Return a JSON array where every item is {"question": string, "options": [4 strings], "correctAnswer": index 0-3}.

Material:
%s`, count, difficulty, content)
}

func summaryMessage(filename, summary string) string {
	return fmt.Sprintf("I've analysed **%s**. Here's a summary:\n\n%s", filename, summary)
}
