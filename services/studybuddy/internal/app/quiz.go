package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"studybuddy/pkg/ai"
	"studybuddy/pkg/domain"
)

const (
	defaultQuizQuestions = 5
	maxQuizQuestions     = 20
	defaultQuizMinutes   = 10
	maxQuizMinutes       = 60
	quizOptionCount      = 4
)

// QuizOptions tunes quiz generation. Zero values take the defaults.
type QuizOptions struct {
	Count            int                   `json:"count"`
	Difficulty       domain.QuizDifficulty `json:"difficulty"`
	TimeLimitMinutes int                   `json:"timeLimitMinutes"`
}

// QuizGrade is the result of grading a set of answers.
type QuizGrade struct {
	Score   int    `json:"score"`
	Total   int    `json:"total"`
	Correct []bool `json:"correct"`
}

func (o QuizOptions) normalize() (QuizOptions, error) {
	if o.Count == 0 {
		o.Count = defaultQuizQuestions
	}
	if o.TimeLimitMinutes == 0 {
		o.TimeLimitMinutes = defaultQuizMinutes
	}
	if o.Difficulty == "" {
		o.Difficulty = domain.QuizMedium
	}
	if o.Count < 1 || o.Count > maxQuizQuestions {
		return o, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidQuizOptions, maxQuizQuestions)
	}
	if o.TimeLimitMinutes < 1 || o.TimeLimitMinutes > maxQuizMinutes {
		return o, fmt.Errorf("%w: time limit must be between 1 and %d minutes", ErrInvalidQuizOptions, maxQuizMinutes)
	}
	switch o.Difficulty {
	case domain.QuizEasy, domain.QuizMedium, domain.QuizHard:
	default:
		return o, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidQuizOptions)
	}
	return o, nil
}

// GenerateQuiz builds a quiz from an analysed document and stores it on the
// document, replacing any previous one.
func (a *App) GenerateQuiz(ctx context.Context, user domain.User, documentID string, opts QuizOptions) (domain.Quiz, error) {
	opts, err := opts.normalize()
	if err != nil {
		return domain.Quiz{}, err
	}
	doc, err := a.ownedDocument(user, documentID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if doc.Status != domain.DocumentComplete {
		return domain.Quiz{}, ErrDocumentNotAnalyzed
	}
	quiz, err := a.buildQuiz(ctx, truncateRunes(doc.Content, a.maxPromptChars), opts)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := a.store.SetDocumentQuiz(doc.ID, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	return quiz, nil
}

// GetQuiz returns the stored quiz of a document.
func (a *App) GetQuiz(user domain.User, documentID string) (domain.Quiz, error) {
	doc, err := a.ownedDocument(user, documentID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if doc.Quiz == nil || len(doc.Quiz.Questions) == 0 {
		return domain.Quiz{}, ErrQuizNotFound
	}
	return *doc.Quiz, nil
}

// GradeQuiz scores answers given as option indexes, one per question.
func (a *App) GradeQuiz(user domain.User, documentID string, answers []int) (QuizGrade, error) {
	quiz, err := a.GetQuiz(user, documentID)
	if err != nil {
		return QuizGrade{}, err
	}
	if len(answers) != len(quiz.Questions) {
		return QuizGrade{}, fmt.Errorf("%w: got %d answers for %d questions", ErrInvalidQuizAnswers, len(answers), len(quiz.Questions))
	}
	grade := QuizGrade{Total: len(quiz.Questions), Correct: make([]bool, len(quiz.Questions))}
	for i, q := range quiz.Questions {
		if answers[i] == q.CorrectAnswer {
			grade.Correct[i] = true
			grade.Score++
		}
	}
	return grade, nil
}

func (a *App) buildQuiz(ctx context.Context, content string, opts QuizOptions) (domain.Quiz, error) {
	opts, err := opts.normalize()
	if err != nil {
		return domain.Quiz{}, err
	}
	raw, err := a.generator.GenerateText(ctx, quizSystemPrompt, quizPrompt(content, opts.Count, opts.Difficulty))
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	questions, err := parseQuizQuestions(raw)
	if err != nil {
		return domain.Quiz{}, err
	}
	if len(questions) > opts.Count {
		questions = questions[:opts.Count]
	}
	return domain.Quiz{
		Questions:        questions,
		Difficulty:       opts.Difficulty,
		TimeLimitMinutes: opts.TimeLimitMinutes,
		GeneratedAt:      a.now(),
	}, nil
}

// parseQuizQuestions accepts a bare JSON array or an object wrapping it in
// "questions", with or without a code fence around it.
func parseQuizQuestions(raw string) ([]domain.QuizQuestion, error) {
	body := ai.StripCodeFence(raw)
	if i := strings.IndexAny(body, "[{"); i > 0 {
		body = body[i:]
	}
	var questions []domain.QuizQuestion
	if err := json.Unmarshal([]byte(body), &questions); err != nil {
		var wrapped struct {
			Questions []domain.QuizQuestion `json:"questions"`
		}
		if err2 := json.Unmarshal([]byte(body), &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
		}
		questions = wrapped.Questions
	}
	valid := questions[:0]
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" || len(q.Options) != quizOptionCount {
			continue
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= quizOptionCount {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no usable questions", ErrMalformedQuiz)
	}
	return valid, nil
}
