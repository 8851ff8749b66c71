package app

import (
	"context"
	"errors"
	"testing"

	"studybuddy/pkg/domain"
)

const sampleQuiz = "```json\n" + `[
  {"question": "What does chlorophyll absorb?", "options": ["Light", "Water", "Soil", "Heat"], "correctAnswer": 0},
  {"question": "Which gas is released?", "options": ["CO2", "Oxygen", "Nitrogen", "Helium"], "correctAnswer": 1},
  {"question": "Broken", "options": ["only", "three", "options"], "correctAnswer": 0},
  {"question": "Out of range", "options": ["a", "b", "c", "d"], "correctAnswer": 4}
]` + "\n```"

func TestParseQuizQuestions(t *testing.T) {
	qs, err := parseQuizQuestions(sampleQuiz)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(qs) != 2 || qs[1].CorrectAnswer != 1 {
		t.Fatalf("invalid questions must be dropped: %+v", qs)
	}

	wrapped := `Here you go: {"questions": [{"question": "Q", "options": ["a","b","c","d"], "correctAnswer": 3}]}`
	qs, err = parseQuizQuestions(wrapped)
	if err != nil || len(qs) != 1 {
		t.Fatalf("wrapped form: %+v %v", qs, err)
	}

	for _, raw := range []string{"", "not json", `[{"question": "Q", "options": ["a"], "correctAnswer": 0}]`} {
		if _, err := parseQuizQuestions(raw); !errors.Is(err, ErrMalformedQuiz) {
			t.Fatalf("%q: expected ErrMalformedQuiz, got %v", raw, err)
		}
	}
}

func TestQuizOptionsNormalize(t *testing.T) {
	opts, err := QuizOptions{}.normalize()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if opts.Count != 5 || opts.Difficulty != domain.QuizMedium || opts.TimeLimitMinutes != 10 {
		t.Fatalf("unexpected defaults %+v", opts)
	}
	bad := []QuizOptions{
		{Count: 21},
		{Count: -1},
		{TimeLimitMinutes: 61},
		{Difficulty: "impossible"},
	}
	for _, o := range bad {
		if _, err := o.normalize(); !errors.Is(err, ErrInvalidQuizOptions) {
			t.Fatalf("%+v: expected ErrInvalidQuizOptions, got %v", o, err)
		}
	}
}

func TestGenerateAndGradeQuiz(t *testing.T) {
	env := newTestEnv(t)
	env.gen.quiz = sampleQuiz
	ada := env.signUp(t, "ada@example.com")
	bob := env.signUp(t, "bob@example.com")
	res := env.uploadNotes(t, ada)
	ctx := context.Background()

	if _, err := env.app.GetQuiz(ada, res.Document.ID); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	quiz, err := env.app.GenerateQuiz(ctx, ada, res.Document.ID, QuizOptions{Count: 1, Difficulty: domain.QuizHard})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(quiz.Questions) != 1 || quiz.Difficulty != domain.QuizHard || quiz.TimeLimitMinutes != 10 {
		t.Fatalf("unexpected quiz %+v", quiz)
	}

	quiz, err = env.app.GenerateQuiz(ctx, ada, res.Document.ID, QuizOptions{})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	stored, err := env.app.GetQuiz(ada, res.Document.ID)
	if err != nil || len(stored.Questions) != 2 {
		t.Fatalf("stored quiz: %+v %v", stored, err)
	}

	grade, err := env.app.GradeQuiz(ada, res.Document.ID, []int{0, 3})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if grade.Score != 1 || grade.Total != 2 || !grade.Correct[0] || grade.Correct[1] {
		t.Fatalf("unexpected grade %+v", grade)
	}
	if _, err := env.app.GradeQuiz(ada, res.Document.ID, []int{0}); !errors.Is(err, ErrInvalidQuizAnswers) {
		t.Fatalf("expected ErrInvalidQuizAnswers, got %v", err)
	}
	if _, err := env.app.GenerateQuiz(ctx, bob, res.Document.ID, QuizOptions{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGenerateQuizRequiresAnalysis(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Queue = &recordingQueue{} })
	user := env.signUp(t, "ada@example.com")
	res := env.uploadNotes(t, user)
	if _, err := env.app.GenerateQuiz(context.Background(), user, res.Document.ID, QuizOptions{}); !errors.Is(err, ErrDocumentNotAnalyzed) {
		t.Fatalf("expected ErrDocumentNotAnalyzed, got %v", err)
	}
}

func TestQuizOnUpload(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.QuizOnUpload = true })
	env.gen.quiz = sampleQuiz
	user := env.signUp(t, "ada@example.com")
	res := env.uploadNotes(t, user)
	if res.Document.Quiz == nil || len(res.Document.Quiz.Questions) != 2 {
		t.Fatalf("quiz should be built with the analysis: %+v", res.Document.Quiz)
	}
	quiz, err := env.app.GetQuiz(user, res.Document.ID)
	if err != nil || len(quiz.Questions) != 2 {
		t.Fatalf("stored quiz: %+v %v", quiz, err)
	}
}

func TestQuizOnUploadToleratesBadQuiz(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.QuizOnUpload = true })
	env.gen.quiz = "sorry, no quiz today"
	user := env.signUp(t, "ada@example.com")
	res := env.uploadNotes(t, user)
	if res.Document.Status != domain.DocumentComplete || res.Document.Quiz != nil {
		t.Fatalf("analysis must succeed without a quiz: %+v", res.Document)
	}
}
