package domain

import (
	"errors"
	"testing"
)

func validQuestion() QuizQuestion {
	return QuizQuestion{
		ID:       1,
		Question: "Which gas do plants release?",
		AnswerOptions: []AnswerOption{
			{ID: 1, Option: "Oxygen", Explanation: "Released during the light reactions."},
			{ID: 2, Option: "Nitrogen", Explanation: "Not produced by photosynthesis."},
			{ID: 3, Option: "Helium", Explanation: "Not produced by plants."},
			{ID: 4, Option: "Argon", Explanation: "Inert and not produced by plants."},
		},
		AnswerID: 1,
	}
}

func TestSummaryValidate(t *testing.T) {
	cases := []struct {
		name    string
		summary Summary
		ok      bool
	}{
		{name: "valid", summary: Summary{Title: "T", Overview: "O", KeyPoints: []string{"a"}}, ok: true},
		{name: "empty key points allowed", summary: Summary{Title: "T", Overview: "O", KeyPoints: []string{}}, ok: true},
		{name: "missing title", summary: Summary{Overview: "O", KeyPoints: []string{"a"}}},
		{name: "blank overview", summary: Summary{Title: "T", Overview: "  ", KeyPoints: []string{"a"}}},
		{name: "nil key points", summary: Summary{Title: "T", Overview: "O"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.summary.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidContent) {
				t.Fatalf("expected ErrInvalidContent, got %v", err)
			}
		})
	}
}

func TestFlashcardValidate(t *testing.T) {
	card := Flashcard{ID: 1, Question: "Q", Answer: "A", Hint: "H"}
	if err := card.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	card.Hint = ""
	if err := card.Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for missing hint, got %v", err)
	}
}

func TestQuizQuestionValidate(t *testing.T) {
	if err := validQuestion().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	threeOptions := validQuestion()
	threeOptions.AnswerOptions = threeOptions.AnswerOptions[:3]
	if err := threeOptions.Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for 3 options, got %v", err)
	}

	badAnswer := validQuestion()
	badAnswer.AnswerID = 9
	if err := badAnswer.Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for unknown answerId, got %v", err)
	}

	blankOption := validQuestion()
	blankOption.AnswerOptions[2].Option = " "
	if err := blankOption.Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for blank option, got %v", err)
	}
}

func TestValidateBatchesRejectEmpty(t *testing.T) {
	if err := ValidateFlashcards(nil); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for empty flashcards, got %v", err)
	}
	if err := ValidateQuiz([]QuizQuestion{}); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent for empty quiz, got %v", err)
	}
	if err := ValidateQuiz([]QuizQuestion{validQuestion()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
