package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentKind names one kind of derived study material.
type ContentKind string

const (
	KindSummary    ContentKind = "summary"
	KindFlashcards ContentKind = "flashcards"
	KindQuiz       ContentKind = "quiz"
)

const (
	FlashcardBatchSize     = 10
	QuizBatchSize          = 5
	QuizOptionsPerQuestion = 4
)

// ErrInvalidContent is wrapped by every Validate failure.
var ErrInvalidContent = errors.New("invalid content")

type Summary struct {
	Title     string   `json:"title"`
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"keyPoints"`
}

type Flashcard struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Hint     string `json:"hint"`
}

type AnswerOption struct {
	ID          int    `json:"id"`
	Option      string `json:"option"`
	Explanation string `json:"explanation"`
}

type QuizQuestion struct {
	ID            int            `json:"id"`
	Question      string         `json:"question"`
	AnswerOptions []AnswerOption `json:"answerOptions"`
	AnswerID      int            `json:"answerId"`
}

// DocumentInfo describes the uploaded source of a session.
type DocumentInfo struct {
	StorageKey string `json:"storageKey,omitempty"`
	PageCount  int    `json:"pageCount,omitempty"`
}

// Session is a snapshot of everything stored for one session id.
type Session struct {
	ID           string         `json:"id"`
	DocumentText string         `json:"documentText,omitempty"`
	Document     DocumentInfo   `json:"document"`
	Summary      *Summary       `json:"summary,omitempty"`
	Flashcards   []Flashcard    `json:"flashcards,omitempty"`
	Quiz         []QuizQuestion `json:"quiz,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Validate checks the fields a summary must carry.
func (s Summary) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: summary title required", ErrInvalidContent)
	}
	if strings.TrimSpace(s.Overview) == "" {
		return fmt.Errorf("%w: summary overview required", ErrInvalidContent)
	}
	if s.KeyPoints == nil {
		return fmt.Errorf("%w: summary keyPoints required", ErrInvalidContent)
	}
	return nil
}

// Validate checks that every field of the card is present.
func (f Flashcard) Validate() error {
	if strings.TrimSpace(f.Question) == "" {
		return fmt.Errorf("%w: flashcard %d question required", ErrInvalidContent, f.ID)
	}
	if strings.TrimSpace(f.Answer) == "" {
		return fmt.Errorf("%w: flashcard %d answer required", ErrInvalidContent, f.ID)
	}
	if strings.TrimSpace(f.Hint) == "" {
		return fmt.Errorf("%w: flashcard %d hint required", ErrInvalidContent, f.ID)
	}
	return nil
}

// Validate checks the question text, the option count and that answerId
// refers to one of the options.
func (q QuizQuestion) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: quiz question %d text required", ErrInvalidContent, q.ID)
	}
	if len(q.AnswerOptions) != QuizOptionsPerQuestion {
		return fmt.Errorf("%w: quiz question %d has %d options, want %d", ErrInvalidContent, q.ID, len(q.AnswerOptions), QuizOptionsPerQuestion)
	}
	matched := false
	for _, opt := range q.AnswerOptions {
		if strings.TrimSpace(opt.Option) == "" {
			return fmt.Errorf("%w: quiz question %d option %d text required", ErrInvalidContent, q.ID, opt.ID)
		}
		if opt.ID == q.AnswerID {
			matched = true
		}
	}
	if !matched {
		return fmt.Errorf("%w: quiz question %d answerId %d matches no option", ErrInvalidContent, q.ID, q.AnswerID)
	}
	return nil
}

// ValidateFlashcards validates a whole batch.
func ValidateFlashcards(cards []Flashcard) error {
	if len(cards) == 0 {
		return fmt.Errorf("%w: flashcards must not be empty", ErrInvalidContent)
	}
	for _, card := range cards {
		if err := card.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateQuiz validates a whole batch.
func ValidateQuiz(questions []QuizQuestion) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: quiz must not be empty", ErrInvalidContent)
	}
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}
