package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"studydeck/internal/util"
	"studydeck/pkg/ai"
	"studydeck/pkg/domain"
	"studydeck/pkg/store"
)

// Summary returns the cached summary or generates one. cached reports
// whether the value came from the session.
func (a *App) Summary(ctx context.Context, sessionID string, force bool) (domain.Summary, bool, error) {
	return cachedOrGenerate(ctx, a, sessionID, domain.KindSummary, force,
		func(sess *store.SessionState) (domain.Summary, bool, error) { return sess.Summary(ctx) },
		a.GenerateSummary)
}

// Flashcards returns cached flashcards or generates a new batch.
func (a *App) Flashcards(ctx context.Context, sessionID string, force bool) ([]domain.Flashcard, bool, error) {
	return cachedOrGenerate(ctx, a, sessionID, domain.KindFlashcards, force,
		func(sess *store.SessionState) ([]domain.Flashcard, bool, error) {
			cards, ok, err := sess.Flashcards(ctx)
			return cards, ok && len(cards) > 0, err
		},
		a.GenerateFlashcards)
}

// Quiz returns the cached quiz or generates a new one.
func (a *App) Quiz(ctx context.Context, sessionID string, force bool) ([]domain.QuizQuestion, bool, error) {
	return cachedOrGenerate(ctx, a, sessionID, domain.KindQuiz, force,
		func(sess *store.SessionState) ([]domain.QuizQuestion, bool, error) {
			quiz, ok, err := sess.Quiz(ctx)
			return quiz, ok && len(quiz) > 0, err
		},
		a.GenerateQuiz)
}

// cachedOrGenerate serves the session cache unless force is set. Concurrent
// misses for the same session and kind share one model call; forced calls
// always reach the model.
func cachedOrGenerate[T any](
	ctx context.Context,
	a *App,
	sessionID string,
	kind domain.ContentKind,
	force bool,
	load func(*store.SessionState) (T, bool, error),
	generate func(context.Context, string) (T, error),
) (T, bool, error) {
	var zero T
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return zero, false, err
	}
	if force {
		v, err := generate(ctx, sessionID)
		return v, false, err
	}
	cached, ok, err := load(sess)
	if err != nil {
		return zero, false, err
	}
	if ok {
		a.metrics.CacheHit(string(kind))
		return cached, true, nil
	}
	// the shared call must not die with whichever request started it
	shared := context.WithoutCancel(ctx)
	v, err, _ := a.inflight.Do(sessionID+":"+string(kind), func() (any, error) {
		return generate(shared, sessionID)
	})
	if err != nil {
		return zero, false, err
	}
	return v.(T), false, nil
}

// GenerateSummary always calls the model and stores the result.
func (a *App) GenerateSummary(ctx context.Context, sessionID string) (domain.Summary, error) {
	sess, text, err := a.documentText(ctx, sessionID)
	if err != nil {
		return domain.Summary{}, err
	}
	var out domain.Summary
	if err := a.callModel(ctx, summaryProfile, text, &out, func() error { return out.Validate() }); err != nil {
		return domain.Summary{}, err
	}
	err = a.storeIfCurrent(ctx, sess, domain.KindSummary, text, func() error { return sess.SetSummary(ctx, out) })
	if err != nil {
		return domain.Summary{}, fmt.Errorf("store summary: %w", err)
	}
	return out, nil
}

type flashcardsResponse struct {
	Flashcards []domain.Flashcard `json:"flashcards"`
}

// GenerateFlashcards always calls the model and stores the batch.
func (a *App) GenerateFlashcards(ctx context.Context, sessionID string) ([]domain.Flashcard, error) {
	sess, text, err := a.documentText(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var resp flashcardsResponse
	check := func() error {
		if resp.Flashcards == nil {
			return errors.New("response does not contain a flashcards array")
		}
		if len(resp.Flashcards) < domain.FlashcardBatchSize {
			return fmt.Errorf("got %d flashcards, want %d", len(resp.Flashcards), domain.FlashcardBatchSize)
		}
		resp.Flashcards = resp.Flashcards[:domain.FlashcardBatchSize]
		renumberFlashcards(resp.Flashcards)
		return domain.ValidateFlashcards(resp.Flashcards)
	}
	if err := a.callModel(ctx, flashcardsProfile, text, &resp, check); err != nil {
		return nil, err
	}
	cards := resp.Flashcards
	err = a.storeIfCurrent(ctx, sess, domain.KindFlashcards, text, func() error { return sess.SetFlashcards(ctx, cards) })
	if err != nil {
		return nil, fmt.Errorf("store flashcards: %w", err)
	}
	return cards, nil
}

type quizResponse struct {
	Questions []domain.QuizQuestion `json:"questions"`
}

// GenerateQuiz always calls the model and stores the quiz.
func (a *App) GenerateQuiz(ctx context.Context, sessionID string) ([]domain.QuizQuestion, error) {
	sess, text, err := a.documentText(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var resp quizResponse
	check := func() error {
		if resp.Questions == nil {
			return errors.New("response does not contain a questions array")
		}
		if len(resp.Questions) < domain.QuizBatchSize {
			return fmt.Errorf("got %d questions, want %d", len(resp.Questions), domain.QuizBatchSize)
		}
		resp.Questions = resp.Questions[:domain.QuizBatchSize]
		renumberQuestions(resp.Questions)
		return domain.ValidateQuiz(resp.Questions)
	}
	if err := a.callModel(ctx, quizProfile, text, &resp, check); err != nil {
		return nil, err
	}
	questions := resp.Questions
	err = a.storeIfCurrent(ctx, sess, domain.KindQuiz, text, func() error { return sess.SetQuiz(ctx, questions) })
	if err != nil {
		return nil, fmt.Errorf("store quiz: %w", err)
	}
	return questions, nil
}

// storeIfCurrent runs save only while the session still holds the document
// the content was generated from. A re-upload during the model call wins.
func (a *App) storeIfCurrent(ctx context.Context, sess *store.SessionState, kind domain.ContentKind, text string, save func() error) error {
	current, ok, err := sess.DocumentText(ctx)
	if err != nil {
		return err
	}
	if !ok || current != text {
		util.LoggerFromContext(ctx).Warn("document replaced during generation, result not stored", "kind", kind)
		return nil
	}
	return save()
}

func (a *App) documentText(ctx context.Context, sessionID string) (*store.SessionState, string, error) {
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return nil, "", err
	}
	text, ok, err := sess.DocumentText(ctx)
	if err != nil {
		return nil, "", err
	}
	if !ok || strings.TrimSpace(text) == "" {
		return nil, "", ErrNoDocument
	}
	return sess, text, nil
}

// callModel runs one generation, decodes it into out and applies check.
// The outcome is recorded only after check, so malformed batches count as errors.
func (a *App) callModel(ctx context.Context, p generationProfile, text string, out any, check func() error) error {
	text = a.truncateForPrompt(ctx, p.kind, text)
	start := time.Now()
	raw, err := a.generator.GenerateJSON(ctx, ai.JSONRequest{
		Name:       string(p.kind),
		UserPrompt: p.prompt(text),
		Schema:     p.schema,
		MaxTokens:  p.maxTokens,
	})
	if err == nil {
		if decodeErr := ai.DecodeJSON(raw, out); decodeErr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAIResponse, decodeErr)
		} else if checkErr := check(); checkErr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidAIResponse, checkErr)
		}
	} else {
		err = fmt.Errorf("generate %s: %w", p.kind, err)
	}
	a.metrics.ObserveGeneration(string(p.kind), err, time.Since(start))
	return err
}

// truncateForPrompt cuts the document at maxPromptRunes so the request fits
// the model context window.
func (a *App) truncateForPrompt(ctx context.Context, kind domain.ContentKind, text string) string {
	if utf8.RuneCountInString(text) <= a.maxPromptRunes {
		return text
	}
	runes := []rune(text)
	util.LoggerFromContext(ctx).Warn("document truncated for prompt",
		"kind", kind,
		"runes", len(runes),
		"limit", a.maxPromptRunes,
	)
	return string(runes[:a.maxPromptRunes])
}

// renumberFlashcards assigns ids 1..n when the model left them missing or duplicated.
func renumberFlashcards(cards []domain.Flashcard) {
	seen := make(map[int]bool, len(cards))
	for _, c := range cards {
		if c.ID <= 0 || seen[c.ID] {
			for i := range cards {
				cards[i].ID = i + 1
			}
			return
		}
		seen[c.ID] = true
	}
}

func renumberQuestions(questions []domain.QuizQuestion) {
	seen := make(map[int]bool, len(questions))
	for _, q := range questions {
		if q.ID <= 0 || seen[q.ID] {
			for i := range questions {
				questions[i].ID = i + 1
			}
			return
		}
		seen[q.ID] = true
	}
}
