package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"studydeck/pkg/domain"
)

// SessionState reads and writes the data of one session. Every read and
// write first checks the session age against the store TTL.
type SessionState struct {
	id    string
	store *SessionStore
}

// ID returns the session id the handle is bound to.
func (s *SessionState) ID() string {
	return s.id
}

func (s *SessionState) loadRecord(ctx context.Context, fields ...string) (record, error) {
	rec, err := s.store.backend.load(ctx, s.id, fields)
	if err != nil {
		return record{}, fmt.Errorf("load session: %w", err)
	}
	if rec.expired {
		return record{}, ErrSessionExpired
	}
	if !rec.createdAt.IsZero() && s.store.now().Sub(rec.createdAt) > s.store.ttl {
		if err := s.store.backend.expire(ctx, s.id, s.store.ttl); err != nil {
			return record{}, fmt.Errorf("expire session: %w", err)
		}
		return record{}, ErrSessionExpired
	}
	if rec.values == nil {
		rec.values = map[string]string{}
	}
	return rec, nil
}

func (s *SessionState) load(ctx context.Context, fields ...string) (map[string]string, error) {
	rec, err := s.loadRecord(ctx, fields...)
	if err != nil {
		return nil, err
	}
	return rec.values, nil
}

func (s *SessionState) save(ctx context.Context, values map[string]string) error {
	if _, err := s.load(ctx); err != nil {
		return err
	}
	if err := s.store.backend.save(ctx, s.id, values, s.store.now().UTC()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DocumentText returns the stored document text. ok is false when nothing
// has been uploaded yet.
func (s *SessionState) DocumentText(ctx context.Context) (string, bool, error) {
	values, err := s.load(ctx, fieldDocumentText)
	if err != nil {
		return "", false, err
	}
	text, ok := values[fieldDocumentText]
	return text, ok, nil
}

// Document returns metadata about the uploaded source.
func (s *SessionState) Document(ctx context.Context) (domain.DocumentInfo, bool, error) {
	return getJSON[domain.DocumentInfo](ctx, s, fieldDocument)
}

// SetDocumentText stores new document text with its source metadata.
func (s *SessionState) SetDocumentText(ctx context.Context, text string, info domain.DocumentInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode document info: %w", err)
	}
	return s.save(ctx, map[string]string{
		fieldDocumentText: text,
		fieldDocument:     string(raw),
	})
}

// Summary returns the cached summary.
func (s *SessionState) Summary(ctx context.Context) (domain.Summary, bool, error) {
	return getJSON[domain.Summary](ctx, s, fieldSummary)
}

// SetSummary validates and caches a summary.
func (s *SessionState) SetSummary(ctx context.Context, summary domain.Summary) error {
	if err := summary.Validate(); err != nil {
		return err
	}
	return s.setJSON(ctx, fieldSummary, summary)
}

// Flashcards returns the cached flashcards.
func (s *SessionState) Flashcards(ctx context.Context) ([]domain.Flashcard, bool, error) {
	return getJSON[[]domain.Flashcard](ctx, s, fieldFlashcards)
}

// SetFlashcards validates and caches a flashcard batch.
func (s *SessionState) SetFlashcards(ctx context.Context, cards []domain.Flashcard) error {
	if err := domain.ValidateFlashcards(cards); err != nil {
		return err
	}
	return s.setJSON(ctx, fieldFlashcards, cards)
}

// Quiz returns the cached quiz.
func (s *SessionState) Quiz(ctx context.Context) ([]domain.QuizQuestion, bool, error) {
	return getJSON[[]domain.QuizQuestion](ctx, s, fieldQuiz)
}

// SetQuiz validates and caches a quiz batch.
func (s *SessionState) SetQuiz(ctx context.Context, questions []domain.QuizQuestion) error {
	if err := domain.ValidateQuiz(questions); err != nil {
		return err
	}
	return s.setJSON(ctx, fieldQuiz, questions)
}

// ResetContent drops the cached summary, flashcards and quiz while keeping
// the document.
func (s *SessionState) ResetContent(ctx context.Context) error {
	if _, err := s.load(ctx); err != nil {
		return err
	}
	if err := s.store.backend.remove(ctx, s.id, contentFields); err != nil {
		return fmt.Errorf("reset session content: %w", err)
	}
	return nil
}

// Clear destroys the session, including an expiry tombstone. It does not
// check expiry so a client can always start over.
func (s *SessionState) Clear(ctx context.Context) error {
	if err := s.store.backend.clear(ctx, s.id); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Snapshot loads everything stored for the session.
func (s *SessionState) Snapshot(ctx context.Context) (domain.Session, error) {
	out := domain.Session{ID: s.id}
	rec, err := s.loadRecord(ctx, fieldDocumentText, fieldDocument, fieldSummary, fieldFlashcards, fieldQuiz)
	if err != nil {
		return out, err
	}
	out.CreatedAt = rec.createdAt
	out.DocumentText = rec.values[fieldDocumentText]
	if raw := rec.values[fieldDocument]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Document); err != nil {
			return out, fmt.Errorf("decode %s: %w", fieldDocument, err)
		}
	}
	if raw := rec.values[fieldSummary]; raw != "" {
		var summary domain.Summary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return out, fmt.Errorf("decode %s: %w", fieldSummary, err)
		}
		out.Summary = &summary
	}
	if raw := rec.values[fieldFlashcards]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Flashcards); err != nil {
			return out, fmt.Errorf("decode %s: %w", fieldFlashcards, err)
		}
	}
	if raw := rec.values[fieldQuiz]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Quiz); err != nil {
			return out, fmt.Errorf("decode %s: %w", fieldQuiz, err)
		}
	}
	return out, nil
}

func (s *SessionState) setJSON(ctx context.Context, field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	return s.save(ctx, map[string]string{field: string(raw)})
}

func getJSON[T any](ctx context.Context, s *SessionState, field string) (T, bool, error) {
	var out T
	values, err := s.load(ctx, field)
	if err != nil {
		return out, false, err
	}
	raw, ok := values[field]
	if !ok || strings.TrimSpace(raw) == "" || raw == "null" {
		return out, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", field, err)
	}
	return out, true, nil
}
