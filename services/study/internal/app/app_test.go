package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studydeck/internal/metrics"
	"studydeck/pkg/ai"
	"studydeck/pkg/domain"
	"studydeck/pkg/storage"
	"studydeck/pkg/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []ai.JSONRequest
	respond  func(req ai.JSONRequest) (json.RawMessage, error)
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, req ai.JSONRequest) (json.RawMessage, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.Name]++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeGenerator) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGenerator) lastRequest() ai.JSONRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func flashcardsJSON(n int) string {
	cards := make([]domain.Flashcard, n)
	for i := range cards {
		cards[i] = domain.Flashcard{
			ID:       i + 1,
			Question: fmt.Sprintf("Question %d?", i+1),
			Answer:   fmt.Sprintf("Answer %d", i+1),
			Hint:     fmt.Sprintf("Hint %d", i+1),
		}
	}
	raw, _ := json.Marshal(map[string]any{"flashcards": cards})
	return string(raw)
}

func quizJSON(n, options int) string {
	questions := make([]domain.QuizQuestion, n)
	for i := range questions {
		opts := make([]domain.AnswerOption, options)
		for j := range opts {
			opts[j] = domain.AnswerOption{ID: j + 1, Option: fmt.Sprintf("Option %d", j+1), Explanation: "Because."}
		}
		questions[i] = domain.QuizQuestion{ID: i + 1, Question: fmt.Sprintf("Q%d?", i+1), AnswerOptions: opts, AnswerID: 1}
	}
	raw, _ := json.Marshal(map[string]any{"questions": questions})
	return string(raw)
}

const summaryJSON = `{"title":"Photosynthesis","overview":"Plants turn light into sugar.","keyPoints":["Light","Chlorophyll"]}`

func defaultResponder(req ai.JSONRequest) (json.RawMessage, error) {
	switch req.Name {
	case string(domain.KindSummary):
		return json.RawMessage(summaryJSON), nil
	case string(domain.KindFlashcards):
		return json.RawMessage(flashcardsJSON(domain.FlashcardBatchSize)), nil
	case string(domain.KindQuiz):
		return json.RawMessage(quizJSON(domain.QuizBatchSize, domain.QuizOptionsPerQuestion)), nil
	}
	return nil, fmt.Errorf("unexpected request %q", req.Name)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app     *App
	gen     *fakeGenerator
	archive *storage.MemoryStore
	clock   *testClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	gen := &fakeGenerator{respond: defaultResponder}
	archive := storage.NewMemoryStore()
	cfg := Config{
		Sessions:             store.NewMemorySessionStore(store.Options{Now: clock.Now}),
		Generator:            gen,
		Archive:              archive,
		Extractor:            NewPDFExtractor(""),
		Metrics:              metrics.New(),
		ResetContentOnUpload: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return &testEnv{app: a, gen: gen, archive: archive, clock: clock}
}

func (e *testEnv) uploadText(t *testing.T, sessionID, text string) {
	t.Helper()
	if _, err := e.app.UploadText(context.Background(), sessionID, text); err != nil {
		t.Fatalf("UploadText: %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Generator: &fakeGenerator{}}); err == nil {
		t.Fatal("expected error without session store")
	}
	if _, err := New(Config{Sessions: store.NewMemorySessionStore(store.Options{})}); err == nil {
		t.Fatal("expected error without generator")
	}
}

func TestGenerateWithoutDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, _, err := env.app.Summary(ctx, "s-1", false); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("Summary err = %v, want ErrNoDocument", err)
	}
	if _, err := env.app.GenerateFlashcards(ctx, "s-1"); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("GenerateFlashcards err = %v, want ErrNoDocument", err)
	}
	if env.gen.count(string(domain.KindSummary)) != 0 {
		t.Fatal("model must not be called without a document")
	}
}

func TestSummaryCachedAndForced(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.uploadText(t, "s-1", "Plants use light to make sugar.")

	summary, cached, err := env.app.Summary(ctx, "s-1", false)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if cached || summary.Title != "Photosynthesis" {
		t.Fatalf("first call cached=%v title=%q", cached, summary.Title)
	}
	req := env.gen.lastRequest()
	if req.MaxTokens != 4096 || req.Schema == nil {
		t.Fatalf("unexpected request budget=%d schema=%v", req.MaxTokens, req.Schema)
	}
	if !strings.Contains(req.UserPrompt, "Plants use light to make sugar.") {
		t.Fatalf("prompt does not embed the document: %q", req.UserPrompt)
	}

	if _, cached, err = env.app.Summary(ctx, "s-1", false); err != nil || !cached {
		t.Fatalf("second call cached=%v err=%v", cached, err)
	}
	if got := env.gen.count(string(domain.KindSummary)); got != 1 {
		t.Fatalf("model calls = %d, want 1", got)
	}

	if _, cached, err = env.app.Summary(ctx, "s-1", true); err != nil || cached {
		t.Fatalf("forced call cached=%v err=%v", cached, err)
	}
	if got := env.gen.count(string(domain.KindSummary)); got != 2 {
		t.Fatalf("model calls = %d, want 2", got)
	}
}

func TestFlashcardsTruncatedAndRenumbered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.respond = func(req ai.JSONRequest) (json.RawMessage, error) {
		var resp flashcardsResponse
		_ = json.Unmarshal([]byte(flashcardsJSON(12)), &resp)
		for i := range resp.Flashcards {
			resp.Flashcards[i].ID = 0
		}
		raw, _ := json.Marshal(resp)
		// some providers return the document as a JSON string
		quoted, _ := json.Marshal(string(raw))
		return quoted, nil
	}
	env.uploadText(t, "s-1", "Cells have organelles.")

	cards, _, err := env.app.Flashcards(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("Flashcards: %v", err)
	}
	if len(cards) != domain.FlashcardBatchSize {
		t.Fatalf("len(cards) = %d, want %d", len(cards), domain.FlashcardBatchSize)
	}
	for i, card := range cards {
		if card.ID != i+1 {
			t.Fatalf("cards[%d].ID = %d, want %d", i, card.ID, i+1)
		}
	}
	if env.gen.lastRequest().MaxTokens != 2048 {
		t.Fatalf("flashcards budget = %d, want 2048", env.gen.lastRequest().MaxTokens)
	}
}

func TestQuizGenerated(t *testing.T) {
	env := newTestEnv(t, nil)
	env.uploadText(t, "s-1", "Mitochondria produce ATP.")

	quiz, cached, err := env.app.Quiz(context.Background(), "s-1", false)
	if err != nil {
		t.Fatalf("Quiz: %v", err)
	}
	if cached || len(quiz) != domain.QuizBatchSize {
		t.Fatalf("cached=%v len=%d", cached, len(quiz))
	}
	for _, q := range quiz {
		if len(q.AnswerOptions) != domain.QuizOptionsPerQuestion {
			t.Fatalf("question %d has %d options", q.ID, len(q.AnswerOptions))
		}
	}
}

func TestInvalidModelOutputIsNotStored(t *testing.T) {
	cases := map[string]string{
		"three options":  quizJSON(domain.QuizBatchSize, 3),
		"missing array":  `{"items":[]}`,
		"empty batch":    `{"questions":[]}`,
		"not json":       `Sure! Here is your quiz.`,
		"answer missing": strings.Replace(quizJSON(domain.QuizBatchSize, 4), `"answerId":1`, `"answerId":9`, 1),
		"short batch":    quizJSON(3, 4),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.gen.respond = func(ai.JSONRequest) (json.RawMessage, error) {
				return json.RawMessage(body), nil
			}
			env.uploadText(t, "s-1", "Some notes.")
			_, _, err := env.app.Quiz(context.Background(), "s-1", false)
			if !errors.Is(err, ErrInvalidAIResponse) {
				t.Fatalf("Quiz err = %v, want ErrInvalidAIResponse", err)
			}
			sess, _ := env.app.Session("s-1")
			if _, ok, _ := sess.Quiz(context.Background()); ok {
				t.Fatal("invalid quiz must not be stored")
			}
		})
	}
}

func TestShortBatchesRejected(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, nil)
	env.gen.respond = func(req ai.JSONRequest) (json.RawMessage, error) {
		if req.Name == string(domain.KindFlashcards) {
			return json.RawMessage(flashcardsJSON(7)), nil
		}
		return json.RawMessage(quizJSON(3, domain.QuizOptionsPerQuestion)), nil
	}
	env.uploadText(t, "s-1", "Some notes.")

	if _, _, err := env.app.Flashcards(ctx, "s-1", false); !errors.Is(err, ErrInvalidAIResponse) {
		t.Fatalf("Flashcards err = %v, want ErrInvalidAIResponse", err)
	}
	if _, _, err := env.app.Quiz(ctx, "s-1", false); !errors.Is(err, ErrInvalidAIResponse) {
		t.Fatalf("Quiz err = %v, want ErrInvalidAIResponse", err)
	}
	sess, _ := env.app.Session("s-1")
	if _, ok, _ := sess.Flashcards(ctx); ok {
		t.Fatal("short flashcard batch must not be stored")
	}
	if _, ok, _ := sess.Quiz(ctx); ok {
		t.Fatal("short quiz must not be stored")
	}
}

func TestBatchSchemasPinLength(t *testing.T) {
	cards := flashcardsProfile.schema.Properties["flashcards"]
	if cards.MinItems == nil || *cards.MinItems != domain.FlashcardBatchSize || cards.MaxItems == nil || *cards.MaxItems != domain.FlashcardBatchSize {
		t.Fatalf("flashcards schema length = %v..%v", cards.MinItems, cards.MaxItems)
	}
	questions := quizProfile.schema.Properties["questions"]
	if questions.MinItems == nil || *questions.MinItems != domain.QuizBatchSize || questions.MaxItems == nil || *questions.MaxItems != domain.QuizBatchSize {
		t.Fatalf("questions schema length = %v..%v", questions.MinItems, questions.MaxItems)
	}
}

func TestInvalidOutputCountedAsFailedGeneration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.respond = func(ai.JSONRequest) (json.RawMessage, error) {
		return json.RawMessage(quizJSON(1, domain.QuizOptionsPerQuestion)), nil
	}
	env.uploadText(t, "s-1", "Some notes.")
	if _, _, err := env.app.Quiz(context.Background(), "s-1", false); !errors.Is(err, ErrInvalidAIResponse) {
		t.Fatalf("Quiz err = %v, want ErrInvalidAIResponse", err)
	}

	rec := httptest.NewRecorder()
	env.app.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `studydeck_generations_total{kind="quiz",outcome="error"} 1`) {
		t.Fatalf("failed generation not counted:\n%s", body)
	}
	if strings.Contains(string(body), `studydeck_generations_total{kind="quiz",outcome="ok"}`) {
		t.Fatalf("invalid output counted as ok:\n%s", body)
	}
}

func TestReuploadDuringGenerationDiscardsResult(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	var reuploaded atomic.Bool
	env.gen.respond = func(req ai.JSONRequest) (json.RawMessage, error) {
		if reuploaded.CompareAndSwap(false, true) {
			if _, err := env.app.UploadText(ctx, "s-1", "Second document."); err != nil {
				return nil, err
			}
		}
		return defaultResponder(req)
	}
	env.uploadText(t, "s-1", "First document.")

	if _, _, err := env.app.Summary(ctx, "s-1", false); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	sess, _ := env.app.Session("s-1")
	if _, ok, _ := sess.Summary(ctx); ok {
		t.Fatal("summary of the replaced document must not be stored")
	}

	if _, cached, err := env.app.Summary(ctx, "s-1", false); err != nil || cached {
		t.Fatalf("next call cached=%v err=%v", cached, err)
	}
	if !strings.Contains(env.gen.lastRequest().UserPrompt, "Second document.") {
		t.Fatalf("prompt = %q", env.gen.lastRequest().UserPrompt)
	}
	if _, ok, _ := sess.Summary(ctx); !ok {
		t.Fatal("summary of the current document should be stored")
	}
}

func TestModelErrorPropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	upstream := errors.New("upstream unavailable")
	env.gen.respond = func(ai.JSONRequest) (json.RawMessage, error) { return nil, upstream }
	env.uploadText(t, "s-1", "Notes.")
	if _, _, err := env.app.Summary(context.Background(), "s-1", false); !errors.Is(err, upstream) {
		t.Fatalf("Summary err = %v, want upstream error", err)
	}
}

func TestPromptTruncated(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxPromptRunes = 10 })
	env.uploadText(t, "s-1", "abcdefghijKLMNOP")
	if _, _, err := env.app.Summary(context.Background(), "s-1", false); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	prompt := env.gen.lastRequest().UserPrompt
	if !strings.HasSuffix(prompt, "abcdefghij") || strings.Contains(prompt, "KLMNOP") {
		t.Fatalf("prompt not truncated: %q", prompt)
	}
}

func TestUploadResetsDerivedContent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.uploadText(t, "s-1", "First document.")
	if _, _, err := env.app.Summary(ctx, "s-1", false); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	env.uploadText(t, "s-1", "Second document.")
	if _, cached, err := env.app.Summary(ctx, "s-1", false); err != nil || cached {
		t.Fatalf("after re-upload cached=%v err=%v", cached, err)
	}
}

func TestUploadKeepsDerivedContentWhenDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.ResetContentOnUpload = false })
	ctx := context.Background()
	env.uploadText(t, "s-1", "First document.")
	if _, _, err := env.app.Summary(ctx, "s-1", false); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	env.uploadText(t, "s-1", "Second document.")
	if _, cached, err := env.app.Summary(ctx, "s-1", false); err != nil || !cached {
		t.Fatalf("after re-upload cached=%v err=%v", cached, err)
	}
}

func TestUploadTextRejectsBlank(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.app.UploadText(context.Background(), "s-1", "  \n\t")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "Please upload some text content" {
		t.Fatalf("UploadText err = %v", err)
	}
}

func TestUploadPDF(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	data := buildPDF(t, "Photosynthesis converts light", "Chlorophyll absorbs red")

	result, err := env.app.UploadPDF(ctx, "s-1", Upload{
		Filename:    "notes.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("UploadPDF: %v", err)
	}
	if result.PageCount != 2 {
		t.Fatalf("PageCount = %d, want 2", result.PageCount)
	}
	if !strings.HasPrefix(result.StorageKey, storage.SessionPrefix("s-1")) {
		t.Fatalf("StorageKey = %q", result.StorageKey)
	}
	if stored, contentType, ok := env.archive.Get(result.StorageKey); !ok || !bytes.Equal(stored, data) || contentType != "application/pdf" {
		t.Fatalf("archived object ok=%v contentType=%q", ok, contentType)
	}

	sess, _ := env.app.Session("s-1")
	text, ok, err := sess.DocumentText(ctx)
	if err != nil || !ok || !strings.Contains(text, "Photosynthesis") {
		t.Fatalf("document text=%q ok=%v err=%v", text, ok, err)
	}

	url, err := env.app.OriginalDocumentURL(ctx, "s-1")
	if err != nil || url != "memory://"+result.StorageKey {
		t.Fatalf("OriginalDocumentURL = %q, %v", url, err)
	}

	if err := env.app.ClearSession(ctx, "s-1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if env.archive.Len() != 0 {
		t.Fatalf("archive still holds %d objects", env.archive.Len())
	}
	if _, err := env.app.OriginalDocumentURL(ctx, "s-1"); !errors.Is(err, ErrNoArchivedDocument) {
		t.Fatalf("OriginalDocumentURL after clear err = %v", err)
	}
}

func TestUploadPDFRejections(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxUploadBytes = 1 << 20 })
	ctx := context.Background()
	pdfBytes := buildPDF(t, "Hello")
	blank := buildPDF(t, "")

	tests := []struct {
		name   string
		upload Upload
		want   error
	}{
		{"no body", Upload{ContentType: "application/pdf"}, ErrNoFile},
		{"wrong type", Upload{ContentType: "text/plain", Body: bytes.NewReader(pdfBytes)}, ErrInvalidFileType},
		{"type with parameters", Upload{ContentType: "application/pdf; x=y", Body: bytes.NewReader(pdfBytes)}, ErrInvalidFileType},
		{"type in other case", Upload{ContentType: "Application/PDF", Body: bytes.NewReader(pdfBytes)}, ErrInvalidFileType},
		{"declared too large", Upload{ContentType: "application/pdf", Size: 2 << 20, Body: bytes.NewReader(pdfBytes)}, ErrFileTooLarge},
		{"body too large", Upload{ContentType: "application/pdf", Body: bytes.NewReader(make([]byte, 2<<20))}, ErrFileTooLarge},
		{"not a pdf", Upload{ContentType: "application/pdf", Body: strings.NewReader("plain text")}, ErrUnreadablePDF},
		{"no text", Upload{ContentType: "application/pdf", Body: bytes.NewReader(blank)}, ErrNoTextContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.app.UploadPDF(ctx, "s-1", tt.upload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("UploadPDF err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFileTooLargeMessage(t *testing.T) {
	err := error(&FileTooLargeError{MaxBytes: 25 << 20})
	if err.Error() != "File too large. Maximum size is 25 MB." {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestExpiredSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.uploadText(t, "s-1", "Notes.")
	env.clock.Advance(24*time.Hour + time.Second)

	if _, _, err := env.app.Summary(ctx, "s-1", false); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Summary err = %v, want ErrSessionExpired", err)
	}
	if _, err := env.app.UploadText(ctx, "s-1", "More notes."); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("UploadText err = %v, want ErrSessionExpired", err)
	}
	if env.gen.count(string(domain.KindSummary)) != 0 {
		t.Fatal("model must not be called for an expired session")
	}
}

func TestConcurrentMissesShareOneCall(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	var started atomic.Int32
	env.gen.respond = func(req ai.JSONRequest) (json.RawMessage, error) {
		started.Add(1)
		<-release
		return defaultResponder(req)
	}
	env.uploadText(t, "s-1", "Notes.")

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.app.Summary(context.Background(), "s-1", false)
			errs <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Summary: %v", err)
		}
	}
	if got := env.gen.count(string(domain.KindSummary)); got != 1 {
		t.Fatalf("model calls = %d, want 1", got)
	}
}
