package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"studydeck/internal/metrics"
	"studydeck/internal/util"
	"studydeck/pkg/ai"
	"studydeck/pkg/storage"
	"studydeck/pkg/store"
)

const (
	defaultMaxUploadBytes int64 = 25 << 20
	defaultMaxPromptRunes       = 60000
	presignExpiry               = 15 * time.Minute
)

// Config holds runtime configuration for the core application.
type Config struct {
	Sessions  *store.SessionStore
	Generator ai.JSONGenerator
	// Archive is optional; when set, uploaded PDFs are kept in object storage.
	Archive   storage.ObjectStore
	Extractor *PDFExtractor
	Metrics   *metrics.Metrics

	MaxUploadBytes       int64
	MaxPromptRunes       int
	ResetContentOnUpload bool
}

// App ties the session store, the model and document ingestion together.
type App struct {
	sessions  *store.SessionStore
	generator ai.JSONGenerator
	archive   storage.ObjectStore
	extractor *PDFExtractor
	metrics   *metrics.Metrics

	maxUploadBytes       int64
	maxPromptRunes       int
	resetContentOnUpload bool

	inflight singleflight.Group
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator required")
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = NewPDFExtractor("pdftotext")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	maxPrompt := cfg.MaxPromptRunes
	if maxPrompt <= 0 {
		maxPrompt = defaultMaxPromptRunes
	}
	return &App{
		sessions:             cfg.Sessions,
		generator:            cfg.Generator,
		archive:              cfg.Archive,
		extractor:            extractor,
		metrics:              cfg.Metrics,
		maxUploadBytes:       maxUpload,
		maxPromptRunes:       maxPrompt,
		resetContentOnUpload: cfg.ResetContentOnUpload,
	}, nil
}

// Session opens the raw session handle.
func (a *App) Session(sessionID string) (*store.SessionState, error) {
	return a.sessions.Open(sessionID)
}

// SessionTTL is the fixed session lifetime.
func (a *App) SessionTTL() time.Duration {
	return a.sessions.TTL()
}

// MaxUploadBytes is the upload size limit.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// ClearSession destroys the session and any archived originals.
func (a *App) ClearSession(ctx context.Context, sessionID string) error {
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Clear(ctx); err != nil {
		return err
	}
	if a.archive != nil {
		if err := a.archive.DeletePrefix(ctx, storage.SessionPrefix(sessionID)); err != nil {
			util.LoggerFromContext(ctx).Warn("delete archived documents failed", "session_id", sessionID, "err", err)
		}
	}
	return nil
}

// OriginalDocumentURL returns a short-lived download link to the archived PDF.
func (a *App) OriginalDocumentURL(ctx context.Context, sessionID string) (string, error) {
	if a.archive == nil {
		return "", ErrNoArchivedDocument
	}
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return "", err
	}
	info, ok, err := sess.Document(ctx)
	if err != nil {
		return "", err
	}
	if !ok || info.StorageKey == "" {
		return "", ErrNoArchivedDocument
	}
	url, err := a.archive.PresignGet(ctx, info.StorageKey, presignExpiry)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", ErrNoArchivedDocument
	}
	if err != nil {
		return "", fmt.Errorf("presign document: %w", err)
	}
	return url, nil
}

// Close releases the session store.
func (a *App) Close() error {
	return a.sessions.Close()
}
