package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"studydeck/internal/util"
	"studydeck/pkg/domain"
	"studydeck/pkg/storage"
)

const pdfContentType = "application/pdf"

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResult describes the stored document.
type UploadResult struct {
	PageCount  int    `json:"pageCount,omitempty"`
	StorageKey string `json:"-"`
	Characters int    `json:"characters"`
}

// UploadPDF extracts the text of a PDF and stores it as the session document.
func (a *App) UploadPDF(ctx context.Context, sessionID string, upload Upload) (UploadResult, error) {
	result, err := a.uploadPDF(ctx, sessionID, upload)
	a.metrics.Upload("pdf", err)
	return result, err
}

func (a *App) uploadPDF(ctx context.Context, sessionID string, upload Upload) (UploadResult, error) {
	if upload.Body == nil {
		return UploadResult{}, ErrNoFile
	}
	if !isPDF(upload) {
		return UploadResult{}, ErrInvalidFileType
	}
	if upload.Size > a.maxUploadBytes {
		return UploadResult{}, &FileTooLargeError{MaxBytes: a.maxUploadBytes}
	}
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return UploadResult{}, err
	}
	// fail before parsing when the session is already gone
	if _, _, err := sess.DocumentText(ctx); err != nil {
		return UploadResult{}, err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Body, a.maxUploadBytes+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return UploadResult{}, &FileTooLargeError{MaxBytes: a.maxUploadBytes}
	}
	if len(data) == 0 {
		return UploadResult{}, ErrNoFile
	}

	extracted, err := a.extractor.Extract(ctx, data)
	if err != nil {
		return UploadResult{}, err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return UploadResult{}, ErrNoTextContent
	}

	info := domain.DocumentInfo{PageCount: extracted.PageCount}
	if a.archive != nil {
		key := storage.DocumentKey(sessionID, util.NewID())
		if err := a.archive.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
			util.LoggerFromContext(ctx).Warn("archive original pdf failed", "session_id", sessionID, "err", err)
		} else {
			info.StorageKey = key
		}
	}

	if err := a.storeDocument(ctx, sessionID, extracted.Text, info); err != nil {
		return UploadResult{}, err
	}
	util.LoggerFromContext(ctx).Info("pdf processed",
		"session_id", sessionID,
		"pages", extracted.PageCount,
		"method", extracted.Method,
		"bytes", len(data),
	)
	return UploadResult{
		PageCount:  extracted.PageCount,
		StorageKey: info.StorageKey,
		Characters: len([]rune(extracted.Text)),
	}, nil
}

// UploadText stores pasted text as the session document.
func (a *App) UploadText(ctx context.Context, sessionID, text string) (UploadResult, error) {
	var err error
	defer func() { a.metrics.Upload("text", err) }()
	if strings.TrimSpace(text) == "" {
		err = ErrEmptyText
		return UploadResult{}, err
	}
	if err = a.storeDocument(ctx, sessionID, text, domain.DocumentInfo{}); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Characters: len([]rune(text))}, nil
}

// storeDocument replaces the session document and, when configured, drops
// study material derived from the previous one.
func (a *App) storeDocument(ctx context.Context, sessionID, text string, info domain.DocumentInfo) error {
	sess, err := a.sessions.Open(sessionID)
	if err != nil {
		return err
	}
	if err := sess.SetDocumentText(ctx, text, info); err != nil {
		return err
	}
	if a.resetContentOnUpload {
		if err := sess.ResetContent(ctx); err != nil {
			return err
		}
	}
	return nil
}

// isPDF accepts only the exact media type, without parameters or case changes.
func isPDF(upload Upload) bool {
	return upload.ContentType == pdfContentType
}
