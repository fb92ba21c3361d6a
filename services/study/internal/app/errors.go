package app

import (
	"errors"
	"fmt"

	"studydeck/pkg/store"
)

// ValidationError is a client error whose message is safe to show to users.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidFileType = &ValidationError{Message: "Invalid file type. Only PDF files are allowed."}
	ErrNoFile          = &ValidationError{Message: "No file provided. Please upload a PDF file."}
	ErrUnreadablePDF   = &ValidationError{Message: "Invalid PDF file. The file could not be parsed."}
	ErrNoTextContent   = &ValidationError{Message: "No text content found in PDF. The PDF may be empty or contain only images."}
	ErrEmptyText       = &ValidationError{Message: "Please upload some text content"}

	// ErrFileTooLarge matches every *FileTooLargeError.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoDocument is returned by generators when the session holds no text.
	ErrNoDocument = errors.New("No document text found in session. Please upload a document first.")

	// ErrInvalidAIResponse wraps model output that is not valid JSON of the expected shape.
	ErrInvalidAIResponse = errors.New("AI response does not match the expected structure")

	// ErrNoArchivedDocument is returned when no original PDF is stored for the session.
	ErrNoArchivedDocument = errors.New("No archived document found for this session")

	ErrSessionExpired = store.ErrSessionExpired
)

// FileTooLargeError reports an upload over the configured limit.
type FileTooLargeError struct {
	MaxBytes int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("File too large. Maximum size is %d MB.", e.MaxBytes/(1<<20))
}

func (e *FileTooLargeError) Is(target error) bool {
	return target == ErrFileTooLarge
}
