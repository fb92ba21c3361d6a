package store

import (
	"time"

	"gorm.io/datatypes"
)

// SessionModel is the Postgres row backing one session.
type SessionModel struct {
	ID           string         `gorm:"primaryKey"`
	DocumentText *string        `gorm:"type:text"`
	Document     datatypes.JSON `gorm:"type:jsonb"`
	Summary      datatypes.JSON `gorm:"type:jsonb"`
	Flashcards   datatypes.JSON `gorm:"type:jsonb"`
	Quiz         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    *time.Time
	ExpiredAt    *time.Time `gorm:"index"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

// sessionColumns maps stored field names onto SessionModel columns.
var sessionColumns = map[string]string{
	fieldDocumentText: "document_text",
	fieldDocument:     "document",
	fieldSummary:      "summary",
	fieldFlashcards:   "flashcards",
	fieldQuiz:         "quiz",
}

func (m SessionModel) value(field string) (string, bool) {
	switch field {
	case fieldDocumentText:
		if m.DocumentText == nil {
			return "", false
		}
		return *m.DocumentText, true
	case fieldDocument:
		return jsonValue(m.Document)
	case fieldSummary:
		return jsonValue(m.Summary)
	case fieldFlashcards:
		return jsonValue(m.Flashcards)
	case fieldQuiz:
		return jsonValue(m.Quiz)
	default:
		return "", false
	}
}

func jsonValue(v datatypes.JSON) (string, bool) {
	if len(v) == 0 || string(v) == "null" {
		return "", false
	}
	return string(v), true
}
