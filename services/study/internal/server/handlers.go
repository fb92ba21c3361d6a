package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"studydeck/pkg/domain"
	"studydeck/services/study/internal/app"
)

const maxJSONBody = 1 << 20

// documents

type uploadResponse struct {
	PageCount int `json:"pageCount"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	maxBytes := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeAppError(w, r, &app.FileTooLargeError{MaxBytes: maxBytes}, "")
			return
		}
		s.writeAppError(w, r, app.ErrNoFile, "")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeAppError(w, r, app.ErrNoFile, "")
		return
	}
	defer file.Close()

	result, err := s.app.UploadPDF(r.Context(), sessionID, app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.writeAppError(w, r, err, "Failed to process PDF")
		return
	}
	writeOK(w, "PDF processed successfully", uploadResponse{PageCount: result.PageCount})
}

type textRequest struct {
	Text string `json:"text"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleUploadText(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req textRequest
	if !decodeBody(w, r, s.app.MaxUploadBytes(), &req) {
		return
	}
	if _, err := s.app.UploadText(r.Context(), sessionID, req.Text); err != nil {
		s.writeAppError(w, r, err, "Failed to store text")
		return
	}
	writeOK(w, "Text uploaded successfully", successResponse{Success: true})
}

func (s *Server) handleOriginal(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.OriginalDocumentURL(r.Context(), sessionID)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to create download link")
		return
	}
	writeOK(w, "Download link created", map[string]string{"url": url})
}

// generated content

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, sessionID string) {
	force, ok := contentRequest(w, r)
	if !ok {
		return
	}
	summary, cached, err := s.app.Summary(r.Context(), sessionID, force)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to generate summary")
		return
	}
	writeOK(w, "Summary generated successfully", map[string]any{"cached": cached, "summary": summary})
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request, sessionID string) {
	force, ok := contentRequest(w, r)
	if !ok {
		return
	}
	cards, cached, err := s.app.Flashcards(r.Context(), sessionID, force)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to generate flashcards")
		return
	}
	writeOK(w, "Flashcards generated successfully", map[string]any{"cached": cached, "flashcards": cards})
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request, sessionID string) {
	force, ok := contentRequest(w, r)
	if !ok {
		return
	}
	quiz, cached, err := s.app.Quiz(r.Context(), sessionID, force)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to generate quiz")
		return
	}
	writeOK(w, "Quiz generated successfully", map[string]any{"cached": cached, "quiz": quiz})
}

// contentRequest checks the method and parses the force flag.
func contentRequest(w http.ResponseWriter, r *http.Request) (bool, bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return false, false
	}
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return false, true
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid force parameter")
		return false, false
	}
	return force, true
}

// raw session storage

func (s *Server) handleSessionDocumentText(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.app.Session(sessionID)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to open session")
		return
	}
	switch r.Method {
	case http.MethodGet:
		text, ok, err := sess.DocumentText(r.Context())
		if err != nil {
			s.writeAppError(w, r, err, "Failed to load document text")
			return
		}
		var out *string
		if ok {
			out = &text
		}
		writeOK(w, "Document text", map[string]any{"text": out})
	case http.MethodPost:
		var req textRequest
		if !decodeBody(w, r, s.app.MaxUploadBytes(), &req) {
			return
		}
		if err := sess.SetDocumentText(r.Context(), req.Text, domain.DocumentInfo{}); err != nil {
			s.writeAppError(w, r, err, "Failed to store document text")
			return
		}
		writeOK(w, "Document text stored", successResponse{Success: true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.app.Session(sessionID)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to open session")
		return
	}
	switch r.Method {
	case http.MethodGet:
		summary, ok, err := sess.Summary(r.Context())
		if err != nil {
			s.writeAppError(w, r, err, "Failed to load summary")
			return
		}
		var out *domain.Summary
		if ok {
			out = &summary
		}
		writeOK(w, "Summary", map[string]any{"summary": out})
	case http.MethodPost:
		var req struct {
			Summary *domain.Summary `json:"summary"`
		}
		if !decodeBody(w, r, maxJSONBody, &req) {
			return
		}
		if req.Summary == nil {
			writeError(w, http.StatusBadRequest, "summary is required")
			return
		}
		if err := sess.SetSummary(r.Context(), *req.Summary); err != nil {
			s.writeAppError(w, r, err, "Failed to store summary")
			return
		}
		writeOK(w, "Summary stored", successResponse{Success: true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionFlashcards(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.app.Session(sessionID)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to open session")
		return
	}
	switch r.Method {
	case http.MethodGet:
		cards, ok, err := sess.Flashcards(r.Context())
		if err != nil {
			s.writeAppError(w, r, err, "Failed to load flashcards")
			return
		}
		if !ok {
			cards = nil
		}
		writeOK(w, "Flashcards", map[string]any{"flashcards": cards})
	case http.MethodPost:
		var req struct {
			Flashcards []domain.Flashcard `json:"flashcards"`
		}
		if !decodeBody(w, r, maxJSONBody, &req) {
			return
		}
		if err := sess.SetFlashcards(r.Context(), req.Flashcards); err != nil {
			s.writeAppError(w, r, err, "Failed to store flashcards")
			return
		}
		writeOK(w, "Flashcards stored", successResponse{Success: true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionQuiz(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.app.Session(sessionID)
	if err != nil {
		s.writeAppError(w, r, err, "Failed to open session")
		return
	}
	switch r.Method {
	case http.MethodGet:
		quiz, ok, err := sess.Quiz(r.Context())
		if err != nil {
			s.writeAppError(w, r, err, "Failed to load quiz")
			return
		}
		if !ok {
			quiz = nil
		}
		writeOK(w, "Quiz", map[string]any{"quiz": quiz})
	case http.MethodPost:
		var req struct {
			Quiz []domain.QuizQuestion `json:"quiz"`
		}
		if !decodeBody(w, r, maxJSONBody, &req) {
			return
		}
		if err := sess.SetQuiz(r.Context(), req.Quiz); err != nil {
			s.writeAppError(w, r, err, "Failed to store quiz")
			return
		}
		writeOK(w, "Quiz stored", successResponse{Success: true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.ClearSession(r.Context(), sessionID); err != nil {
		s.writeAppError(w, r, err, "Failed to clear session")
		return
	}
	writeOK(w, "Session cleared", successResponse{Success: true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
