package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"studydeck/internal/util"
	"studydeck/pkg/domain"
	"studydeck/pkg/store"
	"studydeck/services/study/internal/app"
)

// envelope wraps every JSON response.
type envelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Data    any    `json:"data"`
}

var statusCodes = map[int]string{
	http.StatusOK:                    "200_OK",
	http.StatusBadRequest:            "400_BAD_REQUEST",
	http.StatusUnauthorized:          "401_UNAUTHORIZED",
	http.StatusNotFound:              "404_NOT_FOUND",
	http.StatusMethodNotAllowed:      "405_METHOD_NOT_ALLOWED",
	http.StatusRequestEntityTooLarge: "413_PAYLOAD_TOO_LARGE",
	http.StatusTooManyRequests:       "429_TOO_MANY_REQUESTS",
	http.StatusInternalServerError:   "500_INTERNAL_SERVER_ERROR",
}

func codeFor(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= http.StatusInternalServerError {
		return statusCodes[http.StatusInternalServerError]
	}
	if status >= http.StatusBadRequest {
		return statusCodes[http.StatusBadRequest]
	}
	return statusCodes[http.StatusOK]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Message: message, Code: codeFor(http.StatusOK), Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorData(w, status, msg, nil)
}

func writeErrorData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Message: msg, Code: codeFor(status), Data: data})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not found")
}

const sessionExpiredMessage = "Session expired. Please upload your document again."

// classifyError maps an application error to a status and a client-safe
// message. fallback is used for internal errors.
func classifyError(err error, fallback string) (int, string) {
	var tooLarge *app.FileTooLargeError
	var maxBytes *http.MaxBytesError
	var validation *app.ValidationError
	switch {
	case errors.Is(err, store.ErrSessionExpired):
		return http.StatusUnauthorized, sessionExpiredMessage
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, tooLarge.Error()
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, (&app.FileTooLargeError{MaxBytes: maxBytes.Limit}).Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.Is(err, domain.ErrInvalidContent), errors.Is(err, store.ErrSessionIDRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrNoDocument), errors.Is(err, app.ErrNoArchivedDocument):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, app.ErrInvalidAIResponse):
		return http.StatusInternalServerError, app.ErrInvalidAIResponse.Error()
	}
	status := statusFromMessage(err.Error())
	if status >= http.StatusInternalServerError {
		return status, fallback
	}
	return status, err.Error()
}

// statusFromMessage is the keyword table for errors that carry no type.
func statusFromMessage(msg string) int {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "expired"):
		return http.StatusUnauthorized
	case strings.Contains(msg, "too large"), strings.Contains(msg, "size"):
		return http.StatusRequestEntityTooLarge
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no document"):
		return http.StatusNotFound
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "not a pdf"),
		strings.Contains(msg, "no file"),
		strings.Contains(msg, "no text content"),
		strings.Contains(msg, "please upload"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// rootMessage returns the message of the sentinel at the bottom of a wrap chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// writeAppError logs and renders err. An expired session also gets a fresh
// session cookie so the client can start over.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, msg := classifyError(err, fallback)
	logger := util.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	if errors.Is(err, store.ErrSessionExpired) {
		s.rotateSession(w, r)
		writeErrorData(w, status, msg, map[string]bool{"expired": true})
		return
	}
	writeError(w, status, msg)
}
