package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"studydeck/internal/metrics"
	"studydeck/internal/ratelimit"
	"studydeck/internal/util"
	"studydeck/services/study/internal/app"
)

const (
	sessionCookieName = "session_id"
	apiVersion        = "1.0.0"
	// multipart framing on top of the file itself
	multipartOverhead = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics
	// Limiter is optional; when set it guards generation and upload routes.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	CookieSecure   bool
}

// Server exposes the study HTTP API.
type Server struct {
	app            *app.App
	metrics        *metrics.Metrics
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	cookieSecure   bool
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		metrics:        cfg.Metrics,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		cookieSecure:   cfg.CookieSecure,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	cors := util.CORSOptions{AllowedOrigins: s.allowedOrigins, AllowCredentials: true}
	return util.WithRequestID(util.WithRequestLog("study", util.WithSecurityHeaders(util.WithCORS(cors, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// documents
	s.mux.Handle("/api/documents/upload", s.withSession(s.limited(s.handleUpload)))
	s.mux.Handle("/api/documents/upload-text", s.withSession(s.handleUploadText))
	s.mux.Handle("/api/documents/original", s.withSession(s.handleOriginal))

	// generated content
	s.mux.Handle("/api/content/summary", s.withSession(s.limited(s.handleSummary)))
	s.mux.Handle("/api/content/flashcards", s.withSession(s.limited(s.handleFlashcards)))
	s.mux.Handle("/api/content/quiz", s.withSession(s.limited(s.handleQuiz)))

	// raw session storage
	s.mux.Handle("/api/session/document-text", s.withSession(s.handleSessionDocumentText))
	s.mux.Handle("/api/session/summary", s.withSession(s.handleSessionSummary))
	s.mux.Handle("/api/session/flashcards", s.withSession(s.handleSessionFlashcards))
	s.mux.Handle("/api/session/quiz", s.withSession(s.handleSessionQuiz))
	s.mux.Handle("/api/session/clear", s.withSession(s.handleSessionClear))
}

type healthResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		notFound(w)
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	writeOK(w, "StudyDeck API", healthResponse{
		Message: "StudyDeck API",
		Version: apiVersion,
		Status:  "healthy",
	})
}

type sessionIDContextKey struct{}

type sessionHandler func(http.ResponseWriter, *http.Request, string)

// withSession resolves the session cookie, issuing a new id when the
// cookie is missing or malformed, and refreshes the cookie on every response.
func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(sessionCookieName); err == nil && util.IsID(c.Value) {
			sessionID = c.Value
		}
		if sessionID == "" {
			sessionID = util.NewID()
		}
		s.setSessionCookie(w, sessionID)
		ctx := context.WithValue(r.Context(), sessionIDContextKey{}, sessionID)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("session_id", sessionID))
		next(w, r.WithContext(ctx), sessionID)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	maxAge := int(s.app.SessionTTL() / time.Second)
	w.Header().Del("Set-Cookie")
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// rotateSession replaces the cookie of an expired session with a fresh id.
func (s *Server) rotateSession(w http.ResponseWriter, r *http.Request) {
	old, _ := r.Context().Value(sessionIDContextKey{}).(string)
	fresh := util.NewID()
	s.setSessionCookie(w, fresh)
	util.LoggerFromContext(r.Context()).Info("session expired, issued new session", "old_session_id", old, "new_session_id", fresh)
}

// limited applies the optional per-client rate limit.
func (s *Server) limited(next sessionHandler) sessionHandler {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, sessionID string) {
		key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
		decision, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "err", err)
		}
		if !decision.Allowed {
			s.metrics.RateLimited()
			retryAfter := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
		next(w, r, sessionID)
	}
}
