// Package server exposes the assessment engine over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fcaptcha/sentinel/internal/engine"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/metrics"
)

type Server struct {
	engine *engine.Engine
	log    *slog.Logger
}

func New(eng *engine.Engine, log *slog.Logger) *Server {
	return &Server{engine: eng, log: log}
}

// Router builds the HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for the embedded widget
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Widget-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/api/assess", s.assessHandler)
	r.Post("/api/challenge/answer", s.answerHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) assessHandler(w http.ResponseWriter, r *http.Request) {
	var req engine.AssessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WidgetID == "" {
		http.Error(w, "widgetId is required", http.StatusBadRequest)
		return
	}

	req.IP = clientIP(r)
	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}

	ctx := logging.WithLogger(r.Context(), s.log)
	res := s.engine.Assess(ctx, req)

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	var ans engine.ChallengeAnswer
	if err := json.NewDecoder(r.Body).Decode(&ans); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if ans.SessionID == "" || ans.ChallengeID == "" {
		http.Error(w, "sessionId and challengeId are required", http.StatusBadRequest)
		return
	}

	ctx := logging.WithSessionID(logging.WithLogger(r.Context(), s.log), ans.SessionID)
	res := s.engine.SubmitChallenge(ctx, ans)

	writeJSON(w, http.StatusOK, res)
}

// clientIP resolves the caller address behind a reverse proxy.
func clientIP(r *http.Request) string {
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
