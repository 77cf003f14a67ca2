package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"scriptstudio/internal/gate"
	"scriptstudio/internal/session"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/domain"
	"scriptstudio/services/studio/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Gate           *gate.Gate
	Sessions       *session.Codec
	AllowedOrigins []string
}

// Server exposes the studio HTTP API.
type Server struct {
	app            *app.App
	gate           *gate.Gate
	sessions       *session.Codec
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("gate required")
	}
	s := &Server{
		app:            cfg.App,
		gate:           cfg.Gate,
		sessions:       cfg.Sessions,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studio", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.gate.Wrap(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /session", s.handleSession)

	// generation
	s.mux.Handle("POST /generate/script", withIdentity(s.handleGenerateScript))
	s.mux.Handle("POST /generate/image", withIdentity(s.handleGenerateImage))
	s.mux.Handle("POST /generate/tts", withIdentity(s.handleGenerateSpeech))

	// projects
	s.mux.Handle("GET /projects", withIdentity(s.handleListProjects))
	s.mux.Handle("GET /projects/{id}", withIdentity(s.handleProjectDetail))
	s.mux.Handle("GET /assets/{id}/url", withIdentity(s.handleAssetURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSession reports the session carried by the cookie, if any.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	c, err := r.Cookie(s.gate.CookieName())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	payload, ok := s.sessions.Parse(c.Value)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := gate.IdentityFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, id)
	})
}

func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	var req app.ScriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.app.GenerateScript(r.Context(), id, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	var req app.ImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.app.GenerateImage(r.Context(), id, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateSpeech(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	var req app.SpeechRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.app.GenerateSpeech(r.Context(), id, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	projects, err := s.app.ListProjects(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": projects,
		"count": len(projects),
	})
}

func (s *Server) handleProjectDetail(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	detail, err := s.app.ProjectDetail(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAssetURL(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	url, ttl, err := s.app.AssetURL(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresIn": int(ttl.Seconds()),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeAppError maps service errors to responses. Anything unrecognised is a
// generic 500; the cause is logged, never echoed.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrGenerationFailed):
		writeError(w, http.StatusInternalServerError, "generation failed")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "STUDIO_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case http.StatusForbidden:
		return "STUDIO_FORBIDDEN"
	case http.StatusNotFound:
		return "STUDIO_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
