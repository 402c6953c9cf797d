package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/discovery"
	"github.com/haasonsaas/switchboard/internal/doctor"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/pkg/models"
)

func (s *Server) mountAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/apps", s.handleApps)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/integrations", s.handleIntegrations)
	mux.HandleFunc("POST /api/test-provider", s.requireAuth(s.handleTestProvider))
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/recent", s.handleRecentSessions)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/bridge/session", s.requireAuth(s.handleBridgeSession))
	mux.HandleFunc("POST /api/bridge/execute", s.requireAuth(s.handleBridgeExecute))
	mux.HandleFunc("POST /api/memory/remember", s.requireAuth(s.handleMemoryRemember))
	mux.HandleFunc("GET /api/memory/recall", s.handleMemoryRecall)
	mux.HandleFunc("GET /api/memory/work-status", s.handleMemoryWorkStatus)
	mux.HandleFunc("POST /api/memory/work-log", s.requireAuth(s.handleMemoryWorkLog))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	voiceEnabled := s.voice != nil && s.voice.Realtime() != nil && s.voice.Realtime().Configured()
	writeJSON(w, http.StatusOK, map[string]any{
		"voice": map[string]any{
			"description": "realtime voice interface",
			"version":     s.cfg.Version,
			"mount_path":  "/apps/voice",
			"enabled":     voiceEnabled,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, doctor.Run(r.Context(), s.cfg.Home))
}

func (s *Server) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	status := func(configured bool) string {
		if configured {
			return "configured"
		}
		return "not_configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"openai": map[string]string{
			"status":    status(config.Secret("OPENAI_API_KEY") != ""),
			"setup_url": "https://platform.openai.com/api-keys",
		},
		"anthropic": map[string]string{
			"status":    status(config.Secret("ANTHROPIC_API_KEY") != ""),
			"setup_url": "https://console.anthropic.com/settings/keys",
		},
		"slack": map[string]string{
			"status":    status(config.Secret("SLACK_BOT_TOKEN") != "" && config.Secret("SLACK_APP_TOKEN") != ""),
			"setup_url": "https://api.slack.com/apps",
		},
	})
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	// Probe failures are data, not server errors: always 200.
	writeJSON(w, http.StatusOK, doctor.ProbeProvider(r.Context(), body.Provider, doctor.ProbeOptions{}))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.backend.ListActiveSessions()
	if sessions == nil {
		sessions = []models.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleRecentSessions lists on-disk runtime sessions, newest first, so a
// client can offer to resume conversations started from other interfaces.
func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	sessions, err := s.discovery.ListSessions(limit, r.URL.Query().Get("project"))
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []discovery.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.discovery.ListProjects()
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if projects == nil {
		projects = []discovery.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleBridgeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkingDir  string `json:"working_dir"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.WorkingDir == "" {
		body.WorkingDir = s.cfg.Settings.WorkspaceRoot
	}
	info, err := s.backend.CreateSession(r.Context(), backend.CreateSessionOptions{
		WorkingDir:  body.WorkingDir,
		Description: body.Description,
		CreatedBy:   models.AppChat,
	})
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBridgeExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Prompt    string `json:"prompt"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !sessionIDPattern.MatchString(body.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	response, err := s.backend.SendMessage(r.Context(), body.SessionID, body.Prompt)
	if err != nil {
		if errors.Is(err, backend.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "unknown session: "+body.SessionID)
			return
		}
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": body.SessionID,
		"response":   response,
	})
}

func (s *Server) handleMemoryRemember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(body.Tags) == 0 {
		body.Tags = []string{memory.Categorize(body.Content)}
	}
	entry, err := s.memory.Remember(body.Content, body.Tags)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleMemoryRecall(w http.ResponseWriter, r *http.Request) {
	entries, err := s.memory.Recall(r.URL.Query().Get("q"))
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": entries})
}

func (s *Server) handleMemoryWorkStatus(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.memory.WorkStatus(limit)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []memory.WorkLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleMemoryWorkLog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note    string `json:"note"`
		Session string `json:"session"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Note == "" {
		writeError(w, http.StatusBadRequest, "note is required")
		return
	}
	entry, err := s.memory.AppendWorkLog(body.Note, body.Session)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
