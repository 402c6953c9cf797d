package gateway

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/transcript"
	"github.com/haasonsaas/switchboard/internal/voice"
	"github.com/haasonsaas/switchboard/pkg/models"
)

//go:embed static
var voiceStatic embed.FS

// sseHeartbeat is how long the event stream idles before emitting a
// keep-alive comment.
const sseHeartbeat = 5 * time.Second

func (s *Server) mountVoiceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /apps/voice/{$}", s.handleVoiceIndex)
	mux.HandleFunc("GET /apps/voice/static/vendor.js", s.handleVoiceVendor)
	mux.HandleFunc("GET /apps/voice/api/status", s.handleVoiceStatus)
	mux.HandleFunc("GET /apps/voice/session", s.requireAuth(s.handleVoiceToken))
	mux.HandleFunc("POST /apps/voice/sdp", s.handleVoiceSDP)
	mux.HandleFunc("GET /apps/voice/events", s.handleVoiceEvents)
	mux.HandleFunc("POST /apps/voice/sessions", s.requireAuth(s.handleVoiceCreateSession))
	mux.HandleFunc("GET /apps/voice/sessions", s.requireAuth(s.handleVoiceListSessions))
	mux.HandleFunc("GET /apps/voice/sessions/stats", s.requireAuth(s.handleVoiceSessionStats))
	mux.HandleFunc("POST /apps/voice/sessions/{id}/resume", s.requireAuth(s.handleVoiceResume))
	mux.HandleFunc("POST /apps/voice/sessions/{id}/transcript", s.requireAuth(s.handleVoiceTranscript))
	mux.HandleFunc("POST /apps/voice/sessions/{id}/end", s.requireAuth(s.handleVoiceEnd))
	mux.HandleFunc("POST /apps/voice/tools/execute", s.requireAuth(s.handleVoiceTools))
	mux.HandleFunc("POST /apps/voice/cancel", s.requireAuth(s.handleVoiceCancel))
}

func (s *Server) handleVoiceIndex(w http.ResponseWriter, r *http.Request) {
	data, err := voiceStatic.ReadFile("static/index.html")
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleVoiceVendor(w http.ResponseWriter, r *http.Request) {
	data, err := voiceStatic.ReadFile("static/vendor.js")
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	configured := s.voice != nil && s.voice.Realtime() != nil && s.voice.Realtime().Configured()
	status := "unconfigured"
	if configured {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"api_key_set":    configured,
		"model":          s.cfg.Settings.Voice.Model,
		"voice":          s.cfg.Settings.Voice.Voice,
		"assistant_name": s.cfg.Settings.Voice.AssistantName,
		"turn_server":    nil,
	})
}

func (s *Server) handleVoiceToken(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil || s.voice.Realtime() == nil || !s.voice.Realtime().Configured() {
		writeError(w, http.StatusServiceUnavailable, "voice is not configured")
		return
	}
	token, err := s.voice.Realtime().CreateClientSecret(r.Context())
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": token})
}

func (s *Server) handleVoiceSDP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "ephemeral token required")
		return
	}
	if s.voice == nil || s.voice.Realtime() == nil {
		writeError(w, http.StatusServiceUnavailable, "voice is not configured")
		return
	}
	offer, err := io.ReadAll(r.Body)
	if err != nil || len(offer) == 0 {
		writeError(w, http.StatusBadRequest, "missing SDP offer")
		return
	}
	answer, err := s.voice.Realtime().ExchangeSDP(r.Context(), offer, token)
	if err != nil {
		s.logger.Warn(r.Context(), "sdp exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	w.Write(answer)
}

// handleVoiceEvents is the SSE consumer for one voice session's event
// queue. A client disconnect tears the connection down so the queue wiring
// never outlives its consumer.
func (s *Server) handleVoiceEvents(w http.ResponseWriter, r *http.Request) {
	if !checkOrigin(w, r) {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if !sessionIDPattern.MatchString(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	conn, ok := s.voice.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+sessionID)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeInternalError(w, r, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			if !conn.Ended() {
				conn.Teardown(context.Background(), "network_error")
			}
			return
		default:
		}

		event, ok := conn.Events().Pop(ctx, sseHeartbeat)
		if !ok {
			if ctx.Err() != nil {
				continue
			}
			fmt.Fprint(w, ":heartbeat\n\n")
			flusher.Flush()
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn(ctx, "unencodable event dropped", "session_id", sessionID, "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		conn.Touch()
	}
}

func (s *Server) handleVoiceCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceRoot string `json:"workspace_root"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if body.WorkspaceRoot == "" {
		body.WorkspaceRoot = s.cfg.Settings.WorkspaceRoot
	}
	conn, err := s.voice.CreateConnection(r.Context(), body.WorkspaceRoot)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": conn.SessionID()})
}

func (s *Server) handleVoiceListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.voice.Store().List()
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if records == nil {
		records = []transcript.IndexRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handleVoiceSessionStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.voice.Store().List()
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	counts := map[string]int{}
	for _, record := range records {
		counts[record.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        len(records),
		"active":       counts[transcript.StatusActive],
		"disconnected": counts[transcript.StatusDisconnected],
		"ended":        counts[transcript.StatusEnded],
	})
}

func (s *Server) handleVoiceResume(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		WorkspaceRoot string `json:"workspace_root"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if body.WorkspaceRoot == "" {
		body.WorkspaceRoot = s.cfg.Settings.WorkspaceRoot
	}

	conn, err := s.voice.ResumeConnection(r.Context(), sessionID, body.WorkspaceRoot)
	if err != nil {
		if errors.Is(err, backend.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "unknown session: "+sessionID)
			return
		}
		s.writeInternalError(w, r, err)
		return
	}

	contextToInject, err := s.voice.Store().ResumptionContext(sessionID)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	if contextToInject == nil {
		contextToInject = []map[string]any{}
	}

	clientSecret := ""
	if s.voice.Realtime() != nil && s.voice.Realtime().Configured() {
		clientSecret, err = s.voice.Realtime().CreateClientSecret(r.Context())
		if err != nil {
			s.writeInternalError(w, r, err)
			return
		}
	}

	conn.Touch()
	writeJSON(w, http.StatusOK, map[string]any{
		"client_secret":     clientSecret,
		"context_to_inject": contextToInject,
	})
}

func (s *Server) handleVoiceTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	// The body must be an object; a bare entries array is rejected so the
	// envelope can grow fields without breaking clients.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		writeError(w, http.StatusBadRequest, "body must be an object with an entries field")
		return
	}
	var body struct {
		Entries []transcript.Entry `json:"entries"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	conn, ok := s.voice.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: "+sessionID)
		return
	}
	if err := conn.SyncEntries(r.Context(), body.Entries); err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": len(body.Entries)})
}

func (s *Server) handleVoiceEnd(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}

	if conn, ok := s.voice.Get(sessionID); ok {
		conn.End(r.Context(), body.Reason)
		s.voice.Remove(sessionID)
	} else if _, err := s.voice.Store().End(sessionID, body.Reason); err != nil {
		writeError(w, http.StatusNotFound, "unknown session: "+sessionID)
		return
	}

	conv, err := s.voice.Store().Get(sessionID)
	if err != nil {
		s.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     conv.Status,
		"end_reason": conv.EndReason,
	})
}

func (s *Server) handleVoiceTools(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	switch body.Name {
	case "delegate":
		s.handleDelegate(w, r, body.Arguments)
	case "cancel_current_task":
		sessionID, _ := body.Arguments["session_id"].(string)
		immediate, _ := body.Arguments["immediate"].(bool)
		conn, ok := s.resolveConnection(sessionID)
		if !ok {
			writeError(w, http.StatusNotFound, "no voice session to cancel")
			return
		}
		conn.Cancel(r.Context(), immediate)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "pause_replies":
		s.voice.PauseReplies()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": true})
	case "resume_replies":
		s.voice.ResumeReplies()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": false})
	default:
		writeError(w, http.StatusBadRequest, "unknown tool: "+body.Name)
	}
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request, args map[string]any) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	sessionID, _ := args["session_id"].(string)
	conn, ok := s.resolveConnection(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "no voice session to delegate to")
		return
	}
	response, err := s.backend.SendMessage(r.Context(), conn.SessionID(), prompt)
	if err != nil {
		if errors.Is(err, backend.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "unknown session: "+conn.SessionID())
			return
		}
		s.writeInternalError(w, r, err)
		return
	}
	conn.Touch()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": response})
}

// resolveConnection finds the addressed connection, falling back to the
// single live one when the caller names none.
func (s *Server) resolveConnection(sessionID string) (*voice.Connection, bool) {
	if sessionID != "" {
		return s.voice.Get(sessionID)
	}
	conns := s.voice.Connections()
	if len(conns) == 1 {
		return conns[0], true
	}
	return nil, false
}

func (s *Server) handleVoiceCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Immediate bool   `json:"immediate"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !sessionIDPattern.MatchString(body.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	level := models.CancelGraceful
	if body.Immediate {
		level = models.CancelImmediate
	}
	s.backend.CancelSession(r.Context(), body.SessionID, level)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
