// Package discovery scans the runtime projects tree for sessions, so any
// interface can list and resume conversations started elsewhere.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/observability"
)

// Session is one discovered session.
type Session struct {
	SessionID   string    `json:"session_id"`
	ProjectID   string    `json:"project_id"`
	ProjectPath string    `json:"project_path"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	ModTime     time.Time `json:"last_active"`
}

// Project aggregates the sessions under one project directory.
type Project struct {
	ProjectID    string    `json:"project_id"`
	ProjectPath  string    `json:"project_path"`
	SessionCount int       `json:"session_count"`
	LastActive   time.Time `json:"last_active"`
}

// Scanner walks a runtime home's projects tree.
type Scanner struct {
	home   string
	logger *observability.Logger
}

// NewScanner creates a scanner over the given runtime home.
func NewScanner(home string, logger *observability.Logger) *Scanner {
	return &Scanner{home: home, logger: logger}
}

// ListSessions returns up to limit sessions, most recently active first.
// When projectFilter is non-empty only that project id is scanned.
func (s *Scanner) ListSessions(limit int, projectFilter string) ([]Session, error) {
	projectsDir := filepath.Join(s.home, config.ProjectsDirName)
	dirs, err := os.ReadDir(projectsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		projectID := dir.Name()
		if projectFilter != "" && projectID != projectFilter {
			continue
		}
		sessions = append(sessions, s.scanProject(filepath.Join(projectsDir, projectID), projectID)...)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// scanProject collects sessions from <project>/sessions/* or, for older
// layouts, directly from <project>/*.
func (s *Scanner) scanProject(projectDir, projectID string) []Session {
	base := filepath.Join(projectDir, config.SessionsDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		base = projectDir
		entries, err = os.ReadDir(base)
		if err != nil {
			return nil
		}
	}

	projectPath := config.DecodeProjectID(projectID)
	var sessions []Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		// Ids with underscores are agent sub-sessions, not user conversations.
		if strings.Contains(sessionID, "_") {
			continue
		}
		transcriptPath := filepath.Join(base, sessionID, config.TranscriptFilename)
		info, err := os.Stat(transcriptPath)
		if err != nil {
			continue
		}

		session := Session{
			SessionID:   sessionID,
			ProjectID:   projectID,
			ProjectPath: projectPath,
			ModTime:     info.ModTime(),
		}
		if meta := readMetadata(filepath.Join(base, sessionID, config.MetadataFilename)); meta != nil {
			session.Name, _ = meta["name"].(string)
			session.Description, _ = meta["description"].(string)
		}
		sessions = append(sessions, session)
	}
	return sessions
}

// ListProjects aggregates session counts and recency per project.
func (s *Scanner) ListProjects() ([]Project, error) {
	sessions, err := s.ListSessions(0, "")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Project)
	var order []string
	for _, session := range sessions {
		p, ok := byID[session.ProjectID]
		if !ok {
			p = &Project{ProjectID: session.ProjectID, ProjectPath: session.ProjectPath}
			byID[session.ProjectID] = p
			order = append(order, session.ProjectID)
		}
		p.SessionCount++
		if session.ModTime.After(p.LastActive) {
			p.LastActive = session.ModTime
		}
	}

	projects := make([]Project, 0, len(byID))
	for _, id := range order {
		projects = append(projects, *byID[id])
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastActive.After(projects[j].LastActive)
	})
	return projects, nil
}

// GetSession searches every project and returns the first match for
// sessionID, or nil when not found.
func (s *Scanner) GetSession(sessionID string) (*Session, error) {
	sessions, err := s.ListSessions(0, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].SessionID == sessionID {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

func readMetadata(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var meta map[string]any
	if json.Unmarshal(data, &meta) != nil {
		return nil
	}
	return meta
}
