// Package config holds path conventions and configuration loading for the
// switchboard experience server.
//
// Most values are fixed conventions. The state root can be overridden via
// the SWITCHBOARD_HOME environment variable.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Filenames and directory names under the switchboard home.
const (
	KeysFilename       = "keys.env"
	SettingsFilename   = "settings.yaml"
	TranscriptFilename = "transcript.jsonl"
	MetadataFilename   = "metadata.json"

	ProjectsDirName      = "projects"
	SessionsDirName      = "sessions"
	VoiceSessionsDirName = "voice-sessions"
	MemoryDirName        = "memory"
	ServerDirName        = "server"

	ServerPIDFilename   = "server.pid"
	ServerLogFilename   = "server.log"
	CrashLogFilename    = "crash.log"
	SlackSessionsFile   = "slack-sessions.json"
	MemoryStoreFilename = "memory-store.yaml"
	WorkLogFilename     = "work-log.yaml"

	DefaultPort = 8400
)

// EnvHome overrides the default state root (~/.switchboard).
const EnvHome = "SWITCHBOARD_HOME"

// EnvAPIKey configures the server API key. Empty means open, local-only mode.
const EnvAPIKey = "SWITCHBOARD_SERVER_API_KEY"

// Home returns the switchboard state root, honoring SWITCHBOARD_HOME.
func Home() string {
	if v := os.Getenv(EnvHome); v != "" {
		return expand(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".switchboard"
	}
	return filepath.Join(home, ".switchboard")
}

// ProjectsDir returns the root of the per-project session tree.
func ProjectsDir() string {
	return filepath.Join(Home(), ProjectsDirName)
}

// VoiceSessionsDir returns the root of voice conversation persistence.
func VoiceSessionsDir() string {
	return filepath.Join(Home(), VoiceSessionsDirName)
}

// ServerDir returns the directory holding PID files and server logs.
func ServerDir() string {
	return filepath.Join(Home(), ServerDirName)
}

// MemoryDir returns the directory holding the memory store files.
func MemoryDir() string {
	return filepath.Join(Home(), MemoryDirName)
}

// KeysPath returns the path of the keys.env secrets file.
func KeysPath() string {
	return filepath.Join(Home(), KeysFilename)
}

// SessionDir returns the on-disk directory for one runtime session.
func SessionDir(home, projectID, sessionID string) string {
	return filepath.Join(home, ProjectsDirName, projectID, SessionsDirName, sessionID)
}

// ProjectID encodes an absolute working directory as a filesystem-safe
// project identifier: path separators become dashes, a leading separator
// is preserved as a leading dash. /home/sam/repo -> -home-sam-repo.
func ProjectID(workingDir string) string {
	return strings.ReplaceAll(filepath.ToSlash(workingDir), "/", "-")
}

// DecodeProjectID reverses ProjectID for directory names produced by it.
// Names without a leading dash are returned unchanged.
func DecodeProjectID(dirName string) string {
	if strings.HasPrefix(dirName, "-") {
		return strings.ReplaceAll(dirName, "-", "/")
	}
	return dirName
}

func expand(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// ExpandPath resolves a leading ~ and returns an absolute path when possible.
func ExpandPath(path string) string {
	p := expand(path)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
