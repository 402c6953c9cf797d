package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the optional settings.yaml at the switchboard home. Every
// field has an environment override; the file only sets defaults for a
// machine so the common case stays zero-config.
type Settings struct {
	Port          int    `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	WorkspaceRoot string `yaml:"workspace_root"`
	BundleName    string `yaml:"bundle_name"`

	Voice VoiceSettings `yaml:"voice"`
}

// VoiceSettings configures the realtime voice interface.
type VoiceSettings struct {
	Model         string `yaml:"model"`
	Voice         string `yaml:"voice"`
	Instructions  string `yaml:"instructions"`
	AssistantName string `yaml:"assistant_name"`
}

// Voice environment overrides.
const (
	EnvVoiceModel         = "SWITCHBOARD_VOICE_MODEL"
	EnvVoiceVoice         = "SWITCHBOARD_VOICE_VOICE"
	EnvVoiceInstructions  = "SWITCHBOARD_VOICE_INSTRUCTIONS"
	EnvVoiceAssistantName = "SWITCHBOARD_VOICE_ASSISTANT_NAME"
	EnvWorkspaceRoot      = "SWITCHBOARD_WORKSPACE_ROOT"
)

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Port:      DefaultPort,
		LogLevel:  "info",
		LogFormat: "json",
		Voice: VoiceSettings{
			Model:         "gpt-4o-realtime-preview",
			Voice:         "ash",
			AssistantName: "Switchboard",
		},
	}
}

// LoadSettings reads settings.yaml from the given path, layering it over the
// defaults and then applying environment overrides. A missing file is fine.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return s, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse settings: %w", err)
		}
	}

	applyEnv(&s)
	return s, nil
}

func applyEnv(s *Settings) {
	if v := os.Getenv(EnvVoiceModel); v != "" {
		s.Voice.Model = v
	}
	if v := os.Getenv(EnvVoiceVoice); v != "" {
		s.Voice.Voice = v
	}
	if v := os.Getenv(EnvVoiceInstructions); v != "" {
		s.Voice.Instructions = v
	}
	if v := os.Getenv(EnvVoiceAssistantName); v != "" {
		s.Voice.AssistantName = v
	}
	if v := os.Getenv(EnvWorkspaceRoot); v != "" {
		s.WorkspaceRoot = v
	}
}

// WorkspaceRootOrHome resolves the configured workspace root, falling back
// to the user's home directory.
func (s Settings) WorkspaceRootOrHome() string {
	if s.WorkspaceRoot != "" {
		return ExpandPath(s.WorkspaceRoot)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
