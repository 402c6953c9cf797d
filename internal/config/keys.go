package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// LoadKeys parses a keys.env file into a map. Lines are KEY=VALUE, blank
// lines and # comments are skipped, and surrounding single or double quotes
// are stripped from values. A missing file yields an empty map, not an error.
func LoadKeys(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open keys file: %w", err)
	}
	defer f.Close()

	keys := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		value = unquote(value)
		if name != "" {
			keys[name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	return keys, nil
}

// WriteKeys persists a keys map as KEY=VALUE lines with 0600 permissions.
func WriteKeys(path string, keys map[string]string) error {
	var b strings.Builder
	for name, value := range keys {
		fmt.Fprintf(&b, "%s=%s\n", name, value)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}

// CheckKeysPermissions reports an error if the keys file exists with
// permissions wider than 0600. No-op on Windows and for missing files.
func CheckKeysPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("keys file %s has mode %04o, want 0600", path, perm)
	}
	return nil
}

// Secret resolves a secret by name: the environment wins, keys.env fills in
// unset variables. Returns "" when neither source has it.
func Secret(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	keys, err := LoadKeys(KeysPath())
	if err != nil {
		return ""
	}
	return keys[name]
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
