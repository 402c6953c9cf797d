package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/switchboard/internal/observability"
)

// closeGrace is how long Close waits for the bundle process to exit before
// killing it.
const closeGrace = 5 * time.Second

// SubprocessRuntime drives bundle executables over stdio. A bundle is a
// directory containing a `run` executable (or a direct path to one); each
// session is one child process speaking newline-delimited JSON: the server
// writes prompt frames, the bundle writes event frames and one result frame
// per prompt.
type SubprocessRuntime struct {
	logger *observability.Logger
}

// NewSubprocessRuntime creates a runtime that launches bundle processes.
func NewSubprocessRuntime(logger *observability.Logger) *SubprocessRuntime {
	return &SubprocessRuntime{logger: logger}
}

// LoadBundle resolves the bundle's executable. Directories must contain a
// `run` entry point.
func (r *SubprocessRuntime) LoadBundle(ctx context.Context, nameOrPath string) (Prepared, error) {
	path := nameOrPath
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", nameOrPath, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, "run")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("bundle %s has no run entry point: %w", nameOrPath, err)
		}
	}
	return &subprocessPrepared{runtime: r, executable: path}, nil
}

type subprocessPrepared struct {
	runtime    *SubprocessRuntime
	executable string
}

// CreateSession launches the bundle process for one session.
func (p *subprocessPrepared) CreateSession(ctx context.Context, opts CreateOptions) (Session, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	args := []string{"--session-id", id}
	if opts.WorkingDir != "" {
		args = append(args, "--working-dir", opts.WorkingDir)
	}
	if opts.Resumed {
		args = append(args, "--resumed")
	}

	cmd := exec.Command(p.executable, args...)
	cmd.Dir = opts.WorkingDir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bundle %s: %w", p.executable, err)
	}

	session := &subprocessSession{
		id:          id,
		cmd:         cmd,
		stdin:       stdin,
		scanner:     bufio.NewScanner(stdout),
		coordinator: NewCoordinator(),
		context:     NewMemoryContext(),
		logger:      p.runtime.logger,
	}
	session.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	session.coordinator.SetContext(session.context)
	return session, nil
}

// frame is one NDJSON message on the session pipe.
type frame struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Text   string         `json:"text,omitempty"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
}

type subprocessSession struct {
	id          string
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	scanner     *bufio.Scanner
	coordinator *Coordinator
	context     *MemoryContext
	logger      *observability.Logger

	mu     sync.Mutex
	closed bool
}

func (s *subprocessSession) ID() string { return s.id }

func (s *subprocessSession) Coordinator() *Coordinator { return s.coordinator }

// Execute writes one prompt frame and reads frames until the matching
// result. Event frames are re-fired on the coordinator's hook registry so
// consumers observe the bundle's progress.
func (s *subprocessSession) Execute(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("session %s is closed", s.id)
	}

	s.coordinator.Hooks().Emit(ctx, EventPromptSubmit, map[string]any{
		"session_id": s.id,
		"prompt":     prompt,
	})
	s.context.Append(map[string]any{"role": "user", "content": prompt})

	if err := s.writeFrame(frame{Type: "prompt", Prompt: prompt}); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("read bundle output: %w", err)
			}
			return "", fmt.Errorf("bundle process closed its output")
		}
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			s.logger.Warn(ctx, "malformed bundle frame skipped", "session_id", s.id, "error", err)
			continue
		}

		switch f.Type {
		case "event":
			data := f.Data
			if data == nil {
				data = map[string]any{}
			}
			data["session_id"] = s.id
			s.coordinator.Hooks().Emit(ctx, f.Name, data)
		case "result":
			if f.Error != "" {
				s.coordinator.Hooks().Emit(ctx, EventOrchestratorDone, map[string]any{
					"session_id": s.id,
					"error":      f.Error,
				})
				return "", fmt.Errorf("bundle error: %s", f.Error)
			}
			s.context.Append(map[string]any{"role": "assistant", "content": f.Text})
			s.coordinator.Hooks().Emit(ctx, EventOrchestratorDone, map[string]any{
				"session_id": s.id,
				"result":     f.Text,
			})
			return f.Text, nil
		default:
			s.logger.Debug(ctx, "unknown bundle frame type", "session_id", s.id, "frame_type", f.Type)
		}
	}
}

// Close asks the process to exit and kills it after a grace period.
func (s *subprocessSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.coordinator.Hooks().Emit(ctx, EventSessionEnd, map[string]any{"session_id": s.id})

	s.writeFrame(frame{Type: "close"})
	s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(closeGrace):
		s.cmd.Process.Kill()
		return <-done
	case <-ctx.Done():
		s.cmd.Process.Kill()
		return ctx.Err()
	}
}

func (s *subprocessSession) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.stdin.Write(data)
	return err
}

var _ Runtime = (*SubprocessRuntime)(nil)
var _ Session = (*subprocessSession)(nil)
