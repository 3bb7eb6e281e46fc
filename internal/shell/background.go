// Package shell runs workspace commands for the bash tool: bounded
// synchronous execution, and a manager for detached background
// processes with per-(workdir, command) deduplication and optional TTLs.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxOutput = 64000

// ProcessStatus describes a managed background process.
type ProcessStatus string

const (
	StatusRunning ProcessStatus = "running"
	StatusStopped ProcessStatus = "stopped"
)

// ProcessInfo is the externally visible descriptor of a background
// process.
type ProcessInfo struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Workdir   string        `json:"workdir"`
	Status    ProcessStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
}

type process struct {
	id       string
	key      string
	command  string
	workdir  string
	cmd      *exec.Cmd
	stdout   *limitedBuffer
	stderr   *limitedBuffer
	started  time.Time
	done     chan struct{}
	ttlTimer *time.Timer
	exitCode int
	err      error
}

func (p *process) status() ProcessStatus {
	select {
	case <-p.done:
		return StatusStopped
	default:
		return StatusRunning
	}
}

func (p *process) info() ProcessInfo {
	info := ProcessInfo{
		ID:        p.id,
		Command:   p.command,
		Workdir:   p.workdir,
		Status:    p.status(),
		StartedAt: p.started,
	}
	if info.Status == StatusStopped {
		info.ExitCode = p.exitCode
		if p.err != nil {
			info.Error = p.err.Error()
		}
	}
	return info
}

// Gauge tracks the live process count. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// Manager tracks background processes for a workspace. Processes run in
// their own process group, detached from the run that started them, so
// aborting a run never kills its background work.
type Manager struct {
	mu        sync.Mutex
	processes map[string]*process // by id
	byKey     map[string]*process // live process per dedup key
	root      string
	maxOutput int
	gauge     Gauge
	logger    *slog.Logger
}

// NewManager creates a process manager rooted at the workspace.
func NewManager(workspaceRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		processes: map[string]*process{},
		byKey:     map[string]*process{},
		root:      workspaceRoot,
		maxOutput: defaultMaxOutput,
		logger:    logger.With("component", "shell"),
	}
}

// SetGauge attaches a live-process gauge. Call before the first Start.
func (m *Manager) SetGauge(g Gauge) {
	m.mu.Lock()
	m.gauge = g
	m.mu.Unlock()
}

// resolveDir turns a possibly relative cwd into an absolute path under
// the workspace root.
func (m *Manager) resolveDir(cwd string) (string, error) {
	dir := cwd
	if dir == "" {
		dir = m.root
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.root, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return abs, nil
}

// dedupKey identifies a background process slot. Two requests with the
// same resolved workdir and identical command text share a slot.
func dedupKey(workdir, command string) string {
	return workdir + "\x00" + strings.TrimSpace(command)
}

// Start launches command in the background, or returns the live process
// already occupying the same (workdir, command) slot. reused reports
// which happened. ttl, when positive, bounds the process lifetime: on
// expiry the whole process group is terminated and the slot is freed.
func (m *Manager) Start(command, cwd string, ttl time.Duration) (info ProcessInfo, reused bool, err error) {
	if strings.TrimSpace(command) == "" {
		return ProcessInfo{}, false, fmt.Errorf("command is required")
	}
	workdir, err := m.resolveDir(cwd)
	if err != nil {
		return ProcessInfo{}, false, err
	}
	key := dedupKey(workdir, command)

	m.mu.Lock()
	defer m.mu.Unlock()

	if live, ok := m.byKey[key]; ok && live.status() == StatusRunning {
		return live.info(), true, nil
	}

	// Deliberately not CommandContext: the process must outlive the run
	// that started it.
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = workdir
	stdout := newLimitedBuffer(m.maxOutput)
	stderr := newLimitedBuffer(m.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	proc := &process{
		id:      uuid.NewString(),
		key:     key,
		command: command,
		workdir: workdir,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return ProcessInfo{}, false, fmt.Errorf("start command: %w", err)
	}

	if ttl > 0 {
		pid := cmd.Process.Pid
		proc.ttlTimer = time.AfterFunc(ttl, func() {
			m.logger.Info("background process ttl expired", "id", proc.id, "pid", pid)
			_ = terminateGroup(pid)
		})
	}

	go func() {
		waitErr := cmd.Wait()
		m.mu.Lock()
		proc.exitCode = exitCode(waitErr)
		proc.err = waitErr
		if proc.ttlTimer != nil {
			proc.ttlTimer.Stop()
		}
		if m.byKey[key] == proc {
			delete(m.byKey, key)
		}
		if m.gauge != nil {
			m.gauge.Dec()
		}
		m.mu.Unlock()
		close(proc.done)
	}()

	m.processes[proc.id] = proc
	m.byKey[key] = proc
	if m.gauge != nil {
		m.gauge.Inc()
	}
	return proc.info(), false, nil
}

// Get returns the descriptor for a managed process.
func (m *Manager) Get(id string) (ProcessInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, ok := m.processes[id]
	if !ok {
		return ProcessInfo{}, false
	}
	return proc.info(), true
}

// Output returns the captured stdout and stderr of a managed process.
func (m *Manager) Output(id string) (stdout, stderr string, ok bool) {
	m.mu.Lock()
	proc, ok := m.processes[id]
	m.mu.Unlock()
	if !ok {
		return "", "", false
	}
	return proc.stdout.String(), proc.stderr.String(), true
}

// Kill terminates a managed process group.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	proc, ok := m.processes[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such process: %s", id)
	}
	if proc.status() == StatusStopped {
		return nil
	}
	return terminateGroup(proc.cmd.Process.Pid)
}

// List returns all managed processes, newest first.
func (m *Manager) List() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessInfo, 0, len(m.processes))
	for _, proc := range m.processes {
		out = append(out, proc.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ExecResult summarizes a synchronous command run.
type ExecResult struct {
	Command  string `json:"command"`
	Workdir  string `json:"workdir"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Run executes command synchronously, bounded by timeout when positive.
func (m *Manager) Run(ctx context.Context, command, cwd string, timeout time.Duration) (ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	workdir, err := m.resolveDir(cwd)
	if err != nil {
		return ExecResult{}, err
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = workdir
	stdout := newLimitedBuffer(m.maxOutput)
	stderr := newLimitedBuffer(m.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	result := ExecResult{
		Command:  command,
		Workdir:  workdir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(runErr),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
	}
	return result, nil
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
