// Package supervise owns the proxy child process: spawning it, adopting an
// already-running instance, and tearing it down.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultProbeTimeout  = 500 * time.Millisecond
	defaultPollInterval  = 500 * time.Millisecond
	defaultStartTimeout  = 3 * time.Second
	defaultStopGrace     = 5 * time.Second
	outputTailLines      = 50
	addressInUseFragment = "address already in use"
)

// ErrStartInProgress is returned when Start is called while another Start
// is still waiting for the proxy to come up.
var ErrStartInProgress = errors.New("supervise: start already in progress")

// ErrStartCancelled is returned when CancelStartup aborts an in-flight Start
// before or after the child was spawned.
var ErrStartCancelled = errors.New("supervise: start cancelled")

// PreconditionError indicates Start was called with a missing binary or
// config file. Nothing was spawned.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "supervise: " + e.Reason
}

// PortConflictError indicates the port is held by a process that is not our
// proxy and could not be cleared.
type PortConflictError struct {
	Port int
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("supervise: port %d is in use by another process", e.Port)
}

// StartFailureError indicates the spawned proxy never became ready. Output
// carries the last lines the process printed.
type StartFailureError struct {
	ExitCode *int
	Output   []string
}

func (e *StartFailureError) Error() string {
	msg := "supervise: proxy failed to start"
	if e.ExitCode != nil {
		msg += fmt.Sprintf(" (exit code %d)", *e.ExitCode)
	}
	if len(e.Output) > 0 {
		msg += ": " + strings.Join(e.Output, " | ")
	}
	return msg
}

// proc tracks one spawned child and its exit.
type proc struct {
	cmd      *exec.Cmd
	stdout   *tailBuffer
	stderr   *tailBuffer
	done     chan struct{}
	exitCode int
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// tail returns the last output lines, stderr first.
func (p *proc) tail() []string {
	out := p.stderr.Lines()
	out = append(out, p.stdout.Lines()...)
	if len(out) > outputTailLines {
		out = out[:outputTailLines]
	}
	return out
}

func (p *proc) mentionsAddressInUse() bool {
	return p.stdout.Contains(addressInUseFragment) || p.stderr.Contains(addressInUseFragment)
}

// Config wires a Supervisor.
type Config struct {
	// Responding probes whether the process answering on the port is our
	// proxy (management endpoint with the expected secret).
	Responding func(ctx context.Context) bool
	// OnExit is called when a supervised process exits on its own.
	OnExit func(exitCode int)

	ProbeTimeout        time.Duration // port probe dial timeout
	StartupPollInterval time.Duration
	StartupTimeout      time.Duration
	StopGrace           time.Duration // SIGTERM grace before SIGKILL
}

// Supervisor manages at most one proxy child process. All methods are safe
// for concurrent use; Start is single-flight.
type Supervisor struct {
	responding func(ctx context.Context) bool
	onExit     func(exitCode int)

	probeTimeout time.Duration
	pollInterval time.Duration
	startTimeout time.Duration
	stopGrace    time.Duration

	mu        sync.Mutex
	proc      *proc
	running   bool
	adopted   bool // running proxy was found, not spawned by us
	starting  bool
	cancelled bool // CancelStartup landed during the current Start
}

// New creates a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	if cfg.Responding == nil {
		panic("supervise: New requires non-nil Responding probe")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.StartupPollInterval <= 0 {
		cfg.StartupPollInterval = defaultPollInterval
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Supervisor{
		responding:   cfg.Responding,
		onExit:       cfg.OnExit,
		probeTimeout: cfg.ProbeTimeout,
		pollInterval: cfg.StartupPollInterval,
		startTimeout: cfg.StartupTimeout,
		stopGrace:    cfg.StopGrace,
	}
}

// Running reports whether a proxy is up (spawned or adopted).
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Adopted reports whether the running proxy was found rather than spawned.
func (s *Supervisor) Adopted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.adopted
}

// Start brings the proxy up on the port. Idempotent while running. If the
// port is already served by our proxy, that instance is adopted. A foreign
// process on the port is killed once; if the port is still held, Start
// fails with PortConflictError.
func (s *Supervisor) Start(ctx context.Context, binaryPath, configPath string, port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.starting {
		s.mu.Unlock()
		return ErrStartInProgress
	}
	s.starting = true
	s.cancelled = false
	s.mu.Unlock()

	err := s.start(ctx, binaryPath, configPath, port)

	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	return err
}

func (s *Supervisor) start(ctx context.Context, binaryPath, configPath string, port int) error {
	if err := checkStartPreconditions(binaryPath, configPath); err != nil {
		return err
	}

	if PortListening(port, s.probeTimeout) {
		if s.responding(ctx) {
			log.Printf("[supervise] adopting proxy already running on port %d", port)
			s.markRunning(nil, true)
			return nil
		}
		log.Printf("[supervise] port %d held by a foreign process, clearing it", port)
		KillProcessOnPort(ctx, port)
		time.Sleep(s.pollInterval)
		if PortListening(port, s.probeTimeout) {
			return &PortConflictError{Port: port}
		}
	}

	// A cancel can land while the port was being probed or cleared, before
	// any child exists. Honor it here so nothing gets spawned, and again
	// right after the spawn in case it raced the child registration.
	if s.cancelRequested() {
		return ErrStartCancelled
	}

	p, err := s.spawn(binaryPath, configPath)
	if err != nil {
		return err
	}
	if s.cancelRequested() {
		s.reap(p)
		return ErrStartCancelled
	}

	if s.awaitReady(ctx, p, port) {
		if s.cancelRequested() {
			s.reap(p)
			return ErrStartCancelled
		}
		s.markRunning(p, false)
		return nil
	}

	// The spawn did not become ready. A startup race can still mean a
	// healthy proxy holds the port (ours or a concurrently started one).
	if p.mentionsAddressInUse() || PortListening(port, s.probeTimeout) {
		if PortListening(port, s.probeTimeout) && s.responding(ctx) {
			log.Printf("[supervise] re-adopting proxy on port %d after startup race", port)
			s.reap(p)
			s.markRunning(nil, true)
			return nil
		}
		if p.mentionsAddressInUse() {
			s.reap(p)
			return &PortConflictError{Port: port}
		}
	}

	failure := &StartFailureError{Output: p.tail()}
	if p.exited() {
		code := p.exitCode
		failure.ExitCode = &code
	}
	s.reap(p)
	return failure
}

func checkStartPreconditions(binaryPath, configPath string) error {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("binary not found at %s", binaryPath)}
	}
	if info.Mode().Perm()&0o100 == 0 {
		return &PreconditionError{Reason: fmt.Sprintf("binary is not executable: %s", binaryPath)}
	}
	if _, err := os.Stat(configPath); err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("config file not found at %s", configPath)}
	}
	return nil
}

// spawn starts the child with output drained into bounded tail buffers.
func (s *Supervisor) spawn(binaryPath, configPath string) (*proc, error) {
	cmd := exec.Command(binaryPath, "--config", configPath)
	cmd.Dir = filepath.Dir(binaryPath)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervise: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("supervise: stderr pipe: %w", err)
	}

	p := &proc{
		cmd:    cmd,
		stdout: newTailBuffer(outputTailLines),
		stderr: newTailBuffer(outputTailLines),
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervise: start process: %w", err)
	}
	log.Printf("[supervise] proxy started, pid %d", cmd.Process.Pid)

	// Register the child before the waiter runs so CancelStartup can kill it.
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()

	go p.stdout.drain(stdoutPipe)
	go p.stderr.drain(stderrPipe)
	go func() {
		err := cmd.Wait()
		p.exitCode = exitCodeOf(err)
		close(p.done)
		s.handleExit(p)
	}()
	return p, nil
}

// awaitReady polls until the child is both alive and listening, or until
// the startup window closes, the child exits, or ctx is cancelled.
func (s *Supervisor) awaitReady(ctx context.Context, p *proc, port int) bool {
	deadline := time.Now().Add(s.startTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-p.done:
			return false
		case <-ticker.C:
		}
		if !p.exited() && PortListening(port, s.probeTimeout) {
			return true
		}
	}
	return false
}

// handleExit fires when a child exits. If the child was the running proxy,
// this is a crash: clear state and notify.
func (s *Supervisor) handleExit(p *proc) {
	s.mu.Lock()
	wasRunning := s.running && s.proc == p
	if wasRunning {
		s.running = false
		s.proc = nil
	}
	s.mu.Unlock()

	if wasRunning {
		log.Printf("[supervise] proxy exited unexpectedly with code %d", p.exitCode)
		if s.onExit != nil {
			s.onExit(p.exitCode)
		}
	}
}

func (s *Supervisor) markRunning(p *proc, adopted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.adopted = adopted
	if p != nil {
		s.proc = p
	} else if adopted {
		s.proc = nil
	}
}

// reap detaches a failed spawn and makes sure it is dead.
func (s *Supervisor) reap(p *proc) {
	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()

	if !p.exited() {
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

// Stop terminates the supervised process: SIGTERM, a grace period, then
// SIGKILL. State is cleared regardless of outcome. Adopted instances are
// stopped the same way via their port owner being our child only if we
// spawned it; an adopted proxy is simply released.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.running = false
	s.adopted = false
	s.mu.Unlock()

	if p == nil || p.exited() {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(s.stopGrace):
	}
	log.Printf("[supervise] proxy did not exit within %s, killing", s.stopGrace)
	_ = p.cmd.Process.Kill()
	<-p.done
}

func (s *Supervisor) cancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CancelStartup aborts an in-flight Start: any spawned child is killed, a
// not-yet-spawned child stays unspawned, and the in-progress flags are
// reset. Safe to call at any time, from any goroutine, repeatedly.
func (s *Supervisor) CancelStartup() {
	s.mu.Lock()
	p := s.proc
	starting := s.starting
	if starting {
		s.cancelled = true
		s.proc = nil
		s.running = false
	}
	s.mu.Unlock()

	if !starting || p == nil || p.exited() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
