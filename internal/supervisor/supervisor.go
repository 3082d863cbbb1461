package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"toolctl/internal/config"
	"toolctl/internal/registry"
	"toolctl/internal/serverconn"
	"toolctl/pkg/logging"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

// Options tunes launch behavior.
type Options struct {
	// ProbeAttempts is how many readiness probes a freshly spawned server
	// gets before the launch is declared failed.
	ProbeAttempts int

	// ProbeDelay is the wait before the first probe; it doubles after
	// every failed attempt up to ProbeMaxDelay.
	ProbeDelay time.Duration

	// ProbeMaxDelay caps the backoff between probes.
	ProbeMaxDelay time.Duration

	// BindHost is the address children bind to.
	BindHost string
}

func (o *Options) applyDefaults() {
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = 20
	}
	if o.ProbeDelay <= 0 {
		o.ProbeDelay = 100 * time.Millisecond
	}
	if o.ProbeMaxDelay <= 0 {
		o.ProbeMaxDelay = 2 * time.Second
	}
	if o.BindHost == "" {
		o.BindHost = "127.0.0.1"
	}
}

// Supervisor launches tool server processes, watches them until exit, and
// prunes the registry when they die.
type Supervisor struct {
	registry *registry.Registry
	dial     registry.Dialer
	opts     Options

	mu       sync.Mutex
	reserved map[int]struct{}
}

// New creates a supervisor that registers launched servers with reg and
// connects to them through dial.
func New(reg *registry.Registry, dial registry.Dialer, opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{
		registry: reg,
		dial:     dial,
		opts:     opts,
		reserved: make(map[int]struct{}),
	}
}

// Launch starts the tool server described by def: allocates a free port,
// appends it to the child's argument vector, starts the child in its own
// process group with output captured, waits for it to answer a readiness
// probe, and registers it as owned. A server that never becomes ready is
// killed and never enters the registry.
func (s *Supervisor) Launch(ctx context.Context, def config.ToolServerDefinition) (*registry.ServerRecord, error) {
	if err := config.ValidateDefinition(def); err != nil {
		return nil, err
	}

	port, err := s.allocatePort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate port for %s: %w", def.Name, err)
	}

	args := append(append([]string{}, def.Command[1:]...), strconv.Itoa(port))
	cmd := execCommand(def.Command[0], args...)
	// Own process group: the child must not receive the orchestrator's
	// terminal signals, and a group kill takes its descendants with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdoutPipe, pipeErr := cmd.StdoutPipe()
	if pipeErr != nil {
		s.releasePort(port)
		return nil, fmt.Errorf("stdout pipe for %s: %w", def.Name, pipeErr)
	}
	stderrPipe, pipeErr := cmd.StderrPipe()
	if pipeErr != nil {
		stdoutPipe.Close()
		s.releasePort(port)
		return nil, fmt.Errorf("stderr pipe for %s: %w", def.Name, pipeErr)
	}

	if err := cmd.Start(); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		s.releasePort(port)
		return nil, fmt.Errorf("failed to start %s (%s): %w", def.Name, def.Command[0], err)
	}

	pid := cmd.Process.Pid
	logging.Info("Supervisor", "Started %s (PID %d) on port %d", def.Name, pid, port)

	go captureOutput(def.Name, "stdout", stdoutPipe)
	go captureOutput(def.Name, "stderr", stderrPipe)

	processDone := make(chan error, 1)
	go func() { processDone <- cmd.Wait() }()

	address := fmt.Sprintf("http://%s:%d", s.opts.BindHost, port)
	client := s.dial(def.Name, address)

	if err := s.waitReady(ctx, def.Name, client, processDone); err != nil {
		s.killGroup(def.Name, pid)
		<-processDone
		s.releasePort(port)
		return nil, err
	}

	record, err := s.registry.RegisterOwned(def.Name, address, client, cmd.Process)
	if err != nil {
		s.killGroup(def.Name, pid)
		<-processDone
		s.releasePort(port)
		return nil, err
	}

	if err := s.registry.Save(); err != nil {
		// State file trouble never fails a launch.
		logging.Error("Supervisor", err, "Failed to persist registry after launching %s", def.Name)
	}

	go s.watch(def.Name, port, processDone)

	return record, nil
}

// waitReady probes the server's listing endpoint with backoff until it
// answers, the attempt budget runs out, or the process dies first.
func (s *Supervisor) waitReady(ctx context.Context, name string, client serverconn.Client, processDone <-chan error) error {
	delay := s.opts.ProbeDelay
	var lastErr error

	for attempt := 1; attempt <= s.opts.ProbeAttempts; attempt++ {
		select {
		case err := <-processDone:
			return fmt.Errorf("server %s exited before becoming ready: %v", name, err)
		case <-ctx.Done():
			return fmt.Errorf("launch of %s canceled: %w", name, ctx.Err())
		case <-time.After(delay):
		}

		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Probe(probeCtx)
		cancel()
		if lastErr == nil {
			logging.Debug("Supervisor", "Server %s ready after %d probe(s)", name, attempt)
			return nil
		}

		delay *= 2
		if delay > s.opts.ProbeMaxDelay {
			delay = s.opts.ProbeMaxDelay
		}
	}

	return fmt.Errorf("server %s not ready after %d probes: %w", name, s.opts.ProbeAttempts, lastErr)
}

// watch waits for the child to exit and prunes its record. Exit is logged,
// never surfaced to in-flight calls against other servers.
func (s *Supervisor) watch(name string, port int, processDone <-chan error) {
	err := <-processDone
	if err != nil {
		logging.Warn("Supervisor", "Server %s exited: %v", name, err)
	} else {
		logging.Info("Supervisor", "Server %s exited", name)
	}

	s.registry.Remove(name)
	s.releasePort(port)
}

// TerminateAll signals every owned process to stop. Best-effort: a process
// that refuses to die is logged and does not block the rest of the sweep.
// Persistence is cleared afterwards. Safe to call repeatedly.
func (s *Supervisor) TerminateAll() {
	var pids []int
	for _, record := range s.registry.All() {
		if !record.Owned() {
			continue
		}
		pid := record.Proc.Pid
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			logging.Warn("Supervisor", "Failed to signal %s (PID %d): %v", record.Name, pid, err)
		} else {
			logging.Info("Supervisor", "Sent SIGTERM to %s (PID %d)", record.Name, pid)
		}
		pids = append(pids, pid)
		s.registry.Remove(record.Name)
	}

	if len(pids) > 0 {
		// Short grace before the hard kill; exit watchers have already
		// been detached from the registry by the removals above.
		time.Sleep(500 * time.Millisecond)
		for _, pid := range pids {
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
				logging.Warn("Supervisor", "Failed to kill process group %d: %v", pid, err)
			}
		}
	}

	if err := s.registry.ResetState(); err != nil {
		logging.Error("Supervisor", err, "Failed to clear persisted state")
	}
}

func (s *Supervisor) killGroup(name string, pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		logging.Warn("Supervisor", "Failed to kill %s (PID %d): %v", name, pid, err)
	}
}

// allocatePort picks a free listening port. Ports stay reserved until the
// server that claimed them exits, so concurrent launches within this
// supervisor cannot collide.
func (s *Supervisor) allocatePort() (int, error) {
	for attempt := 0; attempt < 10; attempt++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(s.opts.BindHost, "0"))
		if err != nil {
			return 0, err
		}
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		s.mu.Lock()
		if _, taken := s.reserved[port]; !taken {
			s.reserved[port] = struct{}{}
			s.mu.Unlock()
			return port, nil
		}
		s.mu.Unlock()
	}
	return 0, fmt.Errorf("no free port found")
}

func (s *Supervisor) releasePort(port int) {
	s.mu.Lock()
	delete(s.reserved, port)
	s.mu.Unlock()
}

func captureOutput(name, stream string, pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		logging.Debug("Supervisor", "[%s %s] %s", name, stream, scanner.Text())
	}
}
