// Package supervisor keeps the relay server and exactly one backend watcher
// running, restarting them per child-specific policy and replacing the
// watcher when the shared mode record changes.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/mode"
)

// Exit codes shared between the supervisor and its children.
const (
	// ExitConfigFault signals a startup or configuration fault; restarts
	// back off exponentially since retrying cannot help until the
	// environment changes.
	ExitConfigFault = 2
	// ExitModeSwitch signals a deliberate watcher self-termination after a
	// mode switch; the replacement starts immediately.
	ExitModeSwitch = 3
)

const (
	serverChild  = "relay-server"
	watcherChild = "relay-watcher"

	maxServerRestarts = 3
	maxFaultBackoff   = 60 * time.Second
)

// Process is a running supervised child.
type Process interface {
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
	// Stop asks the process to terminate. Exit is still observed via Wait.
	Stop()
}

// SpawnFunc starts one child process. Tests substitute fakes.
type SpawnFunc func(name string, args ...string) (Process, error)

// Supervisor runs the relay server and the active watcher.
type Supervisor struct {
	spawn       SpawnFunc
	record      *mode.Record
	defaultMode mode.Mode

	// Overridable for tests.
	restartDelay time.Duration
	recordPoll   time.Duration
}

// New creates a supervisor using the given spawn function and mode record.
func New(spawn SpawnFunc, record *mode.Record, defaultMode mode.Mode) *Supervisor {
	return &Supervisor{
		spawn:        spawn,
		record:       record,
		defaultMode:  defaultMode,
		restartDelay: 2 * time.Second,
		recordPoll:   3 * time.Second,
	}
}

// Run supervises both children until ctx is cancelled or the relay server
// exhausts its restart budget.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- s.superviseServer(ctx) }()

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		s.superviseWatcher(ctx)
	}()

	select {
	case <-ctx.Done():
		<-watcherDone
		return nil
	case err := <-serverErr:
		// Relay server is beyond saving; take the watcher down too.
		cancel()
		<-watcherDone
		return err
	}
}

// superviseServer restarts the relay server up to its budget, then gives up.
func (s *Supervisor) superviseServer(ctx context.Context) error {
	restarts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		proc, err := s.spawn(serverChild)
		if err != nil {
			return fmt.Errorf("start %s: %w", serverChild, err)
		}
		logging.Info("relay server started")

		code := s.waitOrStop(ctx, proc)
		if ctx.Err() != nil {
			return nil
		}

		restarts++
		metrics.RecordChildRestart(serverChild)
		if restarts > maxServerRestarts {
			return fmt.Errorf("%s exited %d times (last code %d), giving up",
				serverChild, restarts, code)
		}
		logging.Warn("relay server exited, restarting",
			zap.Int("code", code),
			zap.Int("restart", restarts))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}
	}
}

// superviseWatcher keeps exactly one watcher alive. The running watcher is
// replaced when the mode record names a different mode; the replacement is
// started only after the previous watcher's exit has been observed.
func (s *Supervisor) superviseWatcher(ctx context.Context) {
	current, err := s.record.Read(s.defaultMode)
	if err != nil {
		logging.Warn("mode record unreadable, using default",
			zap.String("default", string(s.defaultMode)),
			zap.Error(err))
		current = s.defaultMode
	}

	faultDelay := s.restartDelay
	first := true
	for ctx.Err() == nil {
		proc, err := s.spawn(watcherChild, "--mode", string(current))
		if err != nil {
			logging.Error("watcher spawn failed",
				zap.String("mode", string(current)),
				zap.Error(err))
			if !sleepCtx(ctx, s.restartDelay) {
				return
			}
			continue
		}
		if !first {
			metrics.RecordChildRestart(watcherChild)
		}
		first = false
		logging.Info("watcher started", zap.String("mode", string(current)))

		code, switched := s.watchChild(ctx, proc, current)
		if ctx.Err() != nil {
			return
		}

		next, err := s.record.Read(current)
		if err != nil {
			logging.Warn("mode record unreadable, keeping mode", zap.Error(err))
			next = current
		}

		switch {
		case switched || code == ExitModeSwitch:
			// Deliberate replacement, no delay.
			logging.Info("replacing watcher",
				zap.String("from", string(current)),
				zap.String("to", string(next)))
			faultDelay = s.restartDelay
		case code == ExitConfigFault:
			logging.Error("watcher configuration fault, backing off",
				zap.String("mode", string(current)),
				zap.Duration("delay", faultDelay))
			if !sleepCtx(ctx, faultDelay) {
				return
			}
			faultDelay *= 2
			if faultDelay > maxFaultBackoff {
				faultDelay = maxFaultBackoff
			}
		default:
			logging.Warn("watcher exited, restarting",
				zap.Int("code", code),
				zap.String("mode", string(current)))
			faultDelay = s.restartDelay
			if !sleepCtx(ctx, s.restartDelay) {
				return
			}
		}
		current = next
	}
}

// watchChild waits for the child to exit, polling the mode record meanwhile.
// When the record changes it stops the child and waits for its exit to be
// observed before returning, so two watchers never overlap.
func (s *Supervisor) watchChild(ctx context.Context, proc Process, current mode.Mode) (code int, switched bool) {
	exitCh := make(chan int, 1)
	go func() { exitCh <- proc.Wait() }()

	ticker := time.NewTicker(s.recordPoll)
	defer ticker.Stop()

	for {
		select {
		case code := <-exitCh:
			return code, false

		case <-ticker.C:
			next, err := s.record.Read(current)
			if err != nil || next == current {
				continue
			}
			logging.Info("mode record changed, stopping watcher",
				zap.String("from", string(current)),
				zap.String("to", string(next)))
			proc.Stop()
			return <-exitCh, true

		case <-ctx.Done():
			proc.Stop()
			<-exitCh
			return 0, false
		}
	}
}

// waitOrStop waits for the child, stopping it first if ctx ends.
func (s *Supervisor) waitOrStop(ctx context.Context, proc Process) int {
	exitCh := make(chan int, 1)
	go func() { exitCh <- proc.Wait() }()
	select {
	case code := <-exitCh:
		return code
	case <-ctx.Done():
		proc.Stop()
		return <-exitCh
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
