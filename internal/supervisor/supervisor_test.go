package supervisor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shotrelay/shotrelay/internal/mode"
)

// fakeProc is a controllable child. Exit(code) makes Wait return; Stop makes
// it exit 0 as a signalled child would.
type fakeProc struct {
	name string
	args []string

	exitCh  chan int
	exited  sync.Once
	spawner *fakeSpawner
}

func (p *fakeProc) Exit(code int) {
	p.exited.Do(func() { p.exitCh <- code })
}

func (p *fakeProc) Wait() int {
	code := <-p.exitCh
	p.spawner.procGone(p)
	return code
}

func (p *fakeProc) Stop() { p.Exit(0) }

// fakeSpawner records spawn calls and tracks how many watchers are alive at
// once.
type fakeSpawner struct {
	mu           sync.Mutex
	procs        []*fakeProc
	aliveWatcher int
	peakWatcher  int
}

func (s *fakeSpawner) spawn(name string, args ...string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakeProc{
		name:    name,
		args:    args,
		exitCh:  make(chan int, 1),
		spawner: s,
	}
	s.procs = append(s.procs, p)
	if name == watcherChild {
		s.aliveWatcher++
		if s.aliveWatcher > s.peakWatcher {
			s.peakWatcher = s.aliveWatcher
		}
	}
	return p, nil
}

func (s *fakeSpawner) procGone(p *fakeProc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.name == watcherChild {
		s.aliveWatcher--
	}
}

// watchers returns the spawned watcher procs in order.
func (s *fakeSpawner) watchers() []*fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeProc
	for _, p := range s.procs {
		if p.name == watcherChild {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSpawner) servers() []*fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeProc
	for _, p := range s.procs {
		if p.name == serverChild {
			out = append(out, p)
		}
	}
	return out
}

func newTestSupervisor(t *testing.T, spawner *fakeSpawner) (*Supervisor, *mode.Record) {
	t.Helper()
	record := mode.NewRecord(filepath.Join(t.TempDir(), "mode"))
	s := New(spawner.spawn, record, mode.Local)
	s.restartDelay = 10 * time.Millisecond
	s.recordPoll = 15 * time.Millisecond
	return s, record
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func watcherMode(p *fakeProc) string {
	for i, a := range p.args {
		if a == "--mode" && i+1 < len(p.args) {
			return p.args[i+1]
		}
	}
	return ""
}

func TestModeRecordChangeReplacesWatcherWithoutOverlap(t *testing.T) {
	spawner := &fakeSpawner{}
	s, record := newTestSupervisor(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); s.Run(ctx) }()

	waitFor(t, "first watcher", func() bool { return len(spawner.watchers()) == 1 })
	if got := watcherMode(spawner.watchers()[0]); got != "local" {
		t.Errorf("first watcher mode = %q, want local", got)
	}

	if err := record.Write(mode.S3); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "replacement watcher", func() bool { return len(spawner.watchers()) == 2 })
	if got := watcherMode(spawner.watchers()[1]); got != "s3" {
		t.Errorf("replacement mode = %q, want s3", got)
	}

	spawner.mu.Lock()
	peak := spawner.peakWatcher
	spawner.mu.Unlock()
	if peak != 1 {
		t.Errorf("watcher overlap observed: peak alive = %d", peak)
	}

	cancel()
	<-done
}

func TestModeSwitchExitCodeReplacesImmediately(t *testing.T) {
	spawner := &fakeSpawner{}
	s, record := newTestSupervisor(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "first watcher", func() bool { return len(spawner.watchers()) == 1 })

	// Self-termination path: the watcher writes the record itself, then
	// exits with the dedicated code.
	if err := record.Write(mode.SMB); err != nil {
		t.Fatal(err)
	}
	spawner.watchers()[0].Exit(ExitModeSwitch)

	waitFor(t, "replacement watcher", func() bool { return len(spawner.watchers()) == 2 })
	if got := watcherMode(spawner.watchers()[1]); got != "smb" {
		t.Errorf("replacement mode = %q, want smb", got)
	}
}

func TestWatcherCrashRestartsInSameMode(t *testing.T) {
	spawner := &fakeSpawner{}
	s, _ := newTestSupervisor(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "first watcher", func() bool { return len(spawner.watchers()) == 1 })
	spawner.watchers()[0].Exit(1)

	waitFor(t, "restarted watcher", func() bool { return len(spawner.watchers()) == 2 })
	if got := watcherMode(spawner.watchers()[1]); got != "local" {
		t.Errorf("restart mode = %q, want local", got)
	}
}

func TestServerRestartBudgetExhaustedStopsEverything(t *testing.T) {
	spawner := &fakeSpawner{}
	s, _ := newTestSupervisor(t, spawner)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	// Crash the server every time it comes up.
	waitFor(t, "server give-up", func() bool {
		for _, p := range spawner.servers() {
			select {
			case p.exitCh <- 1:
			default:
			}
		}
		select {
		case err := <-runErr:
			if err == nil {
				t.Fatal("Run returned nil after server restart budget")
			}
			if !strings.Contains(err.Error(), serverChild) {
				t.Errorf("error does not name the server: %v", err)
			}
			return true
		default:
			return false
		}
	})

	if got := len(spawner.servers()); got != maxServerRestarts+1 {
		t.Errorf("server spawned %d times, want %d", got, maxServerRestarts+1)
	}
}

func TestConfigFaultBacksOff(t *testing.T) {
	spawner := &fakeSpawner{}
	s, _ := newTestSupervisor(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "first watcher", func() bool { return len(spawner.watchers()) == 1 })
	start := time.Now()
	spawner.watchers()[0].Exit(ExitConfigFault)

	waitFor(t, "backed-off restart", func() bool { return len(spawner.watchers()) == 2 })
	if elapsed := time.Since(start); elapsed < s.restartDelay {
		t.Errorf("restart after %v, want at least the fault delay %v", elapsed, s.restartDelay)
	}

	// Second fault waits longer than the first.
	spawner.watchers()[1].Exit(ExitConfigFault)
	second := time.Now()
	waitFor(t, "second backed-off restart", func() bool { return len(spawner.watchers()) == 3 })
	if elapsed := time.Since(second); elapsed < 2*s.restartDelay {
		t.Errorf("second restart after %v, want at least %v", elapsed, 2*s.restartDelay)
	}
}
