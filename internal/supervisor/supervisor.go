// Package supervisor wires pixie16-daqd's long-running services — the
// command loop, the acquisition run loop, and the health endpoint — into
// a github.com/thejerf/suture/v4 supervision tree.
//
// Suture handles restart backoff and graceful shutdown; this package
// adds a thin name/status layer on top so the daemon can report
// per-service state (running, failed, restart count).
//
// Example:
//
//	sup := supervisor.New(supervisor.DefaultConfig())
//	sup.Add("command-loop", commandLoopService)
//	sup.Add("run-loop", runLoopService)
//	sup.Add("health", healthService)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	suture "github.com/thejerf/suture/v4"
)

// Service is the interface supervised services must implement. Serve
// should block until ctx is cancelled or the service hits an
// unrecoverable error; suture restarts it (with backoff) on any other
// return.
type Service interface {
	Serve(ctx context.Context) error
}

// ServiceState represents the current state of a supervised service.
type ServiceState int

const (
	ServiceStateIdle     ServiceState = iota // Not started
	ServiceStateRunning                      // Running normally
	ServiceStateStopping                     // Being stopped
	ServiceStateFailed                       // Failed, may restart
	ServiceStateStopped                      // Stopped, terminal
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateIdle:
		return "idle"
	case ServiceStateRunning:
		return "running"
	case ServiceStateStopping:
		return "stopping"
	case ServiceStateFailed:
		return "failed"
	case ServiceStateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServiceStatus contains status information about a supervised service.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	StartTime time.Time
	Uptime    time.Duration
	Restarts  int
	LastError error
}

// Config contains supervisor configuration.
type Config struct {
	// ShutdownTimeout is the maximum time to wait for services to stop
	// gracefully before RemoveAndWait/Serve give up. Default: 10s.
	ShutdownTimeout time.Duration

	// Logger is optional; if set, suture events are logged here.
	Logger io.Writer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 10 * time.Second,
	}
}

// Supervisor manages a collection of services atop a suture.Supervisor,
// restarting them on failure and reporting per-service status.
type Supervisor struct {
	cfg Config
	sup *suture.Supervisor

	mu      sync.RWMutex
	entries map[string]*serviceEntry
	tokens  map[string]suture.ServiceToken
	running bool

	logMu sync.Mutex
}

// serviceEntry wraps a registered Service so it can track its own
// start time, call count (restarts = calls-1), and last error; suture
// re-invokes Serve on every restart, so the counting happens naturally
// at the call site rather than by parsing suture's event payloads.
type serviceEntry struct {
	name string
	svc  Service
	sup  *Supervisor

	mu        sync.Mutex
	state     ServiceState
	startTime time.Time
	calls     int
	lastError error
}

func (e *serviceEntry) Serve(ctx context.Context) error {
	e.mu.Lock()
	e.calls++
	restart := e.calls > 1
	e.state = ServiceStateRunning
	e.startTime = time.Now()
	e.mu.Unlock()

	if restart {
		e.sup.logf("service %s restarting (attempt %d)", e.name, e.calls)
	}

	err := e.svc.Serve(ctx)

	e.mu.Lock()
	if ctx.Err() != nil {
		e.state = ServiceStateStopped
	} else {
		e.state = ServiceStateFailed
		e.lastError = err
	}
	e.mu.Unlock()

	return err
}

func (e *serviceEntry) String() string { return e.name }

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Supervisor{
		cfg:     cfg,
		entries: make(map[string]*serviceEntry),
		tokens:  make(map[string]suture.ServiceToken),
	}

	s.sup = suture.New("pixie16-daqd", suture.Spec{
		EventHook: s.onEvent,
		Timeout:   cfg.ShutdownTimeout,
	})

	return s
}

func (s *Supervisor) onEvent(ev suture.Event) {
	s.logf("%s", ev.String())
}

// logf writes a formatted log message if Logger is configured (thread-safe).
func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.logMu.Lock()
		_, _ = fmt.Fprintf(s.cfg.Logger, "[supervisor] "+format+"\n", args...)
		s.logMu.Unlock()
	}
}

// Add registers a service with the supervisor under the given name.
// If the supervisor is already running (Run has been called), the
// service is started immediately. Returns an error if a service with
// the same name already exists.
func (s *Supervisor) Add(name string, svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	entry := &serviceEntry{name: name, svc: svc, sup: s, state: ServiceStateIdle}
	s.entries[name] = entry
	token := s.sup.Add(entry)
	s.tokens[name] = token

	s.logf("added service: %s", name)
	return nil
}

// Remove unregisters and stops a service, waiting (up to
// ShutdownTimeout) for it to terminate.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	token, exists := s.tokens[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	delete(s.entries, name)
	delete(s.tokens, name)
	s.mu.Unlock()

	s.logf("removing service: %s", name)
	return s.sup.RemoveAndWait(token, s.cfg.ShutdownTimeout)
}

// Status returns the current status of all services.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceStatus, 0, len(s.entries))
	now := time.Now()

	for name, entry := range s.entries {
		entry.mu.Lock()
		var uptime time.Duration
		if !entry.startTime.IsZero() && entry.state == ServiceStateRunning {
			uptime = now.Sub(entry.startTime)
		}
		status := ServiceStatus{
			Name:      name,
			State:     entry.state,
			StartTime: entry.startTime,
			Uptime:    uptime,
			Restarts:  entry.calls - 1,
			LastError: entry.lastError,
		}
		entry.mu.Unlock()

		result = append(result, status)
	}

	return result
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run starts all registered services and blocks until ctx is
// cancelled, at which point suture stops every service gracefully
// (up to ShutdownTimeout) before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.running = true
	count := len(s.entries)
	s.mu.Unlock()

	s.logf("supervisor started with %d services", count)

	err := s.sup.Serve(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logf("supervisor stopped")
	return err
}
