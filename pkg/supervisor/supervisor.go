package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/process"
	"github.com/core-tools/hsu-multiserver/pkg/processfile"
	"github.com/core-tools/hsu-multiserver/pkg/worlds"
)

const (
	ProxyID = "proxy"

	defaultPollInterval    = time.Second
	defaultGracefulTimeout = 10 * time.Second
	killConfirmTimeout     = 5 * time.Second
)

type Options struct {
	RunID string

	Proxy             process.LaunchSpec
	ProxyStartupDelay time.Duration

	Launcher        *worlds.Launcher
	RequireManifest bool
	Stdio           process.StdioMode

	PollInterval    time.Duration
	GracefulTimeout time.Duration
	Restart         RestartConfig

	// nil disables PID files and orphan reaping
	ProcessFiles *processfile.ProcessFileManager
	Observer     Observer

	// process.Spawn when nil
	Spawn worlds.SpawnFunc
}

// Supervisor owns the proxy handle and the world registry for one run
type Supervisor struct {
	options  Options
	logger   logging.Logger
	registry *worlds.Registry
	restarts *restartTracker
	observer Observer
	spawn    worlds.SpawnFunc

	state   int32
	started int32

	mutex     sync.RWMutex
	proxy     *process.Handle
	startedAt time.Time

	teardownOnce sync.Once
	teardownErr  error
}

func New(options Options, logger logging.Logger) (*Supervisor, error) {
	if options.Launcher == nil {
		return nil, errors.NewValidationError("world launcher is required", nil)
	}
	if err := process.ValidateLaunchSpec(options.Proxy); err != nil {
		return nil, errors.NewValidationError("invalid proxy launch spec", err)
	}

	if options.RunID == "" {
		options.RunID = uuid.NewString()
	}
	if options.Proxy.ID == "" {
		options.Proxy.ID = ProxyID
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaultPollInterval
	}
	if options.GracefulTimeout <= 0 {
		options.GracefulTimeout = defaultGracefulTimeout
	}
	if options.Spawn == nil {
		options.Spawn = process.Spawn
	}

	observer := options.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Supervisor{
		options:  options,
		logger:   logger,
		registry: worlds.NewRegistryWithSpawner(options.Launcher, options.Stdio, options.Spawn),
		restarts: newRestartTracker(options.Restart),
		observer: observer,
		spawn:    options.Spawn,
		state:    int32(StateStarting),
	}, nil
}

func (s *Supervisor) RunID() string              { return s.options.RunID }
func (s *Supervisor) Registry() *worlds.Registry { return s.registry }

func (s *Supervisor) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Supervisor) setState(state State) {
	previous := State(atomic.SwapInt32(&s.state, int32(state)))
	if previous == state {
		return
	}
	s.logger.Infof("Supervisor state: %s -> %s", previous, state)
	s.observer.StateChanged(state)
}

func (s *Supervisor) Proxy() *process.Handle {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.proxy
}

func (s *Supervisor) setProxy(handle *process.Handle) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.proxy = handle
}

// Run starts the deployment and supervises it until ctx is cancelled (returns nil)
// or the proxy exits (returns a proxy_exit error). Startup failures are returned
// after everything already started has been torn down.
func (s *Supervisor) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.NewConflictError("supervisor already started", nil).WithContext("run_id", s.options.RunID)
	}

	s.mutex.Lock()
	s.startedAt = time.Now()
	s.mutex.Unlock()

	s.logger.Infof("Supervisor starting, run_id: %s", s.options.RunID)
	s.setState(StateStarting)

	s.reapOrphans(ctx)

	if err := s.start(ctx); err != nil {
		s.setState(StateShuttingDown)
		if teardownErr := s.teardown(); teardownErr != nil {
			s.logger.Errorf("Teardown after failed startup reported errors: %v", teardownErr)
		}
		s.setState(StateTerminated)
		return err
	}

	s.setState(StateRunning)
	s.logger.Infof("Supervisor running, worlds: %v", s.registry.Names())

	loopErr := s.loop(ctx)

	s.setState(StateShuttingDown)
	if err := s.teardown(); err != nil {
		s.logger.Errorf("Teardown reported errors: %v", err)
	}
	s.setState(StateTerminated)

	if loopErr != nil {
		return loopErr
	}

	s.logger.Infof("Supervisor stopped")
	return nil
}

func (s *Supervisor) start(ctx context.Context) error {
	proxy, err := s.spawn(s.options.Proxy, s.options.Stdio)
	if err != nil {
		s.logger.Errorf("Failed to start proxy: %v", err)
		if !errors.IsSpawnError(err) {
			err = errors.NewSpawnError("failed to start proxy", err)
		}
		return err
	}
	s.setProxy(proxy)
	s.writePIDFile(ProxyID, proxy.PID())
	s.observer.ProxyChanged(true)
	s.logger.Infof("Proxy started, pid: %d, cmd: %s", proxy.PID(), s.options.Proxy)

	if s.options.ProxyStartupDelay > 0 {
		s.logger.Debugf("Waiting %v for proxy to come up", s.options.ProxyStartupDelay)
		if !sleep(ctx, s.options.ProxyStartupDelay) {
			return errors.NewCancelledError("startup cancelled", ctx.Err())
		}
	}

	names, err := worlds.Discover(s.options.Launcher.Root(), s.options.RequireManifest, s.logger)
	if err != nil {
		s.logger.Errorf("World discovery failed: %v", err)
		return err
	}
	if len(names) == 0 {
		s.logger.Warnf("No worlds found, root: %s", s.options.Launcher.Root())
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return errors.NewCancelledError("startup cancelled", ctx.Err())
		}

		handle, err := s.registry.Start(name)
		if err != nil {
			s.logger.Errorf("Failed to start world, name: %s, error: %v", name, err)
			return err
		}
		s.writePIDFile(worldID(name), handle.PID())
		s.observer.WorldChanged(name, true)
		s.logger.Infof("World started, name: %s, pid: %d", name, handle.PID())
	}

	return nil
}

func (s *Supervisor) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		proxy := s.Proxy()
		if result := proxy.Poll(); result.Exited() {
			s.observer.ProxyChanged(false)
			s.logger.Errorf("Proxy crashed, pid: %d, exit code: %d; stopping all worlds", proxy.PID(), result.ExitCode)
			return errors.NewProxyExitError("proxy exited", nil).
				WithContext("pid", proxy.PID()).
				WithContext("exit_code", result.ExitCode)
		}

		if cooldown := s.superviseWorlds(); cooldown > 0 {
			s.logger.Debugf("Cooling down for %v", cooldown)
			if !sleep(ctx, cooldown) {
				return nil
			}
		}

		if !sleep(ctx, s.options.PollInterval) {
			return nil
		}
	}
}

// superviseWorlds restarts every exited world and returns the cooldown to observe
func (s *Supervisor) superviseWorlds() time.Duration {
	var cooldown time.Duration

	for _, entry := range s.registry.All() {
		if entry.Failed || entry.Handle == nil {
			continue
		}

		result := entry.Handle.Poll()
		if !result.Exited() {
			continue
		}

		if d := s.restartWorld(entry, result.ExitCode); d > cooldown {
			cooldown = d
		}
	}

	return cooldown
}

func (s *Supervisor) restartWorld(entry worlds.Entry, exitCode int) time.Duration {
	name := entry.Name
	s.observer.WorldChanged(name, false)

	if exitCode == 0 {
		s.logger.Warnf("World exited, name: %s, pid: %d, restarting", name, entry.Handle.PID())
	} else {
		s.logger.Errorf("World crashed, name: %s, pid: %d, exit code: %d, restarting", name, entry.Handle.PID(), exitCode)
	}

	decision := s.restarts.next(name, entry.Handle.PID(), entry.Handle.Uptime())
	if !decision.allowed {
		s.logger.Errorf("World exceeded max restarts, giving up, name: %s, restarts: %d", name, decision.attempt)
		s.registry.MarkFailed(name)
		s.removePIDFile(worldID(name))
		return 0
	}

	s.registry.RecordRestart(name, time.Now())

	handle, err := s.registry.Spawn(name)
	if err != nil {
		s.logger.Errorf("Failed to restart world, name: %s, attempt: %d, error: %v", name, decision.attempt, err)
		return decision.cooldown
	}

	s.registry.Replace(name, handle)
	s.writePIDFile(worldID(name), handle.PID())
	s.observer.WorldChanged(name, true)
	s.logger.Infof("World restarted, name: %s, pid: %d, attempt: %d", name, handle.PID(), decision.attempt)

	return decision.cooldown
}

const worldIDPrefix = "world-"

func worldID(name string) string {
	return worldIDPrefix + name
}

// sleep returns false when ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
