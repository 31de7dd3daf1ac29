package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/process"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// WithShutdownSignals returns a context cancelled by the first SIGINT or SIGTERM.
// Later signals stay captured and are dropped. stop releases the handler.
func WithShutdownSignals(parent context.Context, logger logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, shutdownSignals...)

	go func() {
		select {
		case received := <-sig:
			logger.Infof("Received signal: %v, shutting down", received)
			cancel()
		case <-ctx.Done():
		}
	}()

	stop := func() {
		signal.Stop(sig)
		cancel()
	}
	return ctx, stop
}

// teardown runs once: proxy first, then every live world in name order, each terminated
// exactly once. Stragglers are killed after the graceful timeout.
func (s *Supervisor) teardown() error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.terminateAll()
	})
	return s.teardownErr
}

type trackedHandle struct {
	id     string
	name   string
	handle *process.Handle
}

func (s *Supervisor) trackedHandles() []trackedHandle {
	var tracked []trackedHandle
	if proxy := s.Proxy(); proxy != nil {
		tracked = append(tracked, trackedHandle{id: ProxyID, handle: proxy})
	}
	for _, entry := range s.registry.All() {
		if entry.Handle != nil {
			tracked = append(tracked, trackedHandle{id: worldID(entry.Name), name: entry.Name, handle: entry.Handle})
		}
	}
	return tracked
}

func (s *Supervisor) terminateAll() error {
	errs := errors.NewErrorCollection()
	tracked := s.trackedHandles()

	var live []trackedHandle
	for _, t := range tracked {
		if t.handle.Poll().Exited() {
			s.logger.Debugf("%s already exited, pid: %d", t.id, t.handle.PID())
			continue
		}
		live = append(live, t)
	}

	for _, t := range live {
		s.logger.Infof("Terminating %s, pid: %d", t.id, t.handle.PID())
		if err := t.handle.Terminate(); err != nil {
			s.logger.Warnf("Failed to terminate %s: %v", t.id, err)
			errs.Add(err)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), s.options.GracefulTimeout)
	defer cancel()

	var stragglers []trackedHandle
	for _, t := range live {
		if !t.handle.Wait(waitCtx, s.options.GracefulTimeout) {
			stragglers = append(stragglers, t)
		}
	}

	for _, t := range stragglers {
		s.logger.Warnf("%s did not exit within %v, killing, pid: %d", t.id, s.options.GracefulTimeout, t.handle.PID())
		errs.Add(errors.NewTimeoutError("process did not exit after termination request", nil).
			WithContext("id", t.id).
			WithContext("pid", t.handle.PID()))
		if err := t.handle.Kill(); err != nil {
			errs.Add(err)
			continue
		}
		if !t.handle.Wait(context.Background(), killConfirmTimeout) {
			errs.Add(errors.NewTimeoutError("process did not exit after kill", nil).WithContext("id", t.id))
		}
	}

	for _, t := range tracked {
		if t.name == "" {
			s.observer.ProxyChanged(false)
		} else {
			s.observer.WorldChanged(t.name, false)
		}
		s.removePIDFile(t.id)
	}

	return errs.ToError()
}

func (s *Supervisor) writePIDFile(id string, pid int) {
	if s.options.ProcessFiles == nil {
		return
	}
	if err := s.options.ProcessFiles.WritePIDFile(id, pid); err != nil {
		s.logger.Warnf("Failed to write PID file, id: %s, error: %v", id, err)
	}
}

func (s *Supervisor) removePIDFile(id string) {
	if s.options.ProcessFiles == nil {
		return
	}
	if err := s.options.ProcessFiles.RemovePIDFile(id); err != nil {
		s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", id, err)
	}
}
