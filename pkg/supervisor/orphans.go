package supervisor

import (
	"context"
	"strings"

	"github.com/core-tools/hsu-multiserver/pkg/processstate"
)

// reapOrphans stops children left behind by a previous run that died without teardown.
// PID files whose process is gone or runs another binary are only removed. Files this
// supervisor never writes are left alone.
func (s *Supervisor) reapOrphans(ctx context.Context) {
	if s.options.ProcessFiles == nil {
		return
	}

	records, err := s.options.ProcessFiles.List()
	if err != nil {
		s.logger.Warnf("Failed to list PID files: %v", err)
		return
	}

	for _, record := range records {
		if !isOwnedID(record.ID) {
			s.logger.Debugf("Ignoring foreign PID file, path: %s", record.Path)
			continue
		}

		expected := s.options.Launcher.Binary()
		if record.ID == ProxyID {
			expected = s.options.Proxy.ExecutablePath
		}

		p, err := processstate.FindProcess(ctx, record.PID)
		switch {
		case err != nil:
			s.logger.Warnf("Failed to inspect recorded process, id: %s, pid: %d, error: %v", record.ID, record.PID, err)
		case p == nil:
			s.logger.Debugf("Stale PID file, id: %s, pid: %d", record.ID, record.PID)
		case !processstate.MatchesExecutable(ctx, p, expected):
			s.logger.Debugf("Recorded pid now belongs to another program, id: %s, pid: %d", record.ID, record.PID)
		default:
			s.logger.Warnf("Stopping orphan from a previous run, id: %s, pid: %d", record.ID, record.PID)
			if err := processstate.TerminateAndKill(ctx, p, s.options.GracefulTimeout, s.logger); err != nil {
				s.logger.Errorf("Failed to stop orphan, id: %s, pid: %d, error: %v", record.ID, record.PID, err)
			}
		}

		s.removePIDFile(record.ID)
	}
}

func isOwnedID(id string) bool {
	return id == ProxyID || (strings.HasPrefix(id, worldIDPrefix) && len(id) > len(worldIDPrefix))
}
