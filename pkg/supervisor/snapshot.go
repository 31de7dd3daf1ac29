package supervisor

import (
	"time"

	"github.com/samber/lo"

	"github.com/core-tools/hsu-multiserver/pkg/process"
	"github.com/core-tools/hsu-multiserver/pkg/worlds"
)

type ProcessStatus struct {
	Name        string     `json:"name"`
	PID         int        `json:"pid"`
	State       string     `json:"state"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	Uptime      string     `json:"uptime"`
	Restarts    int        `json:"restarts"`
	LastRestart *time.Time `json:"last_restart,omitempty"`
	Failed      bool       `json:"failed,omitempty"`
}

// Snapshot is a read-only view for status endpoints
type Snapshot struct {
	RunID     string          `json:"run_id"`
	State     string          `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	Proxy     *ProcessStatus  `json:"proxy,omitempty"`
	Worlds    []ProcessStatus `json:"worlds"`
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mutex.RLock()
	proxy := s.proxy
	startedAt := s.startedAt
	s.mutex.RUnlock()

	snapshot := Snapshot{
		RunID:     s.options.RunID,
		State:     s.State().String(),
		StartedAt: startedAt,
		Worlds:    lo.Map(s.registry.All(), func(entry worlds.Entry, _ int) ProcessStatus { return worldStatus(entry) }),
	}
	if proxy != nil {
		status := handleStatus(ProxyID, proxy)
		snapshot.Proxy = &status
	}
	return snapshot
}

// World returns the status of one tracked world
func (s *Supervisor) World(name string) (ProcessStatus, bool) {
	entry, ok := s.registry.Get(name)
	if !ok {
		return ProcessStatus{}, false
	}
	return worldStatus(entry), true
}

func worldStatus(entry worlds.Entry) ProcessStatus {
	status := handleStatus(entry.Name, entry.Handle)
	status.Restarts = entry.Restarts
	status.Failed = entry.Failed
	if !entry.LastRestart.IsZero() {
		lastRestart := entry.LastRestart
		status.LastRestart = &lastRestart
	}
	return status
}

func handleStatus(name string, h *process.Handle) ProcessStatus {
	if h == nil {
		return ProcessStatus{Name: name, State: process.StateUnknown.String()}
	}

	result := h.Poll()
	status := ProcessStatus{
		Name:      name,
		PID:       h.PID(),
		State:     result.State.String(),
		StartedAt: h.StartedAt(),
		Uptime:    h.Uptime().Round(time.Second).String(),
	}
	if result.Exited() {
		code := result.ExitCode
		status.ExitCode = &code
	}
	return status
}
