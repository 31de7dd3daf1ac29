package worlds

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/process"
)

// SpawnFunc starts a child; process.Spawn in production
type SpawnFunc func(spec process.LaunchSpec, stdio process.StdioMode) (*process.Handle, error)

// Entry is a copy of one registry slot
type Entry struct {
	Name        string
	Handle      *process.Handle
	Restarts    int
	LastRestart time.Time
	Failed      bool
}

type Registry struct {
	launcher *Launcher
	stdio    process.StdioMode
	spawn    SpawnFunc

	mutex   sync.RWMutex
	entries map[string]*Entry
}

func NewRegistryWithSpawner(launcher *Launcher, stdio process.StdioMode, spawn SpawnFunc) *Registry {
	return &Registry{
		launcher: launcher,
		stdio:    stdio,
		spawn:    spawn,
		entries:  make(map[string]*Entry),
	}
}

// Spawn starts a world process without tracking it
func (r *Registry) Spawn(name string) (*process.Handle, error) {
	handle, err := r.spawn(r.launcher.Spec(name), r.stdio)
	if err != nil {
		if !errors.IsSpawnError(err) {
			err = errors.NewSpawnError("failed to start world", err)
		}
		return nil, err
	}
	return handle, nil
}

// Start spawns the world and tracks the new handle
func (r *Registry) Start(name string) (*process.Handle, error) {
	handle, err := r.Spawn(name)
	if err != nil {
		return nil, err
	}
	r.Replace(name, handle)
	return handle, nil
}

// Replace swaps the tracked handle and returns the previous one (nil for a new name)
func (r *Registry) Replace(name string, handle *process.Handle) *process.Handle {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		r.entries[name] = &Entry{Name: name, Handle: handle}
		return nil
	}

	old := entry.Handle
	entry.Handle = handle
	return old
}

// RecordRestart bumps the restart counter of a tracked world
func (r *Registry) RecordRestart(name string, at time.Time) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return 0
	}
	entry.Restarts++
	entry.LastRestart = at
	return entry.Restarts
}

// MarkFailed flags a world that is no longer restarted
func (r *Registry) MarkFailed(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if entry, ok := r.entries[name]; ok {
		entry.Failed = true
	}
}

func (r *Registry) Get(name string) (Entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// All returns a snapshot sorted by name
func (r *Registry) All() []Entry {
	r.mutex.RLock()
	entries := lo.MapToSlice(r.entries, func(_ string, entry *Entry) Entry {
		return *entry
	})
	r.mutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (r *Registry) Names() []string {
	return lo.Map(r.All(), func(entry Entry, _ int) string { return entry.Name })
}
