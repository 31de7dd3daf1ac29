package supervisor

import (
	"math"
	"time"
)

// RestartConfig controls how exited worlds are restarted. The zero values of
// MaxRestarts and ResetAfter mean unlimited and never.
type RestartConfig struct {
	Cooldown    time.Duration
	BackoffRate float64
	MaxCooldown time.Duration
	MaxRestarts int
	ResetAfter  time.Duration
}

type restartDecision struct {
	allowed  bool
	attempt  int
	cooldown time.Duration
}

// restartTracker counts consecutive restarts per world. Only the loop goroutine uses it.
type restartTracker struct {
	config   RestartConfig
	attempts map[string]int
	lastPID  map[string]int
}

func newRestartTracker(config RestartConfig) *restartTracker {
	if config.BackoffRate < 1.0 {
		config.BackoffRate = 1.0
	}
	return &restartTracker{
		config:   config,
		attempts: make(map[string]int),
		lastPID:  make(map[string]int),
	}
}

// next is called for every restart attempt. pid and uptime describe the exited process;
// a failed respawn leaves the same process in place, so the reset applies once per pid.
func (t *restartTracker) next(name string, pid int, uptime time.Duration) restartDecision {
	if t.lastPID[name] != pid {
		t.lastPID[name] = pid
		if t.config.ResetAfter > 0 && uptime >= t.config.ResetAfter {
			t.attempts[name] = 0
		}
	}

	attempts := t.attempts[name]
	if t.config.MaxRestarts > 0 && attempts >= t.config.MaxRestarts {
		return restartDecision{allowed: false, attempt: attempts}
	}

	attempts++
	t.attempts[name] = attempts

	return restartDecision{
		allowed:  true,
		attempt:  attempts,
		cooldown: t.cooldownFor(attempts),
	}
}

func (t *restartTracker) cooldownFor(attempt int) time.Duration {
	delay := float64(t.config.Cooldown) * math.Pow(t.config.BackoffRate, float64(attempt-1))
	if t.config.MaxCooldown > 0 && delay > float64(t.config.MaxCooldown) {
		return t.config.MaxCooldown
	}
	return time.Duration(delay)
}
