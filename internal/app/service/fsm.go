// Package service implements C6: the per-service finite state machine
// (spec.md §4.6). Transitions are centralized in one allowed-transitions
// table, and the next-event generator is a pure function of a handler,
// the repo it reads dependency state from, and the supervisor's
// lifecycle — it never mutates anything itself.
package service

import (
	"time"

	"horust/internal/app/bus"
	"horust/internal/app/repo"
	"horust/internal/config"
)

// allowedTransitions maps a destination status to the set of sources
// it may be entered from (spec.md §4.6's table, canonical per
// DESIGN.md's Open Question (a) decision).
var allowedTransitions = map[bus.Status][]bus.Status{
	bus.Initial:        {bus.Success, bus.Failed, bus.Started},
	bus.Starting:       {bus.Initial},
	bus.Started:        {bus.Starting},
	bus.Running:        {bus.Started},
	bus.InKilling:      {bus.Initial, bus.Starting, bus.Started, bus.Running},
	bus.Success:        {bus.Starting, bus.Started, bus.Running, bus.InKilling},
	bus.Failed:         {bus.Starting, bus.Started, bus.Running, bus.InKilling},
	bus.FinishedFailed: {bus.Starting, bus.Started, bus.Failed, bus.InKilling},
	bus.Finished:       {bus.Success, bus.Initial},
}

// IsAllowedTransition reports whether `to` may legally follow `from`.
func IsAllowedTransition(from, to bus.Status) bool {
	for _, src := range allowedTransitions[to] {
		if src == from {
			return true
		}
	}

	return false
}

// Lifecycle is the supervisor-wide mode the next-event generator
// conditions its output on (spec.md §4.6 "Shutdown mode").
type Lifecycle struct {
	ShuttingDown bool
	Mode         bus.ShutdownMode
}

// Apply performs a proposed transition against the allowed-transitions
// table, mutating the handler (invariant I2: exactly one StatusChanged
// per actual transition; illegal transitions are no-ops). It is the
// only place handler.Status changes, and the only caller is C7.
func Apply(r *repo.Repo, name string, to bus.Status) (applied bus.Status, ok bool) {
	h, exists := r.Handler(name)
	if !exists {
		return 0, false
	}

	// "Transition into InKilling from Initial is rewritten to Success
	// (nothing was ever running)" — spec.md §4.6. The table has no
	// Initial→Success edge, so the rewritten transition skips the check.
	rewritten := false
	if to == bus.InKilling && h.Status == bus.Initial {
		to = bus.Success
		rewritten = true
	}

	if !rewritten && !IsAllowedTransition(h.Status, to) {
		return h.Status, false
	}

	h.Status = to

	switch to {
	case bus.Starting:
		h.RestartAttempts++
	case bus.Started:
		h.RestartAttempts = 0
		h.HealthChecksFailed = 0
	case bus.InKilling:
		if h.ShuttingDownStart.IsZero() {
			h.ShuttingDownStart = time.Now()
		}
	case bus.Initial:
		h.HealthChecksFailed = 0
	}

	if !to.IsAlive() {
		r.ClearPID(name)
		h.ShuttingDownStart = time.Time{}
	}

	return to, true
}

// ClassifyExit maps a process exit code to Success or Failed per the
// service's configured successful_exit_code set (spec.md §3).
func ClassifyExit(svc *config.Service, exitCode int) bus.Status {
	for _, code := range svc.Failure.SuccessfulExitCode {
		if code == exitCode {
			return bus.Success
		}
	}

	return bus.Failed
}

// shouldForceKill implements the InKilling→ForceKill guard: no PID
// means the service never finished spawning (SPEC_FULL §3's PID-less
// guard), and the termination wait must have elapsed.
func shouldForceKill(h *repo.Handler) bool {
	if h.PID == 0 {
		return false
	}

	if h.ShuttingDownStart.IsZero() {
		return false
	}

	return time.Since(h.ShuttingDownStart) >= h.Service.Termination.Wait.Duration()
}

// Next is the pure next-event generator of spec.md §4.6: given a
// handler's current state, the repo (for dependency/runnability
// queries), and the supervisor's lifecycle, it returns the events C7
// should publish this tick. It reads but never writes.
func Next(name string, r *repo.Repo, lifecycle Lifecycle) []bus.Event {
	h, ok := r.Handler(name)
	if !ok {
		return nil
	}

	if lifecycle.ShuttingDown {
		return nextShuttingDown(name, h, lifecycle)
	}

	switch h.Status {
	case bus.Initial:
		if r.IsRunnable(name) {
			return []bus.Event{bus.Run(name)}
		}

		return nil

	case bus.Started:
		if h.HealthChecksFailed == 0 {
			return []bus.Event{bus.StatusUpdate(name, bus.Running)}
		}

		return nil

	case bus.Running:
		if h.HealthChecksFailed > h.Service.Healthiness.MaxFailed {
			return []bus.Event{bus.StatusUpdate(name, bus.InKilling), bus.Kill(name)}
		}

		return nil

	case bus.Success:
		return restartEvents(h, name, true)

	case bus.Failed:
		events := restartEvents(h, name, false)
		events = append(events, failureStrategyEvents(h, name, r)...)

		for _, dependent := range r.DieIfFailedReverse(name) {
			events = append(events, bus.StatusUpdate(dependent, bus.InKilling), bus.Kill(dependent))
		}

		return events

	case bus.InKilling:
		if shouldForceKill(h) {
			return []bus.Event{bus.ForceKill(name)}
		}

		return nil

	default:
		return nil
	}
}

func nextShuttingDown(name string, h *repo.Handler, lifecycle Lifecycle) []bus.Event {
	switch h.Status {
	case bus.Running, bus.Started:
		return []bus.Event{bus.StatusUpdate(name, bus.InKilling), bus.Kill(name)}

	case bus.Success, bus.Initial:
		return []bus.Event{bus.StatusUpdate(name, bus.Finished)}

	case bus.Failed:
		return []bus.Event{bus.StatusUpdate(name, bus.FinishedFailed)}

	case bus.InKilling:
		if lifecycle.Mode == bus.Forceful || shouldForceKill(h) {
			return []bus.Event{bus.ForceKill(name)}
		}

		return nil

	default:
		return nil
	}
}

// restartEvents implements the restart-strategy table of spec.md §4.6.
func restartEvents(h *repo.Handler, name string, success bool) []bus.Event {
	switch h.Service.Restart.Strategy {
	case config.RestartAlways:
		return []bus.Event{bus.StatusUpdate(name, bus.Initial)}

	case config.RestartOnFailure:
		if success {
			return []bus.Event{bus.StatusUpdate(name, bus.Finished)}
		}

		return []bus.Event{bus.StatusUpdate(name, bus.Initial)}

	case config.RestartNever:
		if success {
			return []bus.Event{bus.StatusUpdate(name, bus.Finished)}
		}

		// Attempts == 0 means no restart at all. RestartAttempts is reset
		// on entering Started, so it cannot be relied on for that case.
		if h.Service.Restart.Attempts == 0 || h.RestartAttempts > h.Service.Restart.Attempts {
			return []bus.Event{bus.StatusUpdate(name, bus.FinishedFailed)}
		}

		return []bus.Event{bus.StatusUpdate(name, bus.Initial)}

	default:
		return nil
	}
}

// failureStrategyEvents implements the failure-strategy table of
// spec.md §4.6, triggered on entering Failed.
func failureStrategyEvents(h *repo.Handler, name string, r *repo.Repo) []bus.Event {
	switch h.Service.Failure.Strategy {
	case config.FailureShutdown:
		return []bus.Event{bus.ShuttingDownInitiated(bus.Graceful)}

	case config.FailureKillDependents:
		var events []bus.Event

		for _, dependent := range r.Dependents(name) {
			events = append(events, bus.StatusUpdate(dependent, bus.InKilling), bus.Kill(dependent))
		}

		return events

	default:
		return nil
	}
}
