// Package repo implements C9: the indexed view over every service's
// runtime state that C7 owns exclusively (spec.md §4.9). name→handler
// is authoritative; pid→name is derived and kept coherent on exactly
// two events, PidChanged and ServiceExited (spec.md §9 "PID ↔ name
// coherence"); config-file→name is built once in New.
package repo

import (
	"time"

	"horust/internal/app/bus"
	"horust/internal/config"
)

// Handler is the mutable per-service runtime state spec.md §3 calls
// ServiceHandler. Only C7 (the supervisor loop) mutates it; every
// other component observes state through the bus (invariant I5 of
// §3's Ownership note).
type Handler struct {
	Service *config.Service
	Status  bus.Status

	PID int

	RestartAttempts    int
	HealthChecksFailed int

	// ShuttingDownStart is set once, on first entry into InKilling,
	// and used by the force-kill deadline check (SPEC_FULL §3).
	ShuttingDownStart time.Time
}

// NewHandler builds the Initial-state runtime handler for a loaded
// service spec.
func NewHandler(svc *config.Service) *Handler {
	return &Handler{Service: svc, Status: bus.Initial}
}

// HasPID reports whether this handler currently tracks a live PID,
// which invariant I1 ties to status ∈ {Starting, Started, Running,
// InKilling}.
func (h *Handler) HasPID() bool {
	return h.PID != 0
}

// Repo is C9's indexed store.
type Repo struct {
	handlers   map[string]*Handler
	pidToName  map[int]string
	pathToName map[string]string

	// dependents[x] = services whose start_after contains x.
	dependents map[string][]string
	// dieIfFailedReverse[x] = services that die when x fails.
	dieIfFailedReverse map[string][]string
}

// New builds a Repo from the fully loaded and validated service set
// (config.ValidateGraph must already have accepted it).
func New(services map[string]*config.Service) *Repo {
	r := &Repo{
		handlers:           make(map[string]*Handler, len(services)),
		pidToName:          make(map[int]string),
		pathToName:         make(map[string]string, len(services)),
		dependents:         make(map[string][]string),
		dieIfFailedReverse: make(map[string][]string),
	}

	for name, svc := range services {
		r.handlers[name] = NewHandler(svc)

		if svc.Path != "" {
			r.pathToName[svc.Path] = name
		}
	}

	for name, svc := range services {
		for _, dep := range svc.StartAfter {
			r.dependents[dep] = append(r.dependents[dep], name)
		}

		for _, dep := range svc.Termination.DieIfFailed {
			r.dieIfFailedReverse[dep] = append(r.dieIfFailedReverse[dep], name)
		}
	}

	return r
}

// Handler returns the named service's runtime state.
func (r *Repo) Handler(name string) (*Handler, bool) {
	h, ok := r.handlers[name]

	return h, ok
}

// Names returns every loaded service name.
func (r *Repo) Names() []string {
	names := make([]string, 0, len(r.handlers))

	for name := range r.handlers {
		names = append(names, name)
	}

	return names
}

// NameByPID resolves a reaped PID back to a service name (C4's
// ServiceExited attribution).
func (r *Repo) NameByPID(pid int) (string, bool) {
	name, ok := r.pidToName[pid]

	return name, ok
}

// NameByPath resolves a watched service file back to its service name
// (the ReloadConfig correlation, spec.md §4.9/§9(c)).
func (r *Repo) NameByPath(path string) (string, bool) {
	name, ok := r.pathToName[path]

	return name, ok
}

// SetPID installs a PID for a service, updating both indices. Called
// exactly on PidChanged.
func (r *Repo) SetPID(name string, pid int) {
	h, ok := r.handlers[name]
	if !ok {
		return
	}

	if h.PID != 0 {
		delete(r.pidToName, h.PID)
	}

	h.PID = pid
	r.pidToName[pid] = name
}

// ClearPID drops a service's PID from both indices. Called exactly on
// ServiceExited, and whenever a handler enters a terminal state
// (invariant I1).
func (r *Repo) ClearPID(name string) {
	h, ok := r.handlers[name]
	if !ok {
		return
	}

	if h.PID != 0 {
		delete(r.pidToName, h.PID)
	}

	h.PID = 0
}

// Dependents returns every service whose start_after names this one.
func (r *Repo) Dependents(name string) []string {
	return r.dependents[name]
}

// DieIfFailedReverse returns every service that must be killed when
// name fails (GLOSSARY "Die-if-failed").
func (r *Repo) DieIfFailedReverse(name string) []string {
	return r.dieIfFailedReverse[name]
}

// IsRunnable implements invariant I3/I4: a service becomes runnable
// iff it is Initial and every name in start_after is Running or
// Finished.
func (r *Repo) IsRunnable(name string) bool {
	h, ok := r.handlers[name]
	if !ok || h.Status != bus.Initial {
		return false
	}

	for _, dep := range h.Service.StartAfter {
		depHandler, ok := r.handlers[dep]
		if !ok {
			return false
		}

		if depHandler.Status != bus.Running && depHandler.Status != bus.Finished {
			return false
		}
	}

	return true
}

// AllTerminal reports whether every handler has reached {Finished,
// FinishedFailed}, C7's loop exit condition (spec.md §4.7).
func (r *Repo) AllTerminal() bool {
	for _, h := range r.handlers {
		if !h.Status.IsTerminal() {
			return false
		}
	}

	return true
}

// AnyFinishedFailed reports whether the overall run should be reported
// as unsuccessful (spec.md §4.7 exit status rule).
func (r *Repo) AnyFinishedFailed() bool {
	for _, h := range r.handlers {
		if h.Status == bus.FinishedFailed {
			return true
		}
	}

	return false
}
