// Package supervisor implements C7: the single-threaded, authoritative
// tick loop that owns every Handler mutation, drives C6's FSM, and
// dispatches to C2–C5/C8 (spec.md §4.7).
package supervisor

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"horust/internal/app/bus"
	"horust/internal/app/control"
	apperrors "horust/internal/app/errors"
	"horust/internal/app/healthcheck"
	"horust/internal/app/reaper"
	"horust/internal/app/repo"
	"horust/internal/app/service"
	"horust/internal/app/signal"
	"horust/internal/app/spawner"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// Supervisor is C7. It is the only component allowed to mutate a
// Handler's status (invariant I5): everything else observes through
// the bus or is driven synchronously from this loop.
type Supervisor struct {
	bus     bus.Bus
	repo    *repo.Repo
	spawner *spawner.Spawner
	reaper  *reaper.Reaper
	health  *healthcheck.Evaluator
	sig     *signal.Handler
	control *control.Server

	unsuccessfulExitFinishedFailed bool

	shuttingDown bool
	mode         bus.ShutdownMode

	log logger.Logger
}

// New builds a Supervisor. control may be nil when the control plane
// is disabled (e.g. in unit tests driving the loop directly).
func New(
	b bus.Bus,
	r *repo.Repo,
	sp *spawner.Spawner,
	re *reaper.Reaper,
	he *healthcheck.Evaluator,
	sig *signal.Handler,
	ctl *control.Server,
	unsuccessfulExitFinishedFailed bool,
	log logger.Logger,
) *Supervisor {
	return &Supervisor{
		bus:                            b,
		repo:                           r,
		spawner:                        sp,
		reaper:                         re,
		health:                         he,
		sig:                            sig,
		control:                        ctl,
		unsuccessfulExitFinishedFailed: unsuccessfulExitFinishedFailed,
		mode:                           bus.Graceful,
		log:                            log.WithComponent("SUPERVISOR"),
	}
}

// Run drives the tick loop until every handler reaches a terminal
// state, then runs the PID 1 final-kill sequence if applicable and
// returns the overall exit code spec.md §4.7/§6 defines.
func (sup *Supervisor) Run(ctx context.Context) int {
	sub := sup.bus.Subscribe(ctx)

	ticker := time.NewTicker(config.SupervisorTickInterval)
	defer ticker.Stop()
	defer sup.health.StopAll()

	for !sup.repo.AllTerminal() {
		sup.drainBus(ctx, sub)
		sup.observeSignal()
		sup.drainControlRequests()
		sup.tickServices(ctx)

		for _, evt := range sup.reaper.Reap(sup.repo) {
			sup.bus.Publish(evt)
		}

		select {
		case <-ctx.Done():
			return sup.exitCode()
		case <-ticker.C:
		}
	}

	sup.finalizePID1()

	return sup.exitCode()
}

func (sup *Supervisor) exitCode() int {
	if sup.unsuccessfulExitFinishedFailed && sup.repo.AnyFinishedFailed() {
		return 101
	}

	return 0
}

// drainBus applies every externally produced event currently buffered:
// PidChanged/SpawnFailed from C3, ServiceExited from C4 (including the
// copy this same loop published last tick), HealthCheck from C5.
func (sup *Supervisor) drainBus(ctx context.Context, sub <-chan bus.Event) {
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}

			sup.handleInbound(ctx, evt)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

func (sup *Supervisor) handleInbound(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindPidChanged:
		sup.onPidChanged(ctx, evt.Name, evt.PID)
	case bus.KindSpawnFailed:
		sup.transition(evt.Name, bus.Failed)
	case bus.KindServiceExited:
		sup.onServiceExited(evt.Name, evt.ExitCode)
	case bus.KindHealthCheck:
		sup.onHealthCheck(evt.Name, evt.Health)
	case bus.KindShuttingDownInitiated:
		sup.beginShutdown(evt.Mode)
	default:
		// StatusChanged and other notifications are this loop's own
		// output observed on its own subscription; nothing to do.
	}
}

func (sup *Supervisor) onPidChanged(ctx context.Context, name string, pid int) {
	sup.repo.SetPID(name, pid)
	sup.reaper.Track(pid)
	sup.transition(name, bus.Started)

	if h, ok := sup.repo.Handler(name); ok {
		sup.health.Start(ctx, sup.bus, h.Service)
	}
}

func (sup *Supervisor) onServiceExited(name string, exitCode int) {
	h, ok := sup.repo.Handler(name)
	if !ok {
		return
	}

	sup.repo.ClearPID(name)
	sup.health.Stop(name)
	sup.transition(name, service.ClassifyExit(h.Service, exitCode))
}

func (sup *Supervisor) onHealthCheck(name string, health bus.HealthStatus) {
	h, ok := sup.repo.Handler(name)
	if !ok {
		return
	}

	if health == bus.Unhealthy {
		h.HealthChecksFailed++
	} else {
		h.HealthChecksFailed = 0
	}
}

func (sup *Supervisor) beginShutdown(mode bus.ShutdownMode) {
	if sup.shuttingDown && sup.mode == bus.Forceful {
		return
	}

	sup.shuttingDown = true
	sup.mode = mode
}

// observeSignal interprets the signal handler's flag per spec.md §4.7
// step 2: the first occurrence starts a graceful shutdown, a
// subsequent occurrence while already shutting down escalates to
// forceful.
func (sup *Supervisor) observeSignal() {
	if !sup.sig.Observe() {
		return
	}

	if sup.shuttingDown {
		sup.beginShutdown(bus.Forceful)
		sup.bus.Publish(bus.ShuttingDownInitiated(bus.Forceful))

		return
	}

	sup.beginShutdown(bus.Graceful)
	sup.bus.Publish(bus.ShuttingDownInitiated(bus.Graceful))
}

// drainControlRequests answers every pending C8 ChangeRequest this
// tick, the only path through which the control plane mutates state.
func (sup *Supervisor) drainControlRequests() {
	if sup.control == nil {
		return
	}

	for {
		select {
		case req := <-sup.control.Requests():
			sup.handleChangeRequest(req)
		default:
			return
		}
	}
}

func (sup *Supervisor) handleChangeRequest(req control.ChangeRequest) {
	if _, ok := sup.repo.Handler(req.ServiceName); !ok {
		req.Reply <- control.ChangeReply{Err: fmt.Errorf("%w: %s", apperrors.ErrUnknownServiceName, req.ServiceName)}

		return
	}

	status, ok := service.Apply(sup.repo, req.ServiceName, req.NewStatus)
	if !ok {
		req.Reply <- control.ChangeReply{Err: fmt.Errorf("%w: %s", apperrors.ErrIllegalTransition, req.ServiceName)}

		return
	}

	sup.bus.Publish(bus.StatusChanged(req.ServiceName, status))
	req.Reply <- control.ChangeReply{Status: status}
}

// tickServices computes and dispatches every service's next-events
// (spec.md §4.7 steps 3–4), applying each one synchronously rather
// than round-tripping it back through the bus.
func (sup *Supervisor) tickServices(ctx context.Context) {
	lifecycle := service.Lifecycle{ShuttingDown: sup.shuttingDown, Mode: sup.mode}

	for _, name := range sup.repo.Names() {
		for _, evt := range service.Next(name, sup.repo, lifecycle) {
			sup.applyCommand(ctx, evt)
		}
	}
}

func (sup *Supervisor) applyCommand(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindRun:
		sup.runService(ctx, evt.Name)
	case bus.KindStatusUpdate:
		sup.transition(evt.Name, evt.Status)
	case bus.KindKill:
		sup.killService(evt.Name)
	case bus.KindForceKill:
		sup.forceKillService(evt.Name)
	case bus.KindShuttingDownInitiated:
		sup.beginShutdown(evt.Mode)
		sup.bus.Publish(evt)
	}
}

func (sup *Supervisor) transition(name string, to bus.Status) {
	status, ok := service.Apply(sup.repo, name, to)
	if !ok {
		return
	}

	sup.bus.Publish(bus.StatusChanged(name, status))
}

func (sup *Supervisor) runService(ctx context.Context, name string) {
	h, ok := sup.repo.Handler(name)
	if !ok {
		return
	}

	sup.transition(name, bus.Starting)
	sup.health.Prepare(h.Service)

	var backoff time.Duration
	if h.RestartAttempts > 0 {
		backoff = h.Service.Restart.Backoff.Duration()
	}

	sup.spawner.Spawn(ctx, sup.bus, h.Service, backoff)
}

func (sup *Supervisor) killService(name string) {
	sup.signalService(name, terminationSignal(name, sup.repo))
}

func (sup *Supervisor) forceKillService(name string) {
	sup.signalService(name, syscall.SIGKILL)
}

// signalService wraps kill(pid, sig): ESRCH is benign, a missing PID is
// a warning no-op, and a PID reuse detected by the reaper skips the
// signal entirely (spec.md §4.7 "Kill discipline").
func (sup *Supervisor) signalService(name string, sig syscall.Signal) {
	h, ok := sup.repo.Handler(name)
	if !ok || h.PID == 0 {
		sup.log.Warn().Str("name", name).Msg("kill requested for service with no PID")

		return
	}

	if !sup.reaper.VerifyPID(h.PID) {
		sup.log.Warn().Str("name", name).Int("pid", h.PID).Msg("pid reused, skipping signal")

		return
	}

	if err := syscall.Kill(h.PID, sig); err != nil {
		if err == syscall.ESRCH {
			return
		}

		sup.log.Error().Str("name", name).Err(err).Msg("failed to signal process")
	}
}

var signalByName = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGINT":  syscall.SIGINT,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

func terminationSignal(name string, r *repo.Repo) syscall.Signal {
	h, ok := r.Handler(name)
	if !ok {
		return syscall.SIGTERM
	}

	if sig, ok := signalByName[h.Service.Termination.Signal]; ok {
		return sig
	}

	return syscall.SIGTERM
}

// finalizePID1 implements spec.md §4.7's container-shutdown sequence:
// only meaningful when this process is actually PID 1.
func (sup *Supervisor) finalizePID1() {
	if os.Getpid() != 1 {
		return
	}

	syscall.Kill(-1, syscall.SIGTERM)
	time.Sleep(config.Pid1TermToKillGrace)
	syscall.Kill(-1, syscall.SIGKILL)
}
