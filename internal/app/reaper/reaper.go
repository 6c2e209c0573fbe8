// Package reaper implements C4: a bounded, non-blocking waitpid(-1,
// WNOHANG) loop that turns exited children into ServiceExited events,
// plus a PID-reuse guard C7 consults before signaling a tracked PID
// (spec.md §4.4).
package reaper

import (
	"syscall"

	"github.com/shirou/gopsutil/v4/process"

	"horust/internal/app/bus"
	"horust/internal/app/repo"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// Reaper owns the global child-reaping loop. It is subreaper duty: a
// collected exit whose PID has no entry in the repo (a grandchild) is
// silently discarded.
type Reaper struct {
	log logger.Logger

	// startTimes records, per tracked PID, the process start time
	// observed via gopsutil at PidChanged time — the same
	// process-start-time verification technique the teacher's
	// session.VerifyPID used for persisted PIDs, repurposed here to
	// guard against signaling a PID the kernel has since reused for an
	// unrelated process (SPEC_FULL §2).
	startTimes map[int]int64
}

// New builds a Reaper with a component-scoped logger.
func New(log logger.Logger) *Reaper {
	return &Reaper{log: log.WithComponent("REAPER"), startTimes: make(map[int]int64)}
}

// Track records a freshly spawned PID's start time, called on every
// PidChanged event C7 observes.
func (re *Reaper) Track(pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}

	createTime, err := proc.CreateTime()
	if err != nil {
		return
	}

	re.startTimes[pid] = createTime
}

// Forget drops a PID's tracked start time, called once it has been
// reaped.
func (re *Reaper) Forget(pid int) {
	delete(re.startTimes, pid)
}

// VerifyPID reports whether pid still looks like the process C7
// tracked a start time for. An untracked PID gets the benefit of the
// doubt (true): this is a best-effort guard against reuse, not a
// source of truth.
func (re *Reaper) VerifyPID(pid int) bool {
	want, tracked := re.startTimes[pid]
	if !tracked {
		return true
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	got, err := proc.CreateTime()
	if err != nil {
		return false
	}

	return got == want
}

// Reap runs up to config.ReaperBatchSize non-blocking waitpid calls,
// resolving each collected exit to a service name via the repo's
// pid→name index. ECHILD ends the batch early and is benign: it means
// there is currently nothing left to reap.
func (re *Reaper) Reap(r *repo.Repo) []bus.Event {
	var events []bus.Event

	var status syscall.WaitStatus

	for i := 0; i < config.ReaperBatchSize; i++ {
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil {
			if err == syscall.ECHILD {
				break
			}

			re.log.Warn().Err(err).Msg("wait4 failed")

			break
		}

		if pid <= 0 {
			break
		}

		re.Forget(pid)

		name, ok := r.NameByPID(pid)
		if !ok {
			re.log.Debug().Int("pid", pid).Msg("reaped untracked child, discarding")

			continue
		}

		events = append(events, bus.ServiceExited(name, status.ExitStatus()))
	}

	return events
}
