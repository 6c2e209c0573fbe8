package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"horust/internal/app/bus"
	"horust/internal/app/repo"
	"horust/internal/config"
)

func svc(name string) *config.Service {
	return &config.Service{
		Name:        name,
		Restart:     config.Restart{Strategy: config.RestartNever, Attempts: 1},
		Failure:     config.Failure{Strategy: config.FailureIgnore, SuccessfulExitCode: []int{0}},
		Healthiness: config.Healthiness{MaxFailed: 3},
		Termination: config.Termination{Wait: config.Duration(10 * time.Millisecond)},
	}
}

func oneServiceRepo(s *config.Service) *repo.Repo {
	return repo.New(map[string]*config.Service{s.Name: s})
}

func Test_IsAllowedTransition(t *testing.T) {
	assert.True(t, IsAllowedTransition(bus.Initial, bus.Starting))
	assert.True(t, IsAllowedTransition(bus.Starting, bus.Started))
	assert.True(t, IsAllowedTransition(bus.Started, bus.Running))
	assert.True(t, IsAllowedTransition(bus.Running, bus.InKilling))
	assert.True(t, IsAllowedTransition(bus.InKilling, bus.Success))
	assert.True(t, IsAllowedTransition(bus.InKilling, bus.Failed))
	assert.True(t, IsAllowedTransition(bus.Success, bus.Finished))
	assert.True(t, IsAllowedTransition(bus.Initial, bus.Finished))
	assert.True(t, IsAllowedTransition(bus.Failed, bus.FinishedFailed))

	assert.False(t, IsAllowedTransition(bus.Initial, bus.Running))
	assert.False(t, IsAllowedTransition(bus.Finished, bus.Initial))
	assert.False(t, IsAllowedTransition(bus.Started, bus.Started))
}

func Test_Apply_RejectsIllegalTransition(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	applied, ok := Apply(r, "a", bus.Running)
	assert.False(t, ok)
	assert.Equal(t, bus.Initial, applied)

	h, _ := r.Handler("a")
	assert.Equal(t, bus.Initial, h.Status)
}

func Test_Apply_UnknownService(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	_, ok := Apply(r, "missing", bus.Starting)
	assert.False(t, ok)
}

func Test_Apply_InKillingFromInitialRewritesToSuccess(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	applied, ok := Apply(r, "a", bus.InKilling)
	assert.True(t, ok)
	assert.Equal(t, bus.Success, applied)

	h, _ := r.Handler("a")
	assert.Equal(t, bus.Success, h.Status)
}

func Test_Apply_StartingIncrementsRestartAttempts(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	_, ok := Apply(r, "a", bus.Starting)
	assert.True(t, ok)

	h, _ := r.Handler("a")
	assert.Equal(t, 1, h.RestartAttempts)
}

func Test_Apply_StartedResetsRestartAttemptsAndHealthChecks(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	h, _ := r.Handler("a")
	h.RestartAttempts = 3
	h.HealthChecksFailed = 2

	Apply(r, "a", bus.Starting)
	_, ok := Apply(r, "a", bus.Started)
	assert.True(t, ok)

	assert.Equal(t, 0, h.RestartAttempts)
	assert.Equal(t, 0, h.HealthChecksFailed)
}

func Test_Apply_EnteringInKillingSetsShuttingDownStartOnce(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)

	_, ok := Apply(r, "a", bus.InKilling)
	assert.True(t, ok)

	h, _ := r.Handler("a")
	first := h.ShuttingDownStart
	assert.False(t, first.IsZero())

	Apply(r, "a", bus.InKilling)
	assert.Equal(t, first, h.ShuttingDownStart)
}

func Test_Apply_NonAliveStatusClearsPID(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	r.SetPID("a", 555)

	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.InKilling)

	h, _ := r.Handler("a")
	assert.True(t, h.HasPID())

	Apply(r, "a", bus.Success)
	assert.False(t, h.HasPID())
	assert.True(t, h.ShuttingDownStart.IsZero())

	_, ok := r.NameByPID(555)
	assert.False(t, ok)
}

func Test_ClassifyExit(t *testing.T) {
	s := svc("a")
	s.Failure.SuccessfulExitCode = []int{0, 2}

	assert.Equal(t, bus.Success, ClassifyExit(s, 0))
	assert.Equal(t, bus.Success, ClassifyExit(s, 2))
	assert.Equal(t, bus.Failed, ClassifyExit(s, 1))
}

func Test_Next_InitialRunnable(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.Run("a")}, events)
}

func Test_Next_InitialBlockedOnDependency(t *testing.T) {
	a := svc("a")
	b := svc("b")
	b.StartAfter = []string{"a"}

	r := repo.New(map[string]*config.Service{"a": a, "b": b})

	assert.Empty(t, Next("b", r, Lifecycle{}))
}

func Test_Next_StartedWithNoFailedChecksGoesRunning(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.Running)}, events)
}

func Test_Next_StartedWithFailedCheckStaysPut(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)

	h, _ := r.Handler("a")
	h.HealthChecksFailed = 1

	assert.Empty(t, Next("a", r, Lifecycle{}))
}

func Test_Next_RunningTooManyFailedChecksKills(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)

	h, _ := r.Handler("a")
	h.HealthChecksFailed = 4

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.InKilling), bus.Kill("a")}, events)
}

func Test_Next_SuccessRestartAlways(t *testing.T) {
	s := svc("a")
	s.Restart.Strategy = config.RestartAlways

	r := oneServiceRepo(s)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Success)

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.Initial)}, events)
}

func Test_Next_SuccessRestartNeverFinishes(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Success)

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.Finished)}, events)
}

func Test_Next_FailedRestartNeverWithinAttemptsRetries(t *testing.T) {
	s := svc("a")
	s.Restart.Attempts = 2

	r := oneServiceRepo(s)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{})
	assert.Contains(t, events, bus.StatusUpdate("a", bus.Initial))
}

func Test_Next_FailedRestartNeverAttemptsExhaustedFinishesFailed(t *testing.T) {
	s := svc("a")
	s.Restart.Attempts = 0

	r := oneServiceRepo(s)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{})
	assert.Contains(t, events, bus.StatusUpdate("a", bus.FinishedFailed))
}

func Test_Next_FailedWithShutdownStrategy(t *testing.T) {
	s := svc("a")
	s.Failure.Strategy = config.FailureShutdown

	r := oneServiceRepo(s)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{})
	assert.Contains(t, events, bus.ShuttingDownInitiated(bus.Graceful))
}

func Test_Next_FailedWithKillDependentsStrategy(t *testing.T) {
	a := svc("a")
	a.Failure.Strategy = config.FailureKillDependents
	b := svc("b")
	b.StartAfter = []string{"a"}

	r := repo.New(map[string]*config.Service{"a": a, "b": b})
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{})
	assert.Contains(t, events, bus.StatusUpdate("b", bus.InKilling))
	assert.Contains(t, events, bus.Kill("b"))
}

func Test_Next_FailedPropagatesDieIfFailed(t *testing.T) {
	a := svc("a")
	c := svc("c")
	c.Termination.DieIfFailed = []string{"a"}

	r := repo.New(map[string]*config.Service{"a": a, "c": c})
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{})
	assert.Contains(t, events, bus.StatusUpdate("c", bus.InKilling))
	assert.Contains(t, events, bus.Kill("c"))
}

func Test_Next_InKillingBeforeWaitElapsedDoesNothing(t *testing.T) {
	s := svc("a")
	s.Termination.Wait = config.Duration(time.Hour)

	r := oneServiceRepo(s)
	r.SetPID("a", 42)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.InKilling)

	assert.Empty(t, Next("a", r, Lifecycle{}))
}

func Test_Next_InKillingPidlessNeverForceKills(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.InKilling)

	assert.Empty(t, Next("a", r, Lifecycle{}))
}

func Test_Next_InKillingPastWaitWithPIDForceKills(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	r.SetPID("a", 42)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.InKilling)

	h, _ := r.Handler("a")
	h.ShuttingDownStart = time.Now().Add(-time.Hour)

	events := Next("a", r, Lifecycle{})
	assert.Equal(t, []bus.Event{bus.ForceKill("a")}, events)
}

func Test_Next_ShuttingDown_RunningGetsKilled(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)

	events := Next("a", r, Lifecycle{ShuttingDown: true, Mode: bus.Graceful})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.InKilling), bus.Kill("a")}, events)
}

func Test_Next_ShuttingDown_InitialFinishes(t *testing.T) {
	r := oneServiceRepo(svc("a"))

	events := Next("a", r, Lifecycle{ShuttingDown: true})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.Finished)}, events)
}

func Test_Next_ShuttingDown_FailedFinishesFailed(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.Failed)

	events := Next("a", r, Lifecycle{ShuttingDown: true})
	assert.Equal(t, []bus.Event{bus.StatusUpdate("a", bus.FinishedFailed)}, events)
}

func Test_Next_ShuttingDown_ForcefulModeForcesKillImmediately(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	r.SetPID("a", 42)
	Apply(r, "a", bus.Starting)
	Apply(r, "a", bus.Started)
	Apply(r, "a", bus.Running)
	Apply(r, "a", bus.InKilling)

	events := Next("a", r, Lifecycle{ShuttingDown: true, Mode: bus.Forceful})
	assert.Equal(t, []bus.Event{bus.ForceKill("a")}, events)
}

func Test_Next_UnknownServiceReturnsNil(t *testing.T) {
	r := oneServiceRepo(svc("a"))
	assert.Nil(t, Next("missing", r, Lifecycle{}))
}
