package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"horust/internal/app/bus"
	"horust/internal/config"
)

func services() map[string]*config.Service {
	return map[string]*config.Service{
		"a": {Name: "a"},
		"b": {Name: "b", StartAfter: []string{"a"}},
		"c": {Name: "c", StartAfter: []string{"b"}, Termination: config.Termination{DieIfFailed: []string{"a"}}},
	}
}

func Test_New_InitialStatus(t *testing.T) {
	r := New(services())

	for _, name := range []string{"a", "b", "c"} {
		h, ok := r.Handler(name)
		assert.True(t, ok)
		assert.Equal(t, bus.Initial, h.Status)
		assert.False(t, h.HasPID())
	}
}

func Test_Dependents(t *testing.T) {
	r := New(services())

	assert.ElementsMatch(t, []string{"b"}, r.Dependents("a"))
	assert.ElementsMatch(t, []string{"c"}, r.Dependents("b"))
	assert.Empty(t, r.Dependents("c"))
}

func Test_DieIfFailedReverse(t *testing.T) {
	r := New(services())

	assert.ElementsMatch(t, []string{"c"}, r.DieIfFailedReverse("a"))
	assert.Empty(t, r.DieIfFailedReverse("b"))
}

func Test_SetAndClearPID(t *testing.T) {
	r := New(services())

	r.SetPID("a", 100)

	h, _ := r.Handler("a")
	assert.Equal(t, 100, h.PID)

	name, ok := r.NameByPID(100)
	assert.True(t, ok)
	assert.Equal(t, "a", name)

	r.ClearPID("a")
	assert.Equal(t, 0, h.PID)

	_, ok = r.NameByPID(100)
	assert.False(t, ok)
}

func Test_SetPID_ReplacesPreviousMapping(t *testing.T) {
	r := New(services())

	r.SetPID("a", 100)
	r.SetPID("a", 200)

	_, ok := r.NameByPID(100)
	assert.False(t, ok)

	name, ok := r.NameByPID(200)
	assert.True(t, ok)
	assert.Equal(t, "a", name)
}

func Test_IsRunnable(t *testing.T) {
	r := New(services())

	assert.True(t, r.IsRunnable("a"))
	assert.False(t, r.IsRunnable("b"))

	ha, _ := r.Handler("a")
	ha.Status = bus.Running

	assert.True(t, r.IsRunnable("b"))
	assert.False(t, r.IsRunnable("c"))

	hb, _ := r.Handler("b")
	hb.Status = bus.Finished

	assert.True(t, r.IsRunnable("c"))
}

func Test_IsRunnable_NotInitial(t *testing.T) {
	r := New(services())

	h, _ := r.Handler("a")
	h.Status = bus.Running

	assert.False(t, r.IsRunnable("a"))
}

func Test_AllTerminal(t *testing.T) {
	r := New(services())
	assert.False(t, r.AllTerminal())

	for _, name := range r.Names() {
		h, _ := r.Handler(name)
		h.Status = bus.Finished
	}

	assert.True(t, r.AllTerminal())
}

func Test_AnyFinishedFailed(t *testing.T) {
	r := New(services())
	assert.False(t, r.AnyFinishedFailed())

	h, _ := r.Handler("a")
	h.Status = bus.FinishedFailed

	assert.True(t, r.AnyFinishedFailed())
}

func Test_NameByPath(t *testing.T) {
	svcs := services()
	svcs["a"].Path = "/etc/horust/services/a.toml"

	r := New(svcs)

	name, ok := r.NameByPath("/etc/horust/services/a.toml")
	assert.True(t, ok)
	assert.Equal(t, "a", name)
}
