package signal

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Observe_FalseWithoutSignal(t *testing.T) {
	h := &Handler{}

	assert.False(t, h.Observe())
}

func Test_Observe_TrueOnceAfterSignal(t *testing.T) {
	h := &Handler{}
	h.flag.Store(true)

	assert.True(t, h.Observe())
	assert.False(t, h.Observe())
}

func Test_New_CapturesSIGINT(t *testing.T) {
	h := New()
	defer h.Stop()

	proc, err := os.FindProcess(os.Getpid())
	assert.NoError(t, err)

	assert.NoError(t, proc.Signal(syscall.SIGINT))

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		if h.Observe() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("expected signal handler to observe SIGINT")
}
