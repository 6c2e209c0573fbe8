package control

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horust/internal/app/bus"
	apperrors "horust/internal/app/errors"
	"horust/internal/config/logger"
)

func testLogger() logger.Logger {
	return logger.NewLoggerWithOutput(io.Discard)
}

func Test_WriteReadMessage_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		require.NoError(t, WriteMessage(client, ChangeRequestMessage("web", bus.Running)))
	}()

	env, err := ReadMessage(server)
	require.NoError(t, err)
	assert.Equal(t, KindChangeRequest, env.Kind)
	assert.Equal(t, "web", env.Name)
	assert.Equal(t, bus.Running, env.NewStatus)
}

func Test_ReadMessage_RejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		header := []byte{0xff, 0xff, 0xff, 0xff}
		client.Write(header)
	}()

	_, err := ReadMessage(server)
	assert.Error(t, err)
}

func startTestServer(t *testing.T) (*Server, bus.Bus, string) {
	t.Helper()

	dir := t.TempDir()
	b := bus.New(nil)
	s := New(testLogger())
	s.Seed(map[string]bus.Status{"web": bus.Running})

	require.NoError(t, s.Start(context.Background(), b, dir, os.Getpid()))
	t.Cleanup(func() { s.Stop() })

	return s, b, s.SocketPath()
}

func Test_Server_StatusRequest_KnownService(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client := NewClient(socketPath)

	status, err := client.Status("web")
	require.NoError(t, err)
	assert.Equal(t, bus.Running, status)
}

func Test_Server_StatusRequest_UnknownService(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client := NewClient(socketPath)

	_, err := client.Status("ghost")
	assert.Error(t, err)
}

func Test_Server_StatusChanged_UpdatesLocalMap(t *testing.T) {
	_, b, socketPath := startTestServer(t)

	b.Publish(bus.StatusChanged("web", bus.Finished))

	client := NewClient(socketPath)

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		status, err := client.Status("web")
		if err == nil && status == bus.Finished {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("expected local status map to observe StatusChanged")
}

func Test_Server_ChangeRequest_RoutesAndReplies(t *testing.T) {
	s, _, socketPath := startTestServer(t)

	client := NewClient(socketPath)

	done := make(chan struct{})

	go func() {
		defer close(done)

		req := <-s.Requests()
		assert.Equal(t, "web", req.ServiceName)
		assert.Equal(t, bus.InKilling, req.NewStatus)
		req.Reply <- ChangeReply{Status: bus.InKilling}
	}()

	status, err := client.Change("web", bus.InKilling)
	require.NoError(t, err)
	assert.Equal(t, bus.InKilling, status)

	<-done
}

func Test_Server_ChangeRequest_IllegalTransitionReportsError(t *testing.T) {
	s, _, socketPath := startTestServer(t)

	client := NewClient(socketPath)

	go func() {
		req := <-s.Requests()
		req.Reply <- ChangeReply{Err: assert.AnError}
	}()

	_, err := client.Change("web", bus.Finished)
	assert.Error(t, err)
}

func Test_Server_Stop_RemovesSocketFile(t *testing.T) {
	s, _, socketPath := startTestServer(t)

	require.NoError(t, s.Stop())

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func Test_Start_MissingUDSFolderFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	s := New(testLogger())

	err := s.Start(context.Background(), bus.New(nil), dir, os.Getpid())
	assert.ErrorIs(t, err, apperrors.ErrSocketDirNotDir)
}

func Test_Start_UDSFolderIsAFileFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a-file")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	s := New(testLogger())

	err := s.Start(context.Background(), bus.New(nil), dir, os.Getpid())
	assert.ErrorIs(t, err, apperrors.ErrSocketDirNotDir)
}

func Test_DiscoverSocket_AutoDiscoversSingleSocket(t *testing.T) {
	dir := t.TempDir()
	path := SocketPath(dir, 1234)

	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer l.Close()

	found, err := DiscoverSocket(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func Test_DiscoverSocket_NoneFound(t *testing.T) {
	dir := t.TempDir()

	_, err := DiscoverSocket(dir, 0)
	assert.Error(t, err)
}

func Test_DiscoverSocket_MultipleFoundIsAmbiguous(t *testing.T) {
	dir := t.TempDir()

	l1, err := net.Listen("unix", SocketPath(dir, 1))
	require.NoError(t, err)
	defer l1.Close()

	l2, err := net.Listen("unix", SocketPath(dir, 2))
	require.NoError(t, err)
	defer l2.Close()

	_, err = DiscoverSocket(dir, 0)
	assert.Error(t, err)
}

func Test_DiscoverSocket_ExplicitPIDMustExist(t *testing.T) {
	dir := t.TempDir()

	_, err := DiscoverSocket(dir, 999)
	assert.Error(t, err)
}

func Test_SocketPath_JoinsPrefixPIDSuffix(t *testing.T) {
	path := SocketPath("/var/run/horust", 42)
	assert.Equal(t, filepath.Join("/var/run/horust", "horust-42.sock"), path)
}
