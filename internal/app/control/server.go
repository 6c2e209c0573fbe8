package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"horust/internal/app/bus"
	"horust/internal/app/errors"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// ChangeRequest asks the supervisor loop (C7) to attempt a transition.
// Only C7 may mutate handler state (invariant I5), so the server never
// applies one itself: it hands the request to the channel Requests
// exposes and waits on Reply.
type ChangeRequest struct {
	ServiceName string
	NewStatus   bus.Status
	Reply       chan ChangeReply
}

// ChangeReply is C7's answer to a ChangeRequest.
type ChangeReply struct {
	Status bus.Status
	Err    error
}

// SocketPath builds the per-instance socket path from a hosting
// directory and the supervisor's PID (spec.md §4.8).
func SocketPath(dir string, pid int) string {
	return filepath.Join(dir, config.SocketPrefix+strconv.Itoa(pid)+config.SocketSuffix)
}

// Server is C8: a Unix-socket request/response server kept coherent
// with C7's view of the world through the bus rather than by touching
// the repo directly.
type Server struct {
	socketPath string
	listener   net.Listener

	mu       sync.RWMutex
	statuses map[string]bus.Status

	requests chan ChangeRequest

	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	log logger.Logger
}

// New constructs a Server. Call Start to begin listening.
func New(log logger.Logger) *Server {
	return &Server{
		statuses: make(map[string]bus.Status),
		requests: make(chan ChangeRequest, 32),
		log:      log.WithComponent("CONTROL"),
	}
}

// Requests is the channel of pending ChangeRequests the supervisor
// loop drains once per tick.
func (s *Server) Requests() <-chan ChangeRequest {
	return s.requests
}

// Seed populates the initial name→status map before the first
// StatusChanged event for a service arrives.
func (s *Server) Seed(initial map[string]bus.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, status := range initial {
		s.statuses[name] = status
	}
}

// Start begins listening on a socket named after pid under dir, and
// starts the bus-observing and accept loops.
func (s *Server) Start(ctx context.Context, b bus.Bus, dir string, pid int) error {
	if err := checkSocketDir(dir); err != nil {
		return err
	}

	s.socketPath = SocketPath(dir, pid)

	if err := s.cleanupStaleSocket(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToCleanupSocket, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("%w %s: %w", errors.ErrFailedToListenSocket, s.socketPath, err)
	}

	s.listener = listener
	s.running.Store(true)
	s.log.Info().Msgf("control socket listening on %s", s.socketPath)

	serverCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sub := b.Subscribe(serverCtx)

	s.wg.Add(2)

	go func() {
		defer s.wg.Done()

		s.observeBus(serverCtx, sub)
	}()

	go func() {
		defer s.wg.Done()

		s.acceptLoop(serverCtx)
	}()

	return nil
}

// SocketPath returns the socket path this server is (or will be)
// listening on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// checkSocketDir implements spec.md §5's UDS-folder preflight: dir
// must exist and be a directory before a socket is created under it.
// The default /var/run/horust frequently won't exist, so this is the
// common failure mode on a bare checkout rather than an edge case.
func checkSocketDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrSocketDirNotDir, dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", errors.ErrSocketDirNotDir, dir)
	}

	return nil
}

func (s *Server) cleanupStaleSocket() error {
	if _, err := os.Stat(s.socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", s.socketPath, config.SocketDialTimeout)
	if err == nil {
		conn.Close()

		return fmt.Errorf("%w: %s", errors.ErrSocketAlreadyInUse, s.socketPath)
	}

	return os.Remove(s.socketPath)
}

// Stop closes the listener, waits for in-flight connections to drain
// and removes the socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Msgf("failed to remove socket file: %s", s.socketPath)
	}

	return nil
}

func (s *Server) observeBus(ctx context.Context, sub <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}

			switch evt.Kind {
			case bus.KindStatusChanged:
				s.mu.Lock()
				s.statuses[evt.Name] = evt.Status
				s.mu.Unlock()
			case bus.KindShuttingDownInitiated:
				s.log.Debug().Msgf("observed shutting_down_initiated mode=%s", evt.Mode)
			}
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.log.Error().Err(err).Msg("failed to accept control connection")

			continue
		}

		s.wg.Add(1)

		go func(c net.Conn) {
			defer s.wg.Done()
			defer c.Close()

			s.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection reads exactly one request, replies, and closes
// (spec.md §4.8: "accepts one client per connection").
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	req, err := ReadMessage(conn)
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to read control request")

		return
	}

	resp := s.dispatch(ctx, req)

	if err := WriteMessage(conn, resp); err != nil {
		s.log.Debug().Err(err).Msg("failed to write control response")
	}
}

func (s *Server) dispatch(ctx context.Context, req Envelope) Envelope {
	switch req.Kind {
	case KindStatusRequest:
		return s.handleStatusRequest(req.Name)
	case KindChangeRequest:
		return s.handleChangeRequest(ctx, req.Name, req.NewStatus)
	default:
		return ErrorMessage("unsupported request kind")
	}
}

func (s *Server) handleStatusRequest(name string) Envelope {
	s.mu.RLock()
	status, ok := s.statuses[name]
	s.mu.RUnlock()

	if !ok {
		return ErrorMessage(fmt.Sprintf("%s: %s", errors.ErrUnknownServiceName, name))
	}

	return StatusResponseMessage(name, status)
}

func (s *Server) handleChangeRequest(ctx context.Context, name string, newStatus bus.Status) Envelope {
	reply := make(chan ChangeReply, 1)

	select {
	case s.requests <- ChangeRequest{ServiceName: name, NewStatus: newStatus, Reply: reply}:
	case <-ctx.Done():
		return ErrorMessage("server shutting down")
	}

	select {
	case r := <-reply:
		if r.Err != nil {
			return ErrorMessage(r.Err.Error())
		}

		return StatusResponseMessage(name, r.Status)
	case <-ctx.Done():
		return ErrorMessage("server shutting down")
	}
}
