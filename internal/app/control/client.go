package control

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"horust/internal/app/bus"
	"horust/internal/app/errors"
	"horust/internal/config"
)

// Client is the horustctl side of the wire protocol: dial, send one
// request, read one response, close.
type Client struct {
	socketPath string
}

// NewClient builds a client bound to an explicit socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// DiscoverSocket resolves a socket path from --uds-folder-path and an
// optional supervisor pid. With pid == 0 it auto-discovers: exactly
// one *.sock file in dir is required, matching spec.md §6's "selects a
// socket by the supervisor PID or auto-discovers when exactly one
// socket is present".
func DiscoverSocket(dir string, pid int) (string, error) {
	if pid != 0 {
		path := SocketPath(dir, pid)

		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", errors.ErrNoInstanceRunning, path)
		}

		return path, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrSocketSearchFailed, err)
	}

	var found []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if strings.HasPrefix(name, config.SocketPrefix) && strings.HasSuffix(name, config.SocketSuffix) {
			found = append(found, filepath.Join(dir, name))
		}
	}

	switch len(found) {
	case 0:
		return "", errors.ErrNoInstanceRunning
	case 1:
		return found[0], nil
	default:
		return "", errors.ErrMultipleInstancesFound
	}
}

func (c *Client) roundTrip(req Envelope) (Envelope, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, config.SocketDialTimeout)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errors.ErrFailedToConnectSocket, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(config.SocketWriteTimeout))

	if err := WriteMessage(conn, req); err != nil {
		return Envelope{}, err
	}

	conn.SetReadDeadline(time.Now().Add(config.SocketWriteTimeout))

	return ReadMessage(conn)
}

// Status sends a StatusRequest and returns the service's current
// status, or an error if the server replied with Error or the name is
// unknown.
func (c *Client) Status(name string) (bus.Status, error) {
	resp, err := c.roundTrip(StatusRequestMessage(name))
	if err != nil {
		return 0, err
	}

	if resp.Kind == KindError {
		return 0, fmt.Errorf("%w: %s", errors.ErrServiceNotFound, resp.Error)
	}

	return resp.Status, nil
}

// Change sends a ChangeRequest and returns the resulting status.
func (c *Client) Change(name string, newStatus bus.Status) (bus.Status, error) {
	resp, err := c.roundTrip(ChangeRequestMessage(name, newStatus))
	if err != nil {
		return 0, err
	}

	if resp.Kind == KindError {
		return 0, fmt.Errorf("%w: %s", errors.ErrIllegalTransition, resp.Error)
	}

	return resp.Status, nil
}
