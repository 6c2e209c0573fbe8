package errors

import (
	"errors"
)

var (
	// Config errors (spec.md §7, ConfigError)
	ErrFailedToReadConfig   = errors.New("failed to read config file")
	ErrFailedToParseConfig  = errors.New("failed to parse config file")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrUnknownConfigField   = errors.New("unknown field in service file")
	ErrEmptyCommand         = errors.New("service command must not be empty")
	ErrDuplicateService     = errors.New("duplicate service name")
	ErrUnresolvedDependency = errors.New("start_after/die_if_failed references an unknown service")
	ErrCircularDependency   = errors.New("circular dependency among services")

	ErrServiceNotFound          = errors.New("service not found")
	ErrServiceDirectoryNotExist = errors.New("working directory does not exist")

	// IO errors
	ErrFailedToReadServiceDir = errors.New("failed to read services path")
	ErrSocketDirNotDir        = errors.New("uds folder path does not exist or is not a directory")
	ErrFailedToListenSocket   = errors.New("failed to listen on control socket")
	ErrFailedToConnectSocket  = errors.New("failed to connect to control socket")
	ErrFailedToCleanupSocket  = errors.New("failed to cleanup stale socket")
	ErrFailedToReadSocket     = errors.New("failed to read from control socket")
	ErrFailedToWriteSocket    = errors.New("failed to write to control socket")
	ErrSocketAlreadyInUse     = errors.New("socket is already in use")
	ErrSocketSearchFailed     = errors.New("failed to search for sockets")
	ErrNoInstanceRunning      = errors.New("no horust instance is running")
	ErrMultipleInstancesFound = errors.New("multiple horust instances running, specify the supervisor pid")

	// Spawn errors (SpawnError)
	ErrCommandNotFound     = errors.New("command not found on PATH")
	ErrFailedToResolveUser = errors.New("failed to resolve user")
	ErrFailedToFork        = errors.New("failed to fork")
	ErrFailedToOpenLogFile = errors.New("failed to open log output file")
	ErrFailedToCreatePipe  = errors.New("failed to create pipe")

	// Health errors (HealthError - a signal, not a fault)
	ErrHealthCheckFailed = errors.New("healthiness check failed")
	ErrReadinessTimeout  = errors.New("health check timed out")

	// Protocol errors (ProtocolError)
	ErrMalformedMessage   = errors.New("malformed control-plane message")
	ErrUnknownServiceName = errors.New("unknown service name")
	ErrIllegalTransition  = errors.New("illegal status transition requested")
	ErrFailedToEncodeMessage = errors.New("failed to encode control-plane message")

	// Repo / FSM invariants
	ErrPIDNotFound = errors.New("pid not found in repo")
)

var (
	As  = errors.As
	Is  = errors.Is
	New = errors.New
)
