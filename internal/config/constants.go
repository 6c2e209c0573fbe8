package config

import "time"

// Application metadata
const (
	AppName = "horust"
	Version = "0.3.0"
)

// Default CLI paths (spec.md §6)
const (
	DefaultConfigPath   = "/etc/horust/horust.toml"
	DefaultServicesPath = "/etc/horust/services"
	DefaultUDSFolder    = "/var/run/horust"

	ServiceFileExt = ".toml"
)

// Logging defaults
const (
	LogLevel  = "info"
	LogFormat = "console"
)

// Restart strategies (Service.Restart.Strategy)
const (
	RestartAlways    = "always"
	RestartOnFailure = "on-failure"
	RestartNever     = "never"
)

// Failure strategies (Service.Failure.Strategy)
const (
	FailureShutdown       = "shutdown"
	FailureKillDependents = "kill-dependents"
	FailureIgnore         = "ignore"
)

// Defaults applied when a Service omits a field
const (
	DefaultRestartStrategy = RestartNever
	DefaultFailureStrategy = FailureIgnore
	DefaultTerminationSig  = "SIGTERM"
	DefaultHealthMaxFailed = 3
	DefaultSuccessExitCode = 0
	DefaultTerminationWait = 10 * time.Second

	StdoutAliasSTDOUT = "STDOUT"
	StdoutAliasSTDERR = "STDERR"
)

// Healthiness check timing
const (
	HealthCheckInterval = 1 * time.Second
	HTTPCheckTimeout    = 1 * time.Second
)

// Spawner timing
const (
	SpawnDelayPollInterval = 100 * time.Millisecond
)

// Supervisor loop timing
const (
	SupervisorTickInterval = 300 * time.Millisecond
	ReaperBatchSize        = 32
	Pid1TermToKillGrace    = 3 * time.Second
)

// Socket configuration (C8)
const (
	SocketPrefix       = "horust-"
	SocketSuffix       = ".sock"
	SocketDialTimeout  = 1 * time.Second
	SocketWriteTimeout = 5 * time.Second
)
