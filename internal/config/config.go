// Package config defines the declarative Service specification (spec.md
// §3) and loads it from TOML service files, the external interface the
// supervision engine treats as a given data contract (spec.md §1/§6).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"horust/internal/app/errors"
)

// Restart describes the restart policy applied when a service exits
// (spec.md §3, §4.6).
type Restart struct {
	Strategy string   `toml:"strategy,omitempty"`
	Backoff  Duration `toml:"backoff,omitempty"`
	Attempts int      `toml:"attempts,omitempty"`
}

// Healthiness describes the optional checks run against a running
// service (spec.md §4.5).
type Healthiness struct {
	File      string `toml:"file,omitempty"`
	HTTP      string `toml:"http,omitempty"`
	Command   string `toml:"command,omitempty"`
	MaxFailed int    `toml:"max_failed,omitempty"`
}

// Failure describes what counts as a successful exit and what happens
// when a service is considered Failed (spec.md §3, §4.6).
type Failure struct {
	SuccessfulExitCode []int  `toml:"successful_exit_code,omitempty"`
	Strategy           string `toml:"strategy,omitempty"`
}

// Termination describes the signal escalation applied to a service
// entering InKilling, and the reverse die-if-failed relation (spec.md
// §3, §4.6, GLOSSARY).
type Termination struct {
	Signal      string   `toml:"signal,omitempty"`
	Wait        Duration `toml:"wait,omitempty"`
	DieIfFailed []string `toml:"die_if_failed,omitempty"`
}

// Environment describes how the child process environment is built
// (spec.md §4.3).
type Environment struct {
	KeepEnv    bool              `toml:"keep_env,omitempty"`
	ReExport   []string          `toml:"re_export,omitempty"`
	Additional map[string]string `toml:"additional,omitempty"`
}

// Service is the declarative, immutable-once-loaded specification of a
// managed process (spec.md §3).
type Service struct {
	// Name is derived from the service file's name with the .toml
	// extension stripped, never read from the TOML body itself.
	Name string `toml:"-"`

	// Path is the path this service was loaded from, as given, kept for
	// the config-file→name correlation C9's Repo uses for ReloadConfig
	// (spec.md §4.9, SPEC_FULL §3).
	Path string `toml:"-"`

	Command          string `toml:"command"`
	WorkingDirectory string `toml:"working_directory,omitempty"`
	User             string `toml:"user,omitempty"`
	Stdout           string `toml:"stdout,omitempty"`
	Stderr           string `toml:"stderr,omitempty"`
	StdoutRotateSize int64  `toml:"stdout_rotate_size,omitempty"`

	// StdoutRotateTimestamp controls whether a rotated chunk's filename
	// includes a unix timestamp segment (base.{ts}.{seq}) or just the
	// sequence (base.{seq}); spec.md §4.3 calls the timestamp "optional
	// by config". A pointer so an absent field can default to true
	// (historical chunk naming) while still letting it be turned off.
	StdoutRotateTimestamp *bool `toml:"stdout_rotate_timestamp,omitempty"`

	StartDelay Duration `toml:"start_delay,omitempty"`
	StartAfter []string `toml:"start_after,omitempty"`

	Restart     Restart     `toml:"restart,omitempty"`
	Healthiness Healthiness `toml:"healthiness,omitempty"`
	Failure     Failure     `toml:"failure,omitempty"`
	Termination Termination `toml:"termination,omitempty"`
	Environment Environment `toml:"environment,omitempty"`
}

// SupervisorConfig is the optional top-level configuration loaded from
// --config-path (spec.md §6).
type SupervisorConfig struct {
	UnsuccessfulExitFinishedFailed bool `toml:"unsuccessful_exit_finished_failed,omitempty"`
}

// DefaultSupervisorConfig returns the zero-value supervisor config used
// when --config-path does not exist.
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{}
}

// LoadSupervisorConfig reads the optional supervisor config file. A
// missing file is not an error: it yields the default config, matching
// the teacher's Load() treatment of a missing fuku.yaml.
func LoadSupervisorConfig(path string) (*SupervisorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSupervisorConfig(), nil
		}

		return nil, errors.ErrFailedToReadConfig
	}

	cfg := DefaultSupervisorConfig()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToParseConfig, err)
	}

	return cfg, nil
}

// LoadService reads and validates a single service file. The service
// name is taken from the file's base name with the .toml extension
// stripped (spec.md §6: "file extension .toml accepted and stripped").
func LoadService(path string) (*Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrFailedToReadConfig, path)
	}

	expanded := ExpandEnv(raw)

	svc := &Service{}

	dec := toml.NewDecoder(bytes.NewReader(expanded))
	dec.DisallowUnknownFields()

	if err := dec.Decode(svc); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return nil, fmt.Errorf("%w: %s: %s", errors.ErrUnknownConfigField, path, strictErr.Error())
		}

		return nil, fmt.Errorf("%w: %s: %w", errors.ErrFailedToParseConfig, path, err)
	}

	svc.Name = strings.TrimSuffix(filepath.Base(path), ServiceFileExt)
	svc.Path = path

	applyDefaults(svc)

	if err := validateService(svc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err)
	}

	return svc, nil
}

// applyDefaults fills in every field spec.md §3 names a default for.
func applyDefaults(svc *Service) {
	if svc.Restart.Strategy == "" {
		svc.Restart.Strategy = DefaultRestartStrategy
	}

	if svc.Failure.Strategy == "" {
		svc.Failure.Strategy = DefaultFailureStrategy
	}

	if len(svc.Failure.SuccessfulExitCode) == 0 {
		svc.Failure.SuccessfulExitCode = []int{DefaultSuccessExitCode}
	}

	if svc.Healthiness.MaxFailed == 0 {
		svc.Healthiness.MaxFailed = DefaultHealthMaxFailed
	}

	if svc.Termination.Signal == "" {
		svc.Termination.Signal = DefaultTerminationSig
	}

	if svc.Termination.Wait == 0 {
		svc.Termination.Wait = Duration(DefaultTerminationWait)
	}

	if svc.Stdout == "" {
		svc.Stdout = StdoutAliasSTDOUT
	}

	if svc.Stderr == "" {
		svc.Stderr = StdoutAliasSTDERR
	}

	if svc.StdoutRotateTimestamp == nil {
		withTimestamp := true
		svc.StdoutRotateTimestamp = &withTimestamp
	}
}

// validateService checks the invariants a single service file must
// satisfy on its own, independent of its siblings (spec.md §3, §7
// ConfigError "empty command").
func validateService(svc *Service) error {
	if strings.TrimSpace(svc.Command) == "" {
		return errors.ErrEmptyCommand
	}

	switch svc.Restart.Strategy {
	case RestartAlways, RestartOnFailure, RestartNever:
	default:
		return fmt.Errorf("%w: unknown restart strategy %q", errors.ErrInvalidConfig, svc.Restart.Strategy)
	}

	switch svc.Failure.Strategy {
	case FailureShutdown, FailureKillDependents, FailureIgnore:
	default:
		return fmt.Errorf("%w: unknown failure strategy %q", errors.ErrInvalidConfig, svc.Failure.Strategy)
	}

	return nil
}

// ValidateGraph checks the cross-service invariants that need every
// loaded service at once (spec.md invariant 6: "Names in start_after
// and die_if_failed must resolve at load time or the configuration is
// rejected"), plus circular-dependency detection via Kahn's algorithm.
func ValidateGraph(services map[string]*Service) error {
	for name, svc := range services {
		for _, dep := range svc.StartAfter {
			if _, ok := services[dep]; !ok {
				return fmt.Errorf("%w: service %q: start_after references %q", errors.ErrUnresolvedDependency, name, dep)
			}
		}

		for _, dep := range svc.Termination.DieIfFailed {
			if _, ok := services[dep]; !ok {
				return fmt.Errorf("%w: service %q: die_if_failed references %q", errors.ErrUnresolvedDependency, name, dep)
			}
		}
	}

	return detectCycle(services)
}

// detectCycle runs Kahn's algorithm over the start_after edges; any
// node left unvisited once the queue drains sits on a cycle.
func detectCycle(services map[string]*Service) error {
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))

	for name := range services {
		indegree[name] = 0
	}

	for name, svc := range services {
		for _, dep := range svc.StartAfter {
			dependents[dep] = append(dependents[dep], name)
			indegree[name]++
		}
	}

	queue := make([]string, 0, len(services))

	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++

		for _, dependent := range dependents[n] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited != len(services) {
		return errors.ErrCircularDependency
	}

	return nil
}
