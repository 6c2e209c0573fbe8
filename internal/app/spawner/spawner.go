// Package spawner implements C3: start-delay with cancellation, PATH
// resolution, environment construction, and the fork/exec path that
// turns a Run event into a live PID (spec.md §4.3).
package spawner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"horust/internal/app/bus"
	apperrors "horust/internal/app/errors"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// Exit status codes a spawn failure is classified under, mirroring the
// three async-signal-safe child steps of spec.md §4.3: stdout/stderr
// redirection, process setup (chdir/setsid/setuid), and exec itself.
// Go's runtime performs the fork and these steps as one atomic
// StartProcess call rather than letting us write child-side code after
// fork (Go's scheduler isn't safe to run in a forked-but-not-exec'd
// child), so these codes classify the returned error instead of being
// literal exit statuses of a partially-execed child.
const (
	ExitRedirectFailure     = 101
	ExitProcessSetupFailure = 102
	ExitExecFailure         = 103
)

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// Spawner runs C3's delayed fork/exec task for one service invocation.
type Spawner struct {
	log logger.Logger
}

// New builds a Spawner with a component-scoped logger.
func New(log logger.Logger) *Spawner {
	return &Spawner{log: log.WithComponent("SPAWNER")}
}

// Spawn runs the delay-then-fork/exec sequence on its own goroutine,
// publishing PidChanged on success or SpawnFailed on any failure
// (spec.md §4.3 "Runs on its own task").
func (s *Spawner) Spawn(ctx context.Context, b bus.Bus, svc *config.Service, backoff time.Duration) {
	go s.run(ctx, b, svc, backoff)
}

func (s *Spawner) run(ctx context.Context, b bus.Bus, svc *config.Service, backoff time.Duration) {
	total := svc.StartDelay.Duration() + backoff

	if !s.waitWithCancellation(ctx, b, total) {
		s.log.Debug().Str("name", svc.Name).Msg("spawn cancelled by shutdown")
		b.Publish(bus.SpawnFailed(svc.Name))

		return
	}

	pid, err := s.spawnProcess(svc)
	if err != nil {
		s.log.Error().Str("name", svc.Name).Err(err).Msg("failed to spawn process")
		b.Publish(bus.SpawnFailed(svc.Name))

		return
	}

	s.log.Debug().Str("name", svc.Name).Int("pid", pid).Msg("spawned process")
	b.Publish(bus.PidChanged(svc.Name, pid))
}

// waitWithCancellation sleeps for total, waking every
// config.SpawnDelayPollInterval to drain the bus for a
// ShuttingDownInitiated event. Returns false if shutdown preempted the
// delay, true once the full delay has elapsed.
func (s *Spawner) waitWithCancellation(ctx context.Context, b bus.Bus, total time.Duration) bool {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := b.Subscribe(subCtx)

	deadline := time.After(total)

	ticker := time.NewTicker(config.SpawnDelayPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return true
		case <-ticker.C:
			if drainShutdown(events) {
				return false
			}
		}
	}
}

func drainShutdown(events <-chan bus.Event) bool {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return true
			}

			if evt.Kind == bus.KindShuttingDownInitiated {
				return true
			}
		default:
			return false
		}
	}
}

// spawnProcess resolves everything a fork/exec needs and starts the
// child, returning its PID.
func (s *Spawner) spawnProcess(svc *config.Service) (int, error) {
	argv, err := resolveCommand(svc.Command)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrCommandNotFound, err)
	}

	uid, gid, err := resolveCredential(svc.User)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrFailedToResolveUser, err)
	}

	env := buildEnvironment(svc)

	stdout, closeStdout, err := s.openOutput(svc, svc.Stdout, streamStdout)
	if err != nil {
		return 0, fmt.Errorf("%w (exit %d): %w", apperrors.ErrFailedToOpenLogFile, ExitRedirectFailure, err)
	}
	defer closeStdout()

	stderr, closeStderr, err := s.openOutput(svc, svc.Stderr, streamStderr)
	if err != nil {
		return 0, fmt.Errorf("%w (exit %d): %w", apperrors.ErrFailedToOpenLogFile, ExitRedirectFailure, err)
	}
	defer closeStderr()

	attr := &os.ProcAttr{
		Dir:   svc.WorkingDirectory,
		Env:   env,
		Files: []*os.File{os.Stdin, stdout, stderr},
		Sys: &syscall.SysProcAttr{
			Setsid:     true,
			Credential: &syscall.Credential{Uid: uid, Gid: gid},
		},
	}

	proc, err := os.StartProcess(argv[0], argv, attr)
	if err != nil {
		code := classifyStartError(err)

		return 0, fmt.Errorf("%w (exit %d): %w", apperrors.ErrFailedToFork, code, err)
	}

	// C4 reaps every child through a single global waitpid(-1, WNOHANG)
	// loop (spec.md §4.4), so release Go's own bookkeeping for this PID
	// rather than ever calling proc.Wait() here.
	_ = proc.Release()

	return proc.Pid, nil
}

// classifyStartError maps a StartProcess failure onto the redirect vs.
// process-setup vs. exec step it most likely came from.
func classifyStartError(err error) int {
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.ENOEXEC):
		return ExitExecFailure
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EINVAL):
		return ExitProcessSetupFailure
	default:
		return ExitExecFailure
	}
}

// resolveCommand implements spec.md §4.3's PATH resolution: a token
// containing '/' is used verbatim, otherwise PATH is searched for the
// first regular file with that name.
func resolveCommand(command string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, apperrors.ErrEmptyCommand
	}

	token := fields[0]

	path := token
	if !strings.Contains(token, "/") {
		resolved, err := lookPath(token)
		if err != nil {
			return nil, err
		}

		path = resolved
	}

	argv := append([]string{path}, fields[1:]...)

	return argv, nil
}

func lookPath(name string) (string, error) {
	pathEnv := os.Getenv("PATH")
	if pathEnv == "" {
		return "", apperrors.ErrCommandNotFound
	}

	for _, dir := range filepath.SplitList(pathEnv) {
		candidate := filepath.Join(dir, name)

		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}

	return "", apperrors.ErrCommandNotFound
}

// resolveCredential resolves the configured user (or the current
// process identity when unset) into a uid/gid pair for
// syscall.Credential.
func resolveCredential(name string) (uint32, uint32, error) {
	if name == "" {
		return uint32(os.Getuid()), uint32(os.Getgid()), nil
	}

	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, err
	}

	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, err
	}

	return uint32(uid), uint32(gid), nil
}

// buildEnvironment implements spec.md §4.3's environment construction
// order: optional inherited environment, HOSTNAME/PATH/USER/HOME,
// re-exported names, then additional overlaid last.
func buildEnvironment(svc *config.Service) []string {
	env := make(map[string]string)

	if svc.Environment.KeepEnv {
		for _, kv := range os.Environ() {
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				env[kv[:idx]] = kv[idx+1:]
			}
		}
	}

	env["HOSTNAME"] = hostname()

	if _, ok := env["PATH"]; !ok {
		env["PATH"] = defaultPath()
	}

	if u, err := lookupUser(svc.User); err == nil {
		env["USER"] = u.Username
		env["HOME"] = u.HomeDir
	}

	for _, name := range svc.Environment.ReExport {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}

	for k, v := range svc.Environment.Additional {
		env[k] = v
	}

	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}

	sort.Strings(result)

	return result
}

func lookupUser(name string) (*user.User, error) {
	if name == "" {
		return user.Current()
	}

	return user.Lookup(name)
}

func hostname() string {
	if data, err := os.ReadFile("/etc/hostname"); err == nil {
		if h := strings.TrimSpace(string(data)); h != "" {
			return h
		}
	}

	if h, err := os.Hostname(); err == nil {
		return h
	}

	return os.Getenv("HOSTNAME")
}

func defaultPath() string {
	return "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
}

// openOutput resolves one of a service's stdout/stderr routing targets
// into a file descriptor for os.ProcAttr.Files, plus a cleanup func the
// caller runs once the child has been started (spec.md §4.3 routing:
// STDOUT/STDERR aliases, a path opened append+create+0700, or a pipe
// feeding the rotation writer).
func (s *Spawner) openOutput(svc *config.Service, target string, which stream) (*os.File, func(), error) {
	switch target {
	case config.StdoutAliasSTDOUT:
		return os.Stdout, func() {}, nil
	case config.StdoutAliasSTDERR:
		return os.Stderr, func() {}, nil
	default:
		if which == streamStdout && svc.StdoutRotateSize > 0 {
			r, w, err := os.Pipe()
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToCreatePipe, err)
			}

			go s.runRotatingWriter(r, svc)

			return w, func() { _ = w.Close() }, nil
		}

		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o700)
		if err != nil {
			return nil, nil, err
		}

		return f, func() { _ = f.Close() }, nil
	}
}
