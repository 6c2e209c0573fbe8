// Package healthcheck implements C5: the three healthiness predicates
// (file, HTTP HEAD, command), their pre-spawn preparation hooks, and a
// per-service polling worker (spec.md §4.5).
package healthcheck

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"horust/internal/app/bus"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// Evaluator runs healthiness checks and owns one polling worker per
// Started service.
type Evaluator struct {
	log logger.Logger

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	argvCache map[string][]string
}

// New builds an Evaluator with a component-scoped logger.
func New(log logger.Logger) *Evaluator {
	return &Evaluator{
		log:       log.WithComponent("HEALTHCHECK"),
		cancels:   make(map[string]context.CancelFunc),
		argvCache: make(map[string][]string),
	}
}

// Prepare runs each configured check's pre-spawn hook: the file check
// removes a stale path left over from a previous run, and the command
// check pre-parses and caches its argv (spec.md §4.5 "Preparation").
func (e *Evaluator) Prepare(svc *config.Service) {
	if svc.Healthiness.File != "" {
		if err := os.Remove(svc.Healthiness.File); err != nil && !os.IsNotExist(err) {
			e.log.Debug().Str("name", svc.Name).Err(err).Msg("failed to remove stale health file")
		}
	}

	if svc.Healthiness.Command != "" {
		e.mu.Lock()
		e.argvCache[svc.Name] = strings.Fields(svc.Healthiness.Command)
		e.mu.Unlock()
	}
}

// Check runs every configured predicate; absent configuration means
// healthy (spec.md §4.5).
func (e *Evaluator) Check(svc *config.Service) bus.HealthStatus {
	h := svc.Healthiness

	if h.File == "" && h.HTTP == "" && h.Command == "" {
		return bus.Healthy
	}

	if h.File != "" {
		if _, err := os.Stat(h.File); err != nil {
			return bus.Unhealthy
		}
	}

	if h.HTTP != "" && !e.checkHTTP(h.HTTP) {
		return bus.Unhealthy
	}

	if h.Command != "" && !e.checkCommand(svc) {
		return bus.Unhealthy
	}

	return bus.Healthy
}

func (e *Evaluator) checkHTTP(url string) bool {
	client := &http.Client{Timeout: config.HTTPCheckTimeout}

	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (e *Evaluator) checkCommand(svc *config.Service) bool {
	argv := e.cachedArgv(svc)
	if len(argv) == 0 {
		return false
	}

	path := argv[0]

	if !strings.Contains(path, "/") {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return false
		}

		path = resolved
	}

	cmd := exec.Command(path, argv[1:]...)

	return cmd.Run() == nil
}

func (e *Evaluator) cachedArgv(svc *config.Service) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if argv, ok := e.argvCache[svc.Name]; ok {
		return argv
	}

	return strings.Fields(svc.Healthiness.Command)
}

// Start launches a polling worker for svc on config.HealthCheckInterval
// if one is not already running (spec.md §4.5 "one worker per Started
// service"). A no-op if a worker for this name is already running.
func (e *Evaluator) Start(ctx context.Context, b bus.Bus, svc *config.Service) {
	e.mu.Lock()

	if _, exists := e.cancels[svc.Name]; exists {
		e.mu.Unlock()

		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancels[svc.Name] = cancel
	e.mu.Unlock()

	go e.run(workerCtx, b, svc)
}

func (e *Evaluator) run(ctx context.Context, b bus.Bus, svc *config.Service) {
	ticker := time.NewTicker(config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(bus.HealthCheck(svc.Name, e.Check(svc)))
		}
	}
}

// Stop tears down a single service's worker (spec.md §4.5 "torn down
// on service exit or shutdown").
func (e *Evaluator) Stop(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.cancels[name]; ok {
		cancel()
		delete(e.cancels, name)
	}
}

// StopAll tears down every running worker.
func (e *Evaluator) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cancel := range e.cancels {
		cancel()
		delete(e.cancels, name)
	}
}
