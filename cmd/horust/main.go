// Command horust is the container-oriented process supervisor and
// init system: PID 1 for a container, or a regular supervisor process
// elsewhere (spec.md §1, §6).
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"horust/internal/app/bus"
	"horust/internal/app/cli"
	"horust/internal/app/control"
	"horust/internal/app/discovery"
	"horust/internal/app/healthcheck"
	"horust/internal/app/reaper"
	"horust/internal/app/repo"
	appsignal "horust/internal/app/signal"
	"horust/internal/app/spawner"
	"horust/internal/app/supervisor"
	"horust/internal/config"
	"horust/internal/config/logger"
)

// components holds everything fx constructs for us, captured once via
// fx.Populate so the supervisor (built explicitly, not through fx: see
// internal/app/supervisor/module.go) can be assembled after app.Start.
type components struct {
	Bus     bus.Bus
	Repo    *repo.Repo
	Spawner *spawner.Spawner
	Reaper  *reaper.Reaper
	Health  *healthcheck.Evaluator
	Signal  *appsignal.Handler
	Control *control.Server
}

func main() {
	os.Exit(run())
}

// run contains the full boot sequence: flag parsing, service
// discovery, fx-driven component wiring, and the supervisor tick loop.
// It returns the process exit code rather than calling os.Exit
// directly so the sequence stays straightforward to read top to
// bottom.
func run() int {
	log := logger.NewLogger()

	flags, err := cli.ParseHorustFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return 1
	}

	if flags.SampleService {
		cli.PrintSampleService(os.Stdout)

		return 0
	}

	services, err := loadServices(flags, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "horust: %v\n", err)

		return 1
	}

	supervisorCfg, err := config.LoadSupervisorConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "horust: %v\n", err)

		return 1
	}

	unsuccessfulExitFinishedFailed := flags.UnsuccessfulExitFinishedFailed || supervisorCfg.UnsuccessfulExitFinishedFailed

	var c components

	app := fx.New(
		fx.WithLogger(createFxLogger(log)),
		fx.Supply(services),
		fx.Provide(func() logger.Logger { return log }),
		fx.Provide(repo.New),
		bus.Module,
		spawner.Module,
		reaper.Module,
		healthcheck.Module,
		appsignal.Module,
		control.Module,
		fx.Populate(&c.Bus, &c.Repo, &c.Spawner, &c.Reaper, &c.Health, &c.Signal, &c.Control),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "horust: %v\n", err)

		return 1
	}

	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
		defer stopCancel()

		_ = app.Stop(stopCtx)
	}()

	c.Control.Seed(initialStatuses(c.Repo))

	if err := c.Control.Start(context.Background(), c.Bus, flags.UDSFolderPath, os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "horust: %v\n", err)

		return 1
	}
	defer c.Control.Stop()

	runCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()

	if watcher, err := repo.NewWatcher(c.Repo, c.Bus, log); err != nil {
		log.Warn().Err(err).Msg("service file watcher unavailable")
	} else {
		go watcher.Run(runCtx)
	}

	sup := supervisor.New(c.Bus, c.Repo, c.Spawner, c.Reaper, c.Health, c.Signal, c.Control, unsuccessfulExitFinishedFailed, log)

	return sup.Run(context.Background())
}

// loadServices builds the service set the supervisor drives: either a
// single synthetic service built from a trailing "-- CMD ARGS..."
// (spec.md §6), or the discovered set under --services-path.
func loadServices(flags *cli.HorustFlags, log logger.Logger) (map[string]*config.Service, error) {
	if len(flags.Command) > 0 {
		return map[string]*config.Service{
			"cmdline": syntheticService(flags.Command),
		}, nil
	}

	d := discovery.New(log)

	services, err := d.Load(flags.ServicesPaths)
	if err != nil {
		return nil, err
	}

	if err := config.ValidateGraph(services); err != nil {
		return nil, err
	}

	return services, nil
}

// syntheticService builds the single-service spec used when horust is
// invoked as "horust -- CMD ARGS...", wrapping an arbitrary command the
// way a container ENTRYPOINT would (spec.md §6).
func syntheticService(command []string) *config.Service {
	svc := &config.Service{
		Name:    "cmdline",
		Command: joinCommand(command),
	}

	svc.Restart.Strategy = config.RestartNever
	svc.Failure.Strategy = config.FailureShutdown
	svc.Failure.SuccessfulExitCode = []int{0}
	svc.Termination.Signal = config.DefaultTerminationSig
	svc.Termination.Wait = config.Duration(config.DefaultTerminationWait)
	svc.Healthiness.MaxFailed = config.DefaultHealthMaxFailed
	svc.Stdout = config.StdoutAliasSTDOUT
	svc.Stderr = config.StdoutAliasSTDERR

	withTimestamp := true
	svc.StdoutRotateTimestamp = &withTimestamp

	return svc
}

// initialStatuses seeds the control plane's name→status map with every
// loaded service's starting status so a StatusRequest for a service
// still in Initial (e.g. waiting on an unmet start_after, or queried
// before the first tick) answers with its real status rather than
// "unknown service name": a service that has not yet left Initial has
// no StatusChanged event behind it.
func initialStatuses(r *repo.Repo) map[string]bus.Status {
	statuses := make(map[string]bus.Status, len(r.Names()))

	for _, name := range r.Names() {
		if h, ok := r.Handler(name); ok {
			statuses[name] = h.Status
		}
	}

	return statuses
}

func joinCommand(command []string) string {
	out := command[0]
	for _, part := range command[1:] {
		out += " " + part
	}

	return out
}

func createFxLogger(log logger.Logger) func() fxevent.Logger {
	return func() fxevent.Logger {
		return fxevent.NopLogger
	}
}
