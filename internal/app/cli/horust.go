// Package cli parses the flags for both binaries (spec.md §6): the
// supervisor daemon and the control client. Cobra carries the flag
// definitions and usage text the way the teacher's own command tree
// does; neither binary here is interactive, so nothing in this
// package touches a TUI.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"horust/internal/config"
)

// HorustFlags is the parsed flag set for the supervisor binary.
type HorustFlags struct {
	ConfigPath                     string
	ServicesPaths                  []string
	UDSFolderPath                  string
	SampleService                  bool
	UnsuccessfulExitFinishedFailed bool
	Command                        []string
}

// ParseHorustFlags parses args (excluding the program name) into a
// HorustFlags. A trailing "-- CMD ARGS..." is captured verbatim as
// Command (spec.md §6: "run as a single synthetic service").
func ParseHorustFlags(args []string, out io.Writer) (*HorustFlags, error) {
	flags := &HorustFlags{
		ConfigPath:    config.DefaultConfigPath,
		ServicesPaths: []string{config.DefaultServicesPath},
		UDSFolderPath: config.DefaultUDSFolder,
	}

	cmd := &cobra.Command{
		Use:           "horust",
		Short:         "container-oriented process supervisor and init",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dashAt := cmd.ArgsLenAtDash(); dashAt >= 0 {
				flags.Command = args[dashAt:]
			}

			return nil
		},
	}

	cmd.SetOut(out)
	cmd.SetErr(out)

	cmd.Flags().StringVar(&flags.ConfigPath, "config-path", flags.ConfigPath, "optional supervisor config file")
	cmd.Flags().StringArrayVar(&flags.ServicesPaths, "services-path", nil, "directory or file of service specs (repeatable)")
	cmd.Flags().StringVar(&flags.UDSFolderPath, "uds-folder-path", flags.UDSFolderPath, "directory hosting the control socket")
	cmd.Flags().BoolVar(&flags.SampleService, "sample-service", false, "print a reference service file and exit")
	cmd.Flags().BoolVar(&flags.UnsuccessfulExitFinishedFailed, "unsuccessful-exit-finished-failed", false, "exit 101 if any service ends FinishedFailed")

	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		return nil, err
	}

	if len(flags.ServicesPaths) == 0 {
		flags.ServicesPaths = []string{config.DefaultServicesPath}
	}

	return flags, nil
}

// SampleServiceTOML is the reference service file printed by
// --sample-service (spec.md §6), covering every field spec.md §3
// names.
const SampleServiceTOML = `command = "/usr/bin/my-service --flag value"
working_directory = "/"
user = ""
stdout = "STDOUT"
stderr = "STDERR"
stdout_rotate_size = 0
stdout_rotate_timestamp = true

start_delay = "0s"
start_after = []

[restart]
strategy = "never" # always | on-failure | never
backoff = "0s"
attempts = 0

[healthiness]
file = ""
http = ""
command = ""
max_failed = 3

[failure]
successful_exit_code = [0]
strategy = "ignore" # shutdown | kill-dependents | ignore

[termination]
signal = "SIGTERM"
wait = "10s"
die_if_failed = []

[environment]
keep_env = false
re_export = []
[environment.additional]
`

// PrintSampleService writes SampleServiceTOML to out.
func PrintSampleService(out io.Writer) {
	fmt.Fprint(out, SampleServiceTOML)
}
