package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"horust/internal/app/control"
	"horust/internal/config"
)

// HorustctlFlags is the parsed flag set for the control client.
type HorustctlFlags struct {
	UDSFolderPath string
	SupervisorPID int
	ServiceName   string
}

// NewHorustctlCommand builds the horustctl command tree. status is
// called once a socket has been resolved, so tests can substitute a
// stub instead of dialing a real supervisor.
func NewHorustctlCommand(out io.Writer, status func(flags HorustctlFlags) (string, error)) *cobra.Command {
	flags := HorustctlFlags{UDSFolderPath: config.DefaultUDSFolder}

	root := &cobra.Command{
		Use:           "horustctl",
		Short:         "query and control a running horust supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&flags.UDSFolderPath, "uds-folder-path", flags.UDSFolderPath, "directory hosting control sockets")
	root.PersistentFlags().IntVar(&flags.SupervisorPID, "pid", 0, "supervisor pid, auto-discovered if omitted")

	statusCmd := &cobra.Command{
		Use:   "status SERVICE_NAME",
		Short: "print a service's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ServiceName = args[0]

			result, err := status(flags)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result)

			return nil
		},
	}

	root.AddCommand(statusCmd)

	return root
}

// DefaultStatus resolves a socket via control.DiscoverSocket and
// queries it, formatting the result the way status prints it.
func DefaultStatus(flags HorustctlFlags) (string, error) {
	socketPath, err := control.DiscoverSocket(flags.UDSFolderPath, flags.SupervisorPID)
	if err != nil {
		return "", err
	}

	client := control.NewClient(socketPath)

	status, err := client.Status(flags.ServiceName)
	if err != nil {
		return "", err
	}

	return flags.ServiceName + ": " + status.String(), nil
}

// PidLabel formats a pid for display, "auto" when unset.
func PidLabel(pid int) string {
	if pid == 0 {
		return "auto"
	}

	return strconv.Itoa(pid)
}
