// Command horustctl is the control client: it talks to a running
// horust supervisor over its Unix control socket (spec.md §4.8, §6).
package main

import (
	"fmt"
	"os"

	"horust/internal/app/cli"
)

func main() {
	cmd := cli.NewHorustctlCommand(os.Stdout, cli.DefaultStatus)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
