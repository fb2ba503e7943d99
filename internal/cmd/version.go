package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func writeVersion(cmd *cobra.Command) error {
	v := crucible.GetVersion()
	out := cmd.OutOrStdout()
	_, err := fmt.Fprintf(out, "%s %s\n  commit:   %s\n  built:    %s\n  go:       %s %s/%s\n  gofulmen: %s\n  crucible: %s\n",
		AppName, versionInfo.Version,
		versionInfo.Commit,
		versionInfo.BuildDate,
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
		v.Gofulmen,
		v.Crucible,
	)
	return err
}
