package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/replicate/rget/pkg/version"
)

const VersionCMDName = "version"

var VersionCMD = &cobra.Command{
	Use:   VersionCMDName,
	Short: "print version and build information",
	Long:  "Print the version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rget Version %s - Build Time %s\n", version.GetVersion(), version.BuildTime)
	},
}
