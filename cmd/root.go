package cmd

import (
	"fmt"
	"os"

	"github.com/15201047795/outpost-core/cmd/mem"
	"github.com/15201047795/outpost-core/cmd/target"
	"github.com/15201047795/outpost-core/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rmapctl",
		Short: "RMAP initiator and simulated target",
		Long: fmt.Sprintf(`rmapctl (v%s)

Issue RMAP reads and writes to SpaceWire target nodes over a stream link,
or run a simulated target node to talk to.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rmapctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rmapctl v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(target.TargetCmd)
	RootCmd.AddCommand(mem.MemoryCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("level at which logs will be output (debug, info, warn, error, off)"))
	key = "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("config file holding the 'targets' list and any flag value"))

	// needed before the command flags are bound
	_ = viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
