package main

import (
	"fmt"

	"github.com/HerbHall/tvremote/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// opener builds the app for a subcommand.
type opener func(cmd *cobra.Command, overrides ...func(*viper.Viper)) (*app, error)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "tvremote",
		Short: "Discover and control smart TVs on the local network",
		Long: `tvremote finds Samsung, LG, Roku, Hisense and Android TVs on the local
network and drives them over their native control protocols.

Use "tvremote [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	open := func(cmd *cobra.Command, overrides ...func(*viper.Viper)) (*app, error) {
		return newApp(cmd.Context(), configPath, overrides...)
	}

	root.AddCommand(
		newServeCmd(open),
		newDiscoverCmd(open),
		newDevicesCmd(open),
		newRemoteCmd(open),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
