package main

import (
	"os"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dunelegacy/dunelockstep/config"
	"github.com/dunelegacy/dunelockstep/pkg/log4gox"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Every subcommand sees config.Cfg
// loaded and logging set up.
func NewRootCmd() *cobra.Command {
	var (
		cfgPath  string
		logLevel string
	)
	rootCmd := &cobra.Command{
		Use:           "dunelockstep",
		Short:         "Peer to peer lockstep RTS node",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(cfgPath); nil != err {
				return err
			}
			if "" != logLevel {
				config.Cfg.LogLevel = logLevel
			}
			if err := log4gox.Setup(config.Cfg.LogLevel, os.Stderr); nil != err {
				return err
			}
			sink := metrics.NewInmemSink(10*time.Second, time.Minute)
			metrics.DefaultInmemSignal(sink)
			_, err := metrics.NewGlobal(metrics.DefaultConfig("dunelockstep"), sink)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, trace, info, warn or error")

	rootCmd.AddCommand(
		NewHostCmd(),
		NewJoinCmd(),
		NewReplayCmd(),
		NewInspectCmd(),
		NewFindCmd(),
		NewIPCmd(),
		NewConfigCmd(),
	)
	return rootCmd
}
