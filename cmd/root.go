package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dLock/cmd/lock"
	"github.com/ValentinKolb/dLock/cmd/serve"
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dlock",
		Short: "distributed advisory lock service",
		Long: fmt.Sprintf(`dLock (v%s)

A distributed, re-entrant, named advisory lock service written in Go.
Cooperating processes serialize access to shared resources through
pluggable lock facilities (filesystem, redis, in-memory).`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dLock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dLock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
