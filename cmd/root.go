package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-db/mnemo/cmd/bench"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mnemo",
		Short: "persistence mediation toolkit",
		Long: fmt.Sprintf(`mnemo (v%s)

A persistence mediation library written in Go: uniform storage
managers over memory, key-value, filesystem and SQLite backends,
composable cache layers, and a sandbox unit-of-work on top.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mnemo",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mnemo v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
