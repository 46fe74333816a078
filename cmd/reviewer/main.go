package main

import (
	"os"
)

var (
	serverAddr string
	verbose    bool
)

func main() {
	rootCmd := reviewCmd()

	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "daemon address (default: discover the running daemon)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(hookCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		// Check for exitError to exit with specific code without extra output
		if exitErr, ok := err.(*exitError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}
