package main

import (
	"fmt"

	"github.com/jackyshang/AICodeReviewer/internal/version"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show reviewer version",
		Run: func(cmd *cobra.Command, args []string) {
			if verbose {
				fmt.Printf("reviewer %s\n", version.Full())
				return
			}
			fmt.Printf("reviewer %s\n", version.Version)
		},
	}
}
