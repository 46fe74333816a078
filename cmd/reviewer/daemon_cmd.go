package main

import (
	"fmt"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/daemon"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the review daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ensureDaemon(); err != nil {
				return err
			}
			fmt.Println("Daemon started")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(); err == ErrDaemonNotRunning {
				fmt.Println("Daemon was not running")
				return nil
			} else if err != nil {
				return err
			}
			fmt.Println("Daemon stopped")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			wasRunning := true
			if err := stopDaemon(); err == ErrDaemonNotRunning {
				wasRunning = false
			} else if err != nil {
				return err
			}
			if _, err := startDaemon(); err != nil {
				return err
			}
			if wasRunning {
				fmt.Println("Daemon restarted")
			} else {
				fmt.Println("Daemon started (was not running)")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := daemon.FindRuntime()
			if err != nil {
				fmt.Println("Daemon not running")
				return nil
			}
			fmt.Printf("Daemon running (pid %d)\n", info.PID)
			fmt.Printf("  Address: http://%s\n", info.Addr)
			fmt.Printf("  Version: %s\n", info.Version)
			started, _ := time.Parse(time.RFC3339, info.StartedAt)
			fmt.Printf("  Started: %s\n", timeAgo(started))
			return nil
		},
	})

	return cmd
}
