package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon health and live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			health, err := client.Health()
			if err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}

			if jsonOut {
				data, err := json.MarshalIndent(health, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Status: %s\n", health.Status)
			fmt.Printf("Version: %s\n", health.Version)
			fmt.Printf("PID: %d\n", health.PID)
			fmt.Printf("Uptime: %s\n", health.Uptime)
			fmt.Printf("Active sessions: %d\n", health.ActiveSessions)
			for _, s := range health.Sessions {
				fmt.Printf("  %s (%s) iteration %d, last reviewed %s\n",
					s.Name, s.Root, s.Iteration, timeAgo(s.LastReviewedAt))
			}
			if len(health.RateLimits) > 0 {
				fmt.Println("Rate limit tokens:")
				for key, tokens := range health.RateLimits {
					fmt.Printf("  %s: %.1f\n", key, tokens)
				}
			}
			if health.Errors24h > 0 {
				fmt.Printf("Errors (24h): %d\n", health.Errors24h)
				for _, e := range health.RecentErrors {
					fmt.Printf("  [%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Component, e.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print health as JSON")

	return cmd
}
