package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackyshang/AICodeReviewer/internal/git"
	"github.com/jackyshang/AICodeReviewer/internal/session"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage review sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List live sessions across all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions()
		},
	})

	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsClearCmd())

	return cmd
}

func listSessions() error {
	client, err := daemonClient()
	if err == ErrDaemonNotRunning {
		fmt.Println("Daemon not running; no active sessions.")
		return nil
	} else if err != nil {
		return err
	}

	sessions, err := client.Sessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROJECT\tITER\tMESSAGES\tISSUES\tLAST REVIEWED")
	for _, s := range sessions {
		issues := "-"
		if s.LastIssues != nil {
			issues = fmt.Sprintf("%d", *s.LastIssues)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.Name, s.Root, s.Iteration, s.MessageCount, issues, timeAgo(s.LastReviewedAt))
	}
	return w.Flush()
}

func sessionsShowCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one session of the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := git.RepoRoot(cmd.Context(), ".")
			if err != nil {
				return fmt.Errorf("not a git repository: %w", err)
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}

			info, err := client.Session(root, args[0])
			if err != nil {
				return fmt.Errorf("fetch session: %w", err)
			}
			if info == nil {
				return fmt.Errorf("no session %q for this project", args[0])
			}

			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			printSessionInfo(info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the session as JSON")

	return cmd
}

func printSessionInfo(info *session.Info) {
	fmt.Printf("Session: %s\n", info.Name)
	fmt.Printf("  Project: %s\n", info.Root)
	fmt.Printf("  Model: %s\n", info.Model)
	fmt.Printf("  Iteration: %d\n", info.Iteration)
	fmt.Printf("  Messages: %d\n", info.MessageCount)
	fmt.Printf("  Created: %s\n", timeAgo(info.CreatedAt))
	fmt.Printf("  Last reviewed: %s\n", timeAgo(info.LastReviewedAt))
	if info.LastIssues != nil {
		fmt.Printf("  Last issues: %d\n", *info.LastIssues)
	}
}

func sessionsClearCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [<name>]",
		Short: "Clear one session of the current project, or --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemonClient()
			if err == ErrDaemonNotRunning {
				fmt.Println("Daemon not running; no sessions to clear.")
				return nil
			} else if err != nil {
				return err
			}

			if all {
				n, err := client.ClearAllSessions()
				if err != nil {
					return fmt.Errorf("clear sessions: %w", err)
				}
				fmt.Printf("Cleared %d session(s)\n", n)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("specify a session name or --all")
			}
			root, err := git.RepoRoot(cmd.Context(), ".")
			if err != nil {
				return fmt.Errorf("not a git repository: %w", err)
			}
			if err := client.ClearSession(root, args[0]); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Printf("Session %q cleared\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear every session across all projects")

	return cmd
}
