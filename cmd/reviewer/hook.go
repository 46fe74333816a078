package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackyshang/AICodeReviewer/internal/git"
	"github.com/jackyshang/AICodeReviewer/internal/githook"
	"github.com/spf13/cobra"
)

func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Manage the pre-push review hook",
	}

	cmd.AddCommand(hookInstallCmd())
	cmd.AddCommand(hookUninstallCmd())

	return cmd
}

func hookInstallCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the pre-push hook in the current repository",
		Long: `Install a pre-push hook that reviews uncommitted changes and
blocks the push when the review reports issues. Existing shell hooks
are preserved: the review snippet is embedded after the shebang.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := git.RepoRoot(cmd.Context(), ".")
			if err != nil {
				return fmt.Errorf("not a git repository: %w", err)
			}

			hooksDir, err := git.HooksPath(cmd.Context(), root)
			if err != nil {
				return fmt.Errorf("get hooks path: %w", err)
			}

			if err := os.MkdirAll(hooksDir, 0755); err != nil {
				return fmt.Errorf("create hooks directory: %w", err)
			}

			return githook.Install(hooksDir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing hook")

	return cmd
}

func hookUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the pre-push hook from the current repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := git.RepoRoot(cmd.Context(), ".")
			if err != nil {
				return fmt.Errorf("not a git repository: %w", err)
			}

			hooksDir, err := git.HooksPath(cmd.Context(), root)
			if err != nil {
				return fmt.Errorf("get hooks path: %w", err)
			}

			return githook.Uninstall(filepath.Join(hooksDir, githook.HookName))
		},
	}
}
