package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jackyshang/AICodeReviewer/internal/archive"
	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/git"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		limit       int
		allProjects bool
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived reviews",
		Long: `List archived reviews, newest first.

Completed reviews are archived outside the live session store, so
history survives daemon restarts and session clears. By default only
the current repository's reviews are listed; use --all for every
project.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			projectRoot := ""
			if !allProjects {
				root, err := git.RepoRoot(cmd.Context(), ".")
				if err != nil {
					return fmt.Errorf("not a git repository (use --all for every project)")
				}
				projectRoot = root
			}

			records, err := store.ListReviews(cmd.Context(), projectRoot, limit)
			if err != nil {
				return fmt.Errorf("list archived reviews: %w", err)
			}

			if jsonOut {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(records) == 0 {
				fmt.Println("No archived reviews.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSESSION\tITER\tMODE\tISSUES\tWHEN")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
					shortID(r.ID), r.SessionName, r.Iteration, r.Mode, r.Issues, timeAgo(r.CreatedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of reviews to list")
	cmd.Flags().BoolVar(&allProjects, "all", false, "list reviews for every project")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print records as JSON")

	cmd.AddCommand(historyShowCmd())

	return cmd
}

func historyShowCmd() *cobra.Command {
	var (
		jsonOut bool
		showNav bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one archived review",
		Long: `Show one archived review, including its full text.

The ID may be abbreviated to any unique prefix (the listing prints the
first 8 characters). --nav appends the navigation trail: every file the
model read and every search it ran during the review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := findReview(cmd, store, args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Review %s (session %s, iteration %d)\n", shortID(rec.ID), rec.SessionName, rec.Iteration)
			fmt.Printf("  Project: %s\n", rec.ProjectRoot)
			fmt.Printf("  Mode: %s\n", rec.Mode)
			fmt.Printf("  Model: %s\n", rec.Model)
			fmt.Printf("  Tokens: %d in / %d out\n", rec.InputTokens, rec.OutputTokens)
			if rec.Exhausted {
				fmt.Printf("  Iterations: %d (budget exhausted)\n", rec.Iterations)
			} else {
				fmt.Printf("  Iterations: %d\n", rec.Iterations)
			}
			fmt.Printf("  Archived: %s\n", timeAgo(rec.CreatedAt))
			fmt.Println(strings.Repeat("-", 60))
			fmt.Println(rec.Review)

			if showNav && len(rec.Navigation) > 0 {
				fmt.Println(strings.Repeat("-", 60))
				fmt.Printf("Navigation (%d calls):\n", len(rec.Navigation))
				for i, nc := range rec.Navigation {
					fmt.Printf("%3d. %s %s\n", i+1, nc.Function, nc.Args)
					if nc.Preview != "" {
						fmt.Printf("     %s\n", nc.Preview)
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the record as JSON")
	cmd.Flags().BoolVar(&showNav, "nav", false, "include the navigation trail")

	return cmd
}

// openArchive opens the configured archive backend. The archive is a
// plain database (local SQLite or shared Postgres), so reading it does
// not require the daemon.
func openArchive(cmd *cobra.Command) (archive.Store, error) {
	cfg, err := config.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := archive.Open(cmd.Context(), cfg.ArchiveBackend, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open review archive: %w", err)
	}
	return store, nil
}

// prefixScanLimit bounds the listing used to resolve abbreviated IDs.
const prefixScanLimit = 10000

// findReview fetches a record by ID, resolving unique ID prefixes the
// way the listing displays them.
func findReview(cmd *cobra.Command, store archive.Store, id string) (*archive.Record, error) {
	rec, err := store.GetReview(cmd.Context(), id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch review: %w", err)
	}

	records, err := store.ListReviews(cmd.Context(), "", prefixScanLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch review: %w", err)
	}
	match := ""
	for _, r := range records {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != "" && match != r.ID {
			return nil, fmt.Errorf("review ID %q is ambiguous", id)
		}
		match = r.ID
	}
	if match == "" {
		return nil, fmt.Errorf("no archived review %q", id)
	}
	return store.GetReview(cmd.Context(), match)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
