package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/daemon"
	"github.com/jackyshang/AICodeReviewer/internal/git"
	"github.com/jackyshang/AICodeReviewer/internal/index"
	"github.com/jackyshang/AICodeReviewer/internal/llm"
	"github.com/jackyshang/AICodeReviewer/internal/prompt"
	"github.com/jackyshang/AICodeReviewer/internal/review"
	"github.com/jackyshang/AICodeReviewer/internal/sandbox"
	"github.com/jackyshang/AICodeReviewer/internal/session"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// reviewOptions collects the flags of the root command.
type reviewOptions struct {
	full        bool
	ai          bool
	prototype   bool
	aiPrototype bool

	model            string
	provider         string
	designDoc        string
	story            string
	sessionName      string
	noSession        bool
	maxIterations    int
	includeUnchanged bool
	outputFile       string
	noRateLimit      bool
	jsonOut          bool
	indexFile        string
	failOnIssues     bool
}

// mode maps the mode flags to a prompt mode. --ai and --prototype
// combine into ai-prototype, same as passing --ai-prototype directly.
// Empty defers to per-repo config, then the critical default.
func (o *reviewOptions) mode() string {
	ai := o.ai || o.aiPrototype
	proto := o.prototype || o.aiPrototype
	switch {
	case ai && proto:
		return prompt.ModeAIPrototype
	case ai:
		return prompt.ModeAI
	case proto:
		return prompt.ModePrototype
	case o.full:
		return prompt.ModeFull
	default:
		return ""
	}
}

func reviewCmd() *cobra.Command {
	opts := &reviewOptions{}

	cmd := &cobra.Command{
		Use:   "reviewer",
		Short: "AI code review of uncommitted changes",
		Long: "reviewer reviews the uncommitted changes in the current git repository\n" +
			"with a reasoning model that explores the codebase through navigation tools.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runReview(cmd.Context(), opts)
			// --fail-on-issues exits are not usage errors; keep cobra
			// from printing the error and help text on top of the review
			if _, isExitErr := err.(*exitError); isExitErr {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "comprehensive review instead of critical-only")
	cmd.Flags().BoolVar(&opts.ai, "ai", false, "extra scrutiny for AI-generated code")
	cmd.Flags().BoolVar(&opts.prototype, "prototype", false, "relax production concerns for prototype code")
	cmd.Flags().BoolVar(&opts.aiPrototype, "ai-prototype", false, "AI-generated prototype review (same as --ai --prototype)")
	cmd.Flags().StringVar(&opts.model, "model", "", "model to use (default from config)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider: gemini or openai (default from config)")
	cmd.Flags().StringVar(&opts.designDoc, "design-doc", "", "path to design document (default: README.md in repo root)")
	cmd.Flags().StringVar(&opts.story, "story", "", "purpose of the changes: literal text or a file inside the repo")
	cmd.Flags().StringVarP(&opts.sessionName, "session-name", "s", "", "named session so follow-up reviews keep context")
	cmd.Flags().BoolVar(&opts.noSession, "no-session", false, "one-shot review without session continuity")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "navigation iteration budget (default from config)")
	cmd.Flags().BoolVar(&opts.includeUnchanged, "include-unchanged", false, "review even when no uncommitted changes exist")
	cmd.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "write the review to a file")
	cmd.Flags().BoolVar(&opts.noRateLimit, "no-rate-limit", false, "run in-process without admission control (no daemon, no session)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	cmd.Flags().StringVar(&opts.indexFile, "index", "", "path to a pre-built codebase index (JSON)")
	cmd.Flags().BoolVar(&opts.failOnIssues, "fail-on-issues", false, "exit 1 when the review finds issues")

	return cmd
}

func runReview(ctx context.Context, opts *reviewOptions) error {
	root, err := git.RepoRoot(ctx, ".")
	if err != nil {
		return fmt.Errorf("not a git repository: %w", err)
	}

	cfg, err := config.LoadGlobal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	mode := config.ResolveMode(opts.mode(), root)
	model := config.ResolveModel(opts.model, root, cfg)
	providerName := config.ResolveProvider(opts.provider, root, cfg)
	maxIterations := config.ResolveMaxIterations(opts.maxIterations, root, cfg)

	changes, err := git.UncommittedChanges(ctx, root)
	if err != nil {
		return fmt.Errorf("detect changes: %w", err)
	}
	if changes.Empty() && !opts.includeUnchanged {
		fmt.Println("No uncommitted changes found.")
		return nil
	}
	if verbose {
		fmt.Printf("Found %d changed files in %s\n", changes.Count(), root)
	}

	diffs, err := git.Diffs(ctx, root, changes)
	if err != nil {
		return fmt.Errorf("collect diffs: %w", err)
	}

	in := prompt.Input{Changes: changes, Diffs: diffs}

	var idx *index.Index
	var rawIndex []byte
	if opts.indexFile != "" {
		rawIndex, err = os.ReadFile(opts.indexFile)
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		idx, err = index.Parse(rawIndex)
		if err != nil {
			return fmt.Errorf("parse index %s: %w", opts.indexFile, err)
		}
		in.Overview = idx.Overview()
	}

	if in.DesignDoc, err = readDesignDoc(root, opts.designDoc); err != nil {
		return err
	}
	if in.Story, err = readStory(root, opts.story); err != nil {
		return err
	}

	reviewContext := prompt.NewBuilder(mode).Build(in)
	if verbose {
		fmt.Printf("Initial context size: %d characters\n", len(reviewContext))
	}

	var resp *session.Response
	if opts.noRateLimit {
		resp, err = runLocalReview(ctx, cfg, root, reviewContext, providerName, model, maxIterations, idx, opts)
	} else {
		resp, err = runDaemonReview(root, reviewContext, mode, providerName, model, maxIterations, rawIndex, opts)
	}
	if err != nil {
		return err
	}

	return displayResponse(resp, mode, opts)
}

// runDaemonReview sends the prepared context to the daemon, starting
// one if needed, and blocks until the result is ready.
func runDaemonReview(root, reviewContext, mode, provider, model string, maxIterations int, rawIndex []byte, opts *reviewOptions) (*session.Response, error) {
	client, err := ensureDaemon()
	if err != nil {
		return nil, err
	}

	stop := startProgress("🤖 Reviewing code...")
	resp, err := client.Review(daemon.ReviewRequest{
		ProjectRoot:   root,
		SessionName:   opts.sessionName,
		NoSession:     opts.noSession,
		Context:       reviewContext,
		Mode:          mode,
		Provider:      provider,
		Model:         model,
		MaxIterations: maxIterations,
		Index:         rawIndex,
	})
	stop(err == nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runLocalReview drives the review loop inside this process. Sessions
// live in the daemon, so local reviews are one-shot; this is also the
// only path that skips admission control.
func runLocalReview(ctx context.Context, cfg *config.Config, root, reviewContext, providerName, model string, maxIterations int, idx *index.Index, opts *reviewOptions) (*session.Response, error) {
	if opts.sessionName != "" {
		fmt.Fprintln(os.Stderr, "Warning: sessions require the daemon; running a one-shot review instead")
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider: providerName,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	handle, err := provider.NewConversation(model)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	defer handle.Close()

	nav, err := sandbox.NewNavigator(root, idx)
	if err != nil {
		return nil, err
	}

	stop := startProgress("🤖 Reviewing code...")
	result, err := review.NewLoop(handle, nav, nil, maxIterations).Run(ctx, reviewContext)
	stop(err == nil)
	if err != nil {
		return nil, err
	}

	issues := review.CountIssueMarkers(result.ReviewContent)
	return &session.Response{
		Session: session.Info{
			Root:         root,
			Model:        model,
			MessageCount: handle.MessageCount(),
			LastIssues:   &issues,
		},
		Status: "new",
		Result: result,
	}, nil
}

// readDesignDoc loads the design document. An explicit path that
// cannot be read is an error; the README.md default is best-effort.
func readDesignDoc(root, path string) (string, error) {
	if path == "" {
		data, err := os.ReadFile(filepath.Join(root, "README.md"))
		if err != nil {
			return "", nil
		}
		if verbose {
			fmt.Printf("Using design document: %s\n", filepath.Join(root, "README.md"))
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read design document: %w", err)
	}
	if verbose {
		fmt.Printf("Using design document: %s\n", path)
	}
	return string(data), nil
}

// readStory resolves the --story argument, which is either literal
// text or a path to a file. Story files must live inside the
// repository: this flag must not become a way to read arbitrary
// paths into the model's context.
func readStory(root, story string) (string, error) {
	if story == "" {
		return "", nil
	}

	info, err := os.Stat(story)
	if err != nil || !info.Mode().IsRegular() {
		return story, nil
	}

	abs, err := filepath.Abs(story)
	if err != nil {
		return "", fmt.Errorf("resolve story path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	resolvedRoot := root
	if r, err := filepath.EvalSymlinks(root); err == nil {
		resolvedRoot = r
	}
	if abs != resolvedRoot && !strings.HasPrefix(abs, resolvedRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("story file %q is outside the repository; only files within the project directory can be read", story)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read story file %q: %w", story, err)
	}
	return string(data), nil
}

// displayResponse prints the review result and handles --json,
// --output-file, and --fail-on-issues.
func displayResponse(resp *session.Response, mode string, opts *reviewOptions) error {
	if opts.jsonOut {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printSessionStatus(resp, opts)
		if resp.Result != nil {
			fmt.Println(resp.Result.ReviewContent)
			printReviewStats(resp.Result)
		}
	}

	if opts.outputFile != "" && resp.Result != nil {
		if err := writeReviewFile(opts.outputFile, resp, mode); err != nil {
			return fmt.Errorf("save review: %w", err)
		}
		if !opts.jsonOut {
			fmt.Printf("Review saved to: %s\n", opts.outputFile)
		}
	}

	if opts.failOnIssues && resp.Result != nil {
		if review.CountIssueMarkers(resp.Result.ReviewContent) > 0 {
			return &exitError{code: 1}
		}
	}
	return nil
}

func printSessionStatus(resp *session.Response, opts *reviewOptions) {
	if resp.Session.Name == "" || opts.noSession {
		return
	}
	if resp.Status == "new" {
		fmt.Printf("🆕 Starting NEW review session: %s\n", resp.Session.Name)
	} else {
		fmt.Printf("🔄 CONTINUING review session: %s (iteration %d)\n", resp.Session.Name, resp.Session.Iteration)
		fmt.Printf("💬 Conversation history: %d messages\n", resp.Session.MessageCount)
		if resp.PreviousIssues != nil {
			fmt.Printf("📋 Previous issues: %d\n", *resp.PreviousIssues)
		}
	}
	fmt.Println()
}

func printReviewStats(result *review.Result) {
	if result.BudgetExhausted {
		fmt.Fprintln(os.Stderr, "Warning: iteration budget exhausted; the review may be incomplete")
	}
	if !verbose {
		return
	}

	nav := result.NavigationSummary
	fmt.Printf("\nNavigation: %d calls (%d files explored, %d symbols searched) in %d iterations\n",
		nav.TotalNavigationCalls, nav.TotalFilesExplored, nav.SymbolsSearched, result.Iterations)

	t := result.TokenDetails
	fmt.Println("\n📊 Token Usage:")
	fmt.Printf("  Input tokens: %d\n", t.InputTokens)
	fmt.Printf("  Output tokens: %d\n", t.OutputTokens)
	fmt.Printf("  Total tokens: %d\n", t.TotalTokens)
}

// writeReviewFile saves the review as a small markdown document.
func writeReviewFile(path string, resp *session.Response, mode string) error {
	var sb strings.Builder
	sb.WriteString("# Code Review\n\n")
	fmt.Fprintf(&sb, "- Date: %s\n", time.Now().Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "- Mode: %s\n", mode)
	if resp.Session.Model != "" {
		fmt.Fprintf(&sb, "- Model: %s\n", resp.Session.Model)
	}
	if resp.Session.Name != "" {
		fmt.Fprintf(&sb, "- Session: %s (iteration %d)\n", resp.Session.Name, resp.Session.Iteration)
	}
	sb.WriteString("\n")
	sb.WriteString(resp.Result.ReviewContent)
	if !strings.HasSuffix(resp.Result.ReviewContent, "\n") {
		sb.WriteString("\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// startProgress prints a progress line when stdout is an interactive
// terminal. Returns a func to call on completion; pass false to leave
// the line as-is on failure.
func startProgress(msg string) func(ok bool) {
	if verbose || !isatty.IsTerminal(os.Stdout.Fd()) {
		return func(bool) {}
	}
	fmt.Println(msg)
	start := time.Now()
	return func(ok bool) {
		if ok {
			fmt.Printf("Done in %s.\n\n", time.Since(start).Round(time.Second))
		}
	}
}
