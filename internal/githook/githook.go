// Package githook manages reviewer's pre-push hook: installation,
// upgrade, and removal. It supports both standalone hooks (fresh
// installs) and embedded snippets that coexist with existing hook
// scripts.
package githook

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNonShellHook is returned when a hook uses a non-shell
// interpreter and cannot be safely modified.
var ErrNonShellHook = errors.New("non-shell interpreter")

// HookName is the hook reviewer installs. The pre-push hook reviews
// uncommitted work in critical mode and blocks the push when the
// review finds issues.
const HookName = "pre-push"

// PrePushVersionMarker identifies the current hook template version.
// Bump it when the template changes to trigger upgrades on install.
const PrePushVersionMarker = "reviewer pre-push hook v1"

// ReadFile is the function used to re-read a hook file after cleanup
// during upgrade. Replaceable in tests to simulate read failures.
var ReadFile = os.ReadFile

// NeedsUpgrade checks whether the repo's pre-push hook contains
// reviewer but is outdated (missing the current version marker).
func NeedsUpgrade(hooksDir string) bool {
	content, err := os.ReadFile(filepath.Join(hooksDir, HookName))
	if err != nil {
		return false
	}
	s := string(content)
	return strings.Contains(strings.ToLower(s), "reviewer") &&
		!strings.Contains(s, PrePushVersionMarker)
}

// NotInstalled checks whether the pre-push hook file is absent or
// does not contain any reviewer content.
func NotInstalled(hooksDir string) bool {
	content, err := os.ReadFile(filepath.Join(hooksDir, HookName))
	if err != nil {
		return os.IsNotExist(err)
	}
	return !strings.Contains(strings.ToLower(string(content)), "reviewer")
}

// resolveReviewerPath returns the absolute path to the running
// reviewer binary, falling back to a PATH lookup.
func resolveReviewerPath() string {
	reviewerPath, err := os.Executable()
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(reviewerPath); err == nil {
			reviewerPath = resolved
		}
		return reviewerPath
	}
	reviewerPath, _ = exec.LookPath("reviewer")
	if reviewerPath == "" {
		reviewerPath = "reviewer"
	}
	return reviewerPath
}

// GeneratePrePush returns a standalone pre-push hook (with shebang,
// suitable for fresh installs).
func GeneratePrePush() string {
	return fmt.Sprintf(`#!/bin/sh
# %s - blocks pushes while uncommitted work has critical issues
REVIEWER=%q
if [ ! -x "$REVIEWER" ]; then
    REVIEWER=$(command -v reviewer 2>/dev/null)
    [ -z "$REVIEWER" ] || [ ! -x "$REVIEWER" ] && exit 0
fi
"$REVIEWER" --fail-on-issues
`, PrePushVersionMarker, resolveReviewerPath())
}

// generateEmbeddable returns a function-wrapped snippet without
// shebang, for embedding in existing hooks. The function uses return
// so a missing binary doesn't terminate the parent script, but a
// failed review still exits to block the push.
func generateEmbeddable() string {
	return fmt.Sprintf(`# %s - blocks pushes while uncommitted work has critical issues
_reviewer_hook() {
REVIEWER=%q
if [ ! -x "$REVIEWER" ]; then
    REVIEWER=$(command -v reviewer 2>/dev/null)
    [ -z "$REVIEWER" ] || [ ! -x "$REVIEWER" ] && return 0
fi
"$REVIEWER" --fail-on-issues
}
_reviewer_hook || exit 1
`, PrePushVersionMarker, resolveReviewerPath())
}

// embedSnippet inserts snippet after the shebang line of existing, so
// it runs before any possible exit in the original script. If there
// is no shebang, the snippet is prepended.
func embedSnippet(existing, snippet string) string {
	lines := strings.SplitAfter(existing, "\n")
	if len(lines) > 0 &&
		strings.HasPrefix(strings.TrimSpace(lines[0]), "#!") {
		shebang := lines[0]
		if !strings.HasSuffix(shebang, "\n") {
			shebang += "\n"
		}
		return shebang + snippet + strings.Join(lines[1:], "")
	}
	return snippet + existing
}

// Install installs or upgrades the pre-push hook. It handles:
//   - No existing hook: write standalone content
//   - Existing without reviewer: embed snippet after shebang
//   - Existing with current version: skip (no-op)
//   - Existing with old version: remove old, embed new
//   - force=true: overwrite unconditionally
func Install(hooksDir string, force bool) error {
	hookPath := filepath.Join(hooksDir, HookName)
	hookContent := GeneratePrePush()

	existing, err := os.ReadFile(hookPath)
	if err == nil && !force {
		existingStr := string(existing)
		if !strings.Contains(strings.ToLower(existingStr), "reviewer") {
			if !isShellHook(existingStr) {
				return fmt.Errorf(
					"%s hook: %w; add the reviewer snippet "+
						"manually or use --force to overwrite",
					HookName, ErrNonShellHook)
			}
			hookContent = embedSnippet(existingStr, generateEmbeddable())
		} else if strings.Contains(existingStr, PrePushVersionMarker) {
			fmt.Printf("%s hook already installed (current)\n", HookName)
			return nil
		} else {
			// Upgrade: remove old snippet, embed new one
			if !isShellHook(existingStr) {
				return fmt.Errorf(
					"%s hook: %w; add the reviewer snippet "+
						"manually or use --force to overwrite",
					HookName, ErrNonShellHook)
			}
			if rmErr := Uninstall(hookPath); rmErr != nil {
				return fmt.Errorf("upgrade %s: %w", HookName, rmErr)
			}
			updated, readErr := ReadFile(hookPath)
			if readErr != nil && !os.IsNotExist(readErr) {
				return fmt.Errorf(
					"re-read %s after cleanup: %w", HookName, readErr)
			}
			if readErr == nil {
				hookContent = embedSnippet(string(updated), generateEmbeddable())
			}
			// If the file was deleted (snippet-only), hookContent is
			// the fresh standalone content.
		}
	}

	if err := os.WriteFile(hookPath, []byte(hookContent), 0755); err != nil {
		return fmt.Errorf("write %s hook: %w", HookName, err)
	}
	fmt.Printf("Installed %s hook at %s\n", HookName, hookPath)
	return nil
}

// Uninstall removes the reviewer block from a hook file, or deletes
// it entirely if nothing else remains.
func Uninstall(hookPath string) error {
	content, err := os.ReadFile(hookPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(hookPath), err)
	}

	hookStr := string(content)
	if !strings.Contains(strings.ToLower(hookStr), "reviewer") {
		return nil
	}

	lines := strings.Split(hookStr, "\n")

	blockStart := -1
	for i, line := range lines {
		if isReviewerMarker(line) {
			blockStart = i
			break
		}
	}
	if blockStart < 0 {
		return nil
	}

	blockEnd := blockStart
	inIfBlock := false
	inFuncBlock := false
	for i := blockStart + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			if i+1 < len(lines) && isReviewerSnippetLine(lines[i+1]) {
				blockEnd = i
				continue
			}
			break
		}
		if isReviewerSnippetLine(trimmed) {
			blockEnd = i
			if strings.HasPrefix(trimmed, "if ") {
				inIfBlock = true
			}
			if strings.HasSuffix(trimmed, "() {") {
				inFuncBlock = true
			}
			continue
		}
		if trimmed == "fi" && inIfBlock {
			blockEnd = i
			inIfBlock = false
			continue
		}
		if trimmed == "}" && inFuncBlock {
			blockEnd = i
			inFuncBlock = false
			continue
		}
		break
	}

	remaining := make([]string, 0, len(lines))
	remaining = append(remaining, lines[:blockStart]...)
	remaining = append(remaining, lines[blockEnd+1:]...)

	hasContent := false
	for _, line := range remaining {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#!") {
			hasContent = true
			break
		}
	}

	hookName := filepath.Base(hookPath)
	if hasContent {
		newContent := strings.Join(remaining, "\n")
		if !strings.HasSuffix(newContent, "\n") {
			newContent += "\n"
		}
		if err := os.WriteFile(hookPath, []byte(newContent), 0755); err != nil {
			return fmt.Errorf("write %s: %w", hookName, err)
		}
		fmt.Printf("Removed reviewer from %s\n", hookName)
	} else {
		if err := os.Remove(hookPath); err != nil {
			return fmt.Errorf("remove %s: %w", hookName, err)
		}
		fmt.Printf("Removed %s hook\n", hookName)
	}
	return nil
}

// isShellHook returns true if the hook content starts with a
// POSIX-compatible shell shebang.
func isShellHook(content string) bool {
	first, _, _ := strings.Cut(content, "\n")
	first = strings.TrimSpace(first)
	for _, sh := range []string{
		"sh", "bash", "zsh", "ksh", "dash",
	} {
		if strings.HasPrefix(first, "#!/bin/"+sh) ||
			strings.HasPrefix(first, "#!/usr/bin/env "+sh) {
			return true
		}
	}
	return false
}

// isReviewerMarker returns true if the line is a generated reviewer
// hook marker comment.
func isReviewerMarker(line string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(line))
	return strings.HasPrefix(trimmed, "# reviewer pre-push hook")
}

// hasCommandPrefix checks if line starts with prefix and the prefix
// is followed by end-of-string, whitespace, or a shell operator.
func hasCommandPrefix(line, prefix string) bool {
	if !strings.HasPrefix(line, prefix) {
		return false
	}
	if len(line) == len(prefix) {
		return true
	}
	next := line[len(prefix)]
	return next == ' ' || next == '\t' || next == '>' ||
		next == '|' || next == '&' || next == ';'
}

// isReviewerSnippetLine returns true if the line is part of a
// generated reviewer hook snippet.
func isReviewerSnippetLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.HasPrefix(trimmed, "REVIEWER=") ||
		strings.HasPrefix(trimmed, "REVIEWER=$(") ||
		hasCommandPrefix(trimmed, "\"$REVIEWER\" --fail-on-issues") ||
		strings.HasPrefix(trimmed, "if [ ! -x \"$REVIEWER\"") ||
		strings.HasPrefix(trimmed, "if [ -z \"$REVIEWER\"") ||
		strings.HasPrefix(trimmed, "[ -z \"$REVIEWER\"") ||
		strings.HasPrefix(trimmed, "[ ! -x \"$REVIEWER\"") ||
		trimmed == "return 0" ||
		strings.HasPrefix(trimmed, "_reviewer_hook")
}
