package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/llm"
	"github.com/jackyshang/AICodeReviewer/internal/ratelimit"
	"github.com/jackyshang/AICodeReviewer/internal/sandbox"
)

const (
	// DefaultMaxIterations bounds the tool-calling loop when the caller
	// does not set a budget.
	DefaultMaxIterations = 20

	// acquireTimeout bounds each wait for a rate-limit slot. Waiting
	// longer than this means the limiter is saturated and the review
	// should fail rather than hang.
	acquireTimeout = 30 * time.Second
)

// ErrRateLimited reports that a request slot could not be acquired
// within the acquire timeout.
var ErrRateLimited = errors.New("rate limit exceeded: request timed out waiting for a slot")

// Loop runs one review conversation: it sends the prompt, executes
// the navigation calls the model requests, and feeds results back
// until the model answers without tools or the iteration budget runs
// out. A Loop is single-use and not safe for concurrent use.
type Loop struct {
	handle  llm.Handle
	nav     *sandbox.Navigator
	limiter *ratelimit.Limiter
	maxIter int
}

// NewLoop wires a conversation handle to a navigator. limiter may be
// nil, in which case sends are not throttled. maxIterations <= 0
// selects the default budget.
func NewLoop(handle llm.Handle, nav *sandbox.Navigator, limiter *ratelimit.Limiter, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		handle:  handle,
		nav:     nav,
		limiter: limiter,
		maxIter: maxIterations,
	}
}

// admit blocks until the limiter grants a request slot. Every send to
// the model goes through here, including the initial prompt.
func (l *Loop) admit() error {
	if l.limiter == nil {
		return nil
	}
	if !l.limiter.Acquire(acquireTimeout) {
		return ErrRateLimited
	}
	return nil
}

// Run drives the review to completion. An iteration is one round of
// executing tool calls and sending their results back. The returned
// result always carries the full navigation history and accumulated
// token usage; BudgetExhausted is set when the budget ran out while
// the model still wanted tools.
func (l *Loop) Run(ctx context.Context, prompt string) (*Result, error) {
	res := &Result{NavigationHistory: []HistoryEntry{}}

	if err := l.admit(); err != nil {
		return nil, err
	}
	turn, err := l.handle.Send(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("sending review prompt: %w", err)
	}
	res.addUsage(turn.Usage)

	for res.Iterations < l.maxIter {
		if len(turn.ToolCalls) == 0 {
			break
		}
		results := l.executeCalls(res, turn.ToolCalls)

		if err := l.admit(); err != nil {
			return nil, err
		}
		turn, err = l.handle.SendToolResults(ctx, results)
		if err != nil {
			return nil, fmt.Errorf("sending tool results: %w", err)
		}
		res.addUsage(turn.Usage)
		res.Iterations++
	}

	res.BudgetExhausted = len(turn.ToolCalls) > 0
	res.ReviewContent = turn.Text
	res.summarize()
	return res, nil
}

// executeCalls runs each requested call against the sandbox. Failures
// become tool results rather than loop errors; the model sees the
// error text and can route around it.
func (l *Loop) executeCalls(res *Result, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		out, err := l.dispatch(call)
		failed := err != nil
		if failed {
			out = err.Error()
		}
		res.record(call, out, failed)
		results = append(results, llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: out,
		})
	}
	return results
}

func (l *Loop) dispatch(call llm.ToolCall) (string, error) {
	switch call.Name {
	case "read_file":
		return l.nav.ReadFile(stringArg(call.Args, "filepath"))

	case "search_symbol":
		return encodeJSON(l.nav.SearchSymbol(stringArg(call.Args, "symbol_name"))), nil

	case "find_usages":
		matches, err := l.nav.FindUsages(stringArg(call.Args, "symbol_name"))
		if err != nil {
			return "", err
		}
		return encodeJSON(matches), nil

	case "get_imports":
		return encodeJSON(l.nav.GetImports(stringArg(call.Args, "filepath"))), nil

	case "get_file_tree":
		return l.nav.FileTree(), nil

	case "search_text":
		matches, err := l.nav.SearchText(stringArg(call.Args, "pattern"), stringArg(call.Args, "file_pattern"))
		if err != nil {
			return "", err
		}
		return encodeJSON(matches), nil
	}
	return "", fmt.Errorf("Error: Unknown function: %s", call.Name)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// encodeJSON renders structured tool output for the model. Nil slices
// come out as an empty JSON array, never null.
func encodeJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}
