// Package review drives one code review: it runs the tool-calling
// loop against a reasoning model, executes requested navigation
// operations through the sandbox, and accounts history and tokens.
package review

import "github.com/jackyshang/AICodeReviewer/internal/llm"

// previewLen is the history preview truncation length.
const previewLen = 200

// HistoryEntry records one tool call the model requested. Failed
// calls are recorded too, with the error text as the preview.
type HistoryEntry struct {
	Function      string         `json:"function"`
	Args          map[string]any `json:"args"`
	ResultPreview string         `json:"result_preview"`
	Error         bool           `json:"error,omitempty"`
}

// NavigationSummary is derived from the history: how much of the
// codebase the model actually touched.
type NavigationSummary struct {
	TotalFilesExplored   int `json:"total_files_explored"`
	SymbolsSearched      int `json:"symbols_searched"`
	TotalNavigationCalls int `json:"total_navigation_calls"`
}

// TokenDetails accumulates usage across every turn of the loop.
type TokenDetails struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is the outcome of one review run. BudgetExhausted marks the
// soft-cap termination mode: the iteration budget ran out while the
// model still wanted tools, as opposed to the model finishing on its
// own.
type Result struct {
	ReviewContent     string            `json:"review_content"`
	NavigationHistory []HistoryEntry    `json:"navigation_history"`
	Iterations        int               `json:"iterations"`
	BudgetExhausted   bool              `json:"budget_exhausted"`
	NavigationSummary NavigationSummary `json:"navigation_summary"`
	TokenDetails      TokenDetails      `json:"token_details"`
}

func (r *Result) addUsage(u llm.Usage) {
	r.TokenDetails.InputTokens += u.InputTokens
	r.TokenDetails.OutputTokens += u.OutputTokens
	r.TokenDetails.TotalTokens += u.TotalTokens
}

func (r *Result) record(call llm.ToolCall, result string, failed bool) {
	r.NavigationHistory = append(r.NavigationHistory, HistoryEntry{
		Function:      call.Name,
		Args:          call.Args,
		ResultPreview: preview(result),
		Error:         failed,
	})
}

// summarize fills NavigationSummary from the recorded history. Failed
// calls count toward the total but not toward files or symbols.
func (r *Result) summarize() {
	var files, symbols int
	for _, h := range r.NavigationHistory {
		if h.Error {
			continue
		}
		switch h.Function {
		case "read_file":
			files++
		case "search_symbol", "find_usages":
			symbols++
		}
	}
	r.NavigationSummary = NavigationSummary{
		TotalFilesExplored:   files,
		SymbolsSearched:      symbols,
		TotalNavigationCalls: len(r.NavigationHistory),
	}
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
