package llm

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// NavigationTools returns the tool declarations for the six navigation
// operations. The names and argument keys are the dispatch contract
// shared with the review loop.
func NavigationTools() []openai.Tool {
	return []openai.Tool{
		functionTool("read_file",
			"Read and return the content of a file",
			`{
				"type": "object",
				"properties": {
					"filepath": {
						"type": "string",
						"description": "Path to the file relative to repository root"
					}
				},
				"required": ["filepath"]
			}`),
		functionTool("search_symbol",
			"Find where a class, function, or variable is defined",
			`{
				"type": "object",
				"properties": {
					"symbol_name": {
						"type": "string",
						"description": "Name of the symbol to search for"
					}
				},
				"required": ["symbol_name"]
			}`),
		functionTool("find_usages",
			"Find all places where a symbol is used in the codebase",
			`{
				"type": "object",
				"properties": {
					"symbol_name": {
						"type": "string",
						"description": "Name of the symbol to find usages for"
					}
				},
				"required": ["symbol_name"]
			}`),
		functionTool("get_imports",
			"Get all imports from a specific file",
			`{
				"type": "object",
				"properties": {
					"filepath": {
						"type": "string",
						"description": "Path to the file relative to repository root"
					}
				},
				"required": ["filepath"]
			}`),
		functionTool("get_file_tree",
			"Get the project file tree structure",
			`{
				"type": "object",
				"properties": {},
				"required": []
			}`),
		functionTool("search_text",
			"Search for text pattern in files",
			`{
				"type": "object",
				"properties": {
					"pattern": {
						"type": "string",
						"description": "Text or regex pattern to search for"
					},
					"file_pattern": {
						"type": "string",
						"description": "Optional file pattern to limit search (e.g., '*.py')"
					}
				},
				"required": ["pattern"]
			}`),
	}
}

func functionTool(name, description, schema string) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
	}
}
