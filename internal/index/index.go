// Package index defines the pre-built codebase index handed to the
// navigation sandbox. Building the index (symbol extraction, tree
// walking) is an external concern; this package only models, loads,
// and projects the data.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Symbol is one definition site of a named code symbol.
type Symbol struct {
	Name   string `json:"name"`
	Type   string `json:"type"` // "class", "function", "method", ...
	File   string `json:"file_path"`
	Line   int    `json:"line_number"`
	Parent string `json:"parent,omitempty"` // enclosing scope, e.g. a method's class
}

// FileNode is one entry in the project file tree.
type FileNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	IsDir    bool        `json:"is_dir"`
	Children []*FileNode `json:"children,omitempty"`
	Size     int64       `json:"size,omitempty"`
}

// Stats summarizes what the indexer saw.
type Stats struct {
	TotalFiles    int `json:"total_files"`
	SourceFiles   int `json:"source_files"`
	TotalSymbols  int `json:"total_symbols"`
	UniqueSymbols int `json:"unique_symbols"`
	TestFiles     int `json:"test_files"`
}

// Index is the complete read-only navigation index for one repository.
type Index struct {
	FileTree    *FileNode           `json:"file_tree"`
	Symbols     map[string][]Symbol `json:"symbols"`
	Imports     map[string][]string `json:"imports"`
	TestMapping map[string][]string `json:"test_mapping,omitempty"`
	Stats       Stats               `json:"stats"`
	BuildTime   float64             `json:"build_time,omitempty"` // seconds
}

// Parse decodes an index from its JSON form.
func Parse(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if idx.Symbols == nil {
		idx.Symbols = make(map[string][]Symbol)
	}
	if idx.Imports == nil {
		idx.Imports = make(map[string][]string)
	}
	return &idx, nil
}

// LoadFile reads and parses an index JSON file produced by an external
// indexer.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return Parse(data)
}

// Lookup returns the definition sites for a symbol name, or nil when
// the index has none.
func (idx *Index) Lookup(name string) []Symbol {
	return idx.Symbols[name]
}

// ImportsOf returns the recorded imports for a file path, or nil.
func (idx *Index) ImportsOf(path string) []string {
	return idx.Imports[path]
}

// RenderTree renders the file tree with box-drawing connectors:
//
//	root
//	├── cmd
//	│   └── main.go
//	└── go.mod
func (idx *Index) RenderTree() string {
	if idx.FileTree == nil {
		return ""
	}
	lines := []string{idx.FileTree.Name}
	for i, child := range idx.FileTree.Children {
		last := i == len(idx.FileTree.Children)-1
		lines = append(lines, renderNode(child, "", last)...)
	}
	return strings.Join(lines, "\n")
}

func renderNode(node *FileNode, prefix string, last bool) []string {
	connector := "├── "
	extension := "│   "
	if last {
		connector = "└── "
		extension = "    "
	}
	lines := []string{prefix + connector + node.Name}
	for i, child := range node.Children {
		lines = append(lines, renderNode(child, prefix+extension, i == len(node.Children)-1)...)
	}
	return lines
}

// Overview returns the human-readable stats block used in review
// prompts.
func (idx *Index) Overview() string {
	lines := []string{
		"Codebase Index Summary",
		strings.Repeat("=", 50),
		fmt.Sprintf("Total files: %d", idx.Stats.TotalFiles),
		fmt.Sprintf("Source files: %d", idx.Stats.SourceFiles),
		fmt.Sprintf("Unique symbols: %d", idx.Stats.UniqueSymbols),
		fmt.Sprintf("Total symbol occurrences: %d", idx.Stats.TotalSymbols),
		fmt.Sprintf("Test files: %d", idx.Stats.TestFiles),
	}
	if idx.BuildTime > 0 {
		lines = append(lines, fmt.Sprintf("Build time: %.2f seconds", idx.BuildTime))
	}
	return strings.Join(lines, "\n")
}

// Empty returns a usable index with no content, for callers that have
// no external indexer output to supply.
func Empty(rootName string) *Index {
	return &Index{
		FileTree: &FileNode{Name: rootName, Path: ".", IsDir: true},
		Symbols:  make(map[string][]Symbol),
		Imports:  make(map[string][]string),
	}
}
