package lsp

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LanguageID is the language identifier registered with the host editor and
// sent to the server in every textDocument/didOpen.
const LanguageID = "MythicYAML"

// defaultExtensions are the file extensions covered by the MythicYAML
// document selector.
var defaultExtensions = []string{".yaml", ".yml"}

// Selector decides which host documents this client manages. The default
// selector matches .yaml/.yml files; additional doublestar patterns
// (e.g. "plugins/MythicMobs/**/*.yml") can narrow the set. Patterns are
// evaluated against workspace-relative paths when a root is set.
type Selector struct {
	root       string
	extensions []string
	patterns   []string
}

// NewSelector creates a selector for the MythicYAML language. With no
// patterns it matches by extension alone; with patterns a document must
// match at least one of them in addition to having a matching extension.
func NewSelector(patterns ...string) *Selector {
	return &Selector{
		extensions: defaultExtensions,
		patterns:   patterns,
	}
}

// NewSelectorAt creates a selector whose patterns apply relative to the
// workspace root, so absolute document paths still match.
func NewSelectorAt(root string, patterns ...string) *Selector {
	s := NewSelector(patterns...)
	s.root = root
	return s
}

// Matches reports whether the document at path belongs to this client.
func (s *Selector) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	ok := false
	for _, e := range s.extensions {
		if ext == e {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	if len(s.patterns) == 0 {
		return true
	}

	candidate := path
	if s.root != "" {
		if rel, err := filepath.Rel(s.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			candidate = rel
		}
	}
	normalized := filepath.ToSlash(candidate)
	for _, pattern := range s.patterns {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}
	return false
}
