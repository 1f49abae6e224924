// Package lang provides a document format registry mapping file extensions to
// tree-sitter grammars and the query that finds directive blocks in them.
package lang

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	sitter "github.com/smacker/go-tree-sitter"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a supported document format.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// querySource captures @block for each directive block and @language for
	// the token naming the directive.
	querySource string
	queryOnce   sync.Once
	query       *sitter.Query
	queryErr    error
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// GetDirectiveQuery returns the compiled directive query (safe to share across goroutines).
func (l *Language) GetDirectiveQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		q, err := sitter.NewQuery([]byte(l.querySource), l.lang)
		if err != nil {
			l.queryErr = errors.Wrapf(err, "compiling %s query", l.Name)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
