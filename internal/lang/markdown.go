package lang

import (
	tree_sitter_markdown "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown"
)

const markdownQuery = `
(fenced_code_block
  (info_string
    (language) @language
    (#match? @language "^(item|item-attribute|item-link|item-relink|checkbox-result)$"))) @block
`

func init() {
	Languages["markdown"] = &Language{
		Name:        "markdown",
		Extensions:  []string{".md", ".markdown"},
		lang:        tree_sitter_markdown.GetLanguage(),
		querySource: markdownQuery,
	}
}
