// Package parse extracts directive blocks from documents using tree-sitter.
package parse

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	sitter "github.com/smacker/go-tree-sitter"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/traceguide/internal/lang"
	"github.com/phobologic/traceguide/internal/model"
)

const fenceContentNode = "code_fence_content"

// ExtractDirectives parses a document and returns its directive blocks.
// The parser must be created for the correct language and query must come
// from the same language's GetDirectiveQuery. docPath is used only for
// Document.Path and should be the root-relative path.
//
// Blocks whose body is not a YAML mapping are skipped with a warning on the
// returned document. Only parse failures and cancellation are errors.
func ExtractDirectives(ctx context.Context, parser *sitter.Parser, query *sitter.Query, source []byte, docPath string) (*model.Document, error) {
	doc := &model.Document{Path: docPath}
	if len(source) == 0 {
		return doc, nil
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", docPath)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var block, language *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "block":
				block = c.Node
			case "language":
				language = c.Node
			}
		}
		if block == nil || language == nil {
			continue
		}

		kind, ok := model.ParseDirectiveKind(lang.NodeText(language, source))
		if !ok {
			continue
		}
		line := int(block.StartPoint().Row) + 1

		fields, err := decodeBody(fenceContent(block, source))
		if err != nil {
			doc.Warn(line, "%s: invalid directive body: %v", kind, err)
			continue
		}
		doc.Directives = append(doc.Directives, model.Directive{
			Kind:   kind,
			Line:   line,
			Fields: fields,
		})
	}

	sort.SliceStable(doc.Directives, func(i, j int) bool {
		return doc.Directives[i].Line < doc.Directives[j].Line
	})
	return doc, nil
}

func fenceContent(block *sitter.Node, source []byte) string {
	for i := 0; i < int(block.ChildCount()); i++ {
		child := block.Child(i)
		if child.Type() == fenceContentNode {
			return lang.NodeText(child, source)
		}
	}
	return ""
}

// decodeBody decodes a directive body. An empty body yields an empty mapping.
func decodeBody(body string) (map[string]any, error) {
	fields := make(map[string]any)
	if strings.TrimSpace(body) == "" {
		return fields, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(body), &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return fields, nil
	}
	if root := node.Content[0]; root.Kind != yaml.MappingNode {
		return nil, errors.Errorf("expected a mapping, got %s", nodeKind(root.Kind))
	}
	if err := node.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "a document"
	}
}
