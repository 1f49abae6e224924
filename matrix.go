package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phobologic/traceguide/internal/matrix"
	"github.com/phobologic/traceguide/internal/toon"
	"github.com/phobologic/traceguide/internal/trace"
)

type matrixOptions struct {
	source      string
	targets     []string
	relations   []string
	sourceType  []string
	attributes  []string
	filters     []string
	group       string
	onlyCovered bool
	stats       bool

	intermediate         string
	via                  []string
	coveredIntermediates bool
	splitIntermediates   bool
}

func newMatrixCmd(g *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	o := &matrixOptions{}
	cmd := &cobra.Command{
		Use:   "matrix [root]",
		Short: "Print a cross-reference matrix with coverage statistics",
		Long: `Print one row per source item with the target items it is related to,
one column per --target pattern. A row is covered when it has at least one
target. Without --type every relation that has a reverse is used; relations
without reverse only count when listed with --type.

Examples:
  traceguide matrix --source '^REQ' --target '^TST' --type validated_by
  traceguide matrix --source '^REQ' --target '^TST' --target '^IMP' --group top
  traceguide matrix --source '^REQ' --filter status=approved --onlycovered
  traceguide matrix --source '^REQ' --intermediate '^TST' --type validated_by --via implemented_by --target '^IMP'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(cmd.Context(), g, o, rootArg(args), stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.source, "source", "", "source item id pattern")
	f.StringArrayVar(&o.targets, "target", nil, "target item id pattern, one column each (repeatable)")
	f.StringSliceVar(&o.relations, "type", nil, "relations that cover a target (comma separated)")
	f.StringSliceVar(&o.sourceType, "sourcetype", nil, "only sources having one of these relations")
	f.StringSliceVar(&o.attributes, "attribute", nil, "source attributes to show as columns")
	f.StringArrayVar(&o.filters, "filter", nil, "source attribute filter key=regex (repeatable)")
	f.StringVar(&o.group, "group", "", "group uncovered rows at the top or bottom")
	f.BoolVar(&o.onlyCovered, "onlycovered", false, "hide uncovered rows")
	f.BoolVar(&o.stats, "stats", false, "print the coverage statistics line to stderr")
	f.StringVar(&o.intermediate, "intermediate", "", "item id pattern of the items linking sources to targets")
	f.StringSliceVar(&o.via, "via", nil, "relations from an intermediate to a target (comma separated)")
	f.BoolVar(&o.coveredIntermediates, "coveredintermediates", false, "drop sources having an intermediate without target")
	f.BoolVar(&o.splitIntermediates, "splitintermediates", false, "one row per intermediate")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func (o *matrixOptions) spec() (matrix.Spec, error) {
	group, err := matrix.ParseGroup(o.group)
	if err != nil {
		return matrix.Spec{}, err
	}
	patterns := make(map[string]string, len(o.filters))
	for _, f := range o.filters {
		key, pattern, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return matrix.Spec{}, errors.Errorf("invalid filter %q (want key=regex)", f)
		}
		patterns[key] = pattern
	}
	filter, err := trace.ParseAttributeFilter(patterns)
	if err != nil {
		return matrix.Spec{}, err
	}
	if o.intermediate != "" && (len(o.relations) == 0 || len(o.via) == 0) {
		return matrix.Spec{}, errors.New("--intermediate needs both --type and --via")
	}
	if o.intermediate == "" && (len(o.via) > 0 || o.coveredIntermediates || o.splitIntermediates) {
		return matrix.Spec{}, errors.New("--via, --coveredintermediates and --splitintermediates need --intermediate")
	}
	return matrix.Spec{
		Source:       o.source,
		SourceFilter: filter,
		Targets:      o.targets,
		Relations:    o.relations,
		SourceType:   o.sourceType,
		Attributes:   o.attributes,
		Group:        group,
		OnlyCovered:  o.onlyCovered,

		Intermediate:         o.intermediate,
		Via:                  o.via,
		CoveredIntermediates: o.coveredIntermediates,
		SplitIntermediates:   o.splitIntermediates,
	}, nil
}

func runMatrix(ctx context.Context, g *globalOptions, o *matrixOptions, root string, stdout, stderr io.Writer) error {
	spec, err := o.spec()
	if err != nil {
		return err
	}
	e, err := setup(g, root, stderr)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.buildOnce(ctx)
	if err != nil {
		return err
	}
	var checked []string
	for _, rels := range [][]string{spec.Relations, spec.SourceType, spec.Via} {
		checked = append(checked, rels...)
	}
	for _, rel := range checked {
		if _, ok := res.Collection.ReverseRelation(rel); !ok {
			return errors.Errorf("unknown relation %q", rel)
		}
	}

	m, err := matrix.Build(res.Collection, spec)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, toon.EncodeMatrix(m))
	if o.stats {
		_, _ = fmt.Fprintln(stderr, m.Stats.String())
	}
	return nil
}
