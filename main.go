// traceguide builds, checks and reports traceability items declared in
// Markdown documents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phobologic/traceguide/internal/build"
	"github.com/phobologic/traceguide/internal/cache"
	"github.com/phobologic/traceguide/internal/config"
	"github.com/phobologic/traceguide/internal/export"
	"github.com/phobologic/traceguide/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// globalOptions are shared by every command that builds.
type globalOptions struct {
	config    string
	logLevel  string
	logFormat string
	workers   int
	noCache   bool
}

type buildOptions struct {
	export string
	since  string
	strict bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{}
	o := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "traceguide [root]",
		Short: "Build and check traceability items declared in Markdown documents",
		Long: `traceguide reads item, item-attribute, item-link, item-relink and
checkbox-result blocks from the Markdown documents below root, links the items
through the configured relations, checks the resulting graph and prints it in
TOON format.

root defaults to the current directory. The configuration is read from
traceguide.yaml in root unless --config is given.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), g, o, rootArg(args), stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("traceguide {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "configuration file (default <root>/"+config.DefaultFile+")")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")
	pf.IntVarP(&g.workers, "workers", "j", 0, "parallel document loaders (default from config, else GOMAXPROCS)")
	pf.BoolVar(&g.noCache, "no-cache", false, "load every document instead of using the snapshot cache")

	f := cmd.Flags()
	f.StringVarP(&o.export, "export", "o", "", "write item records as JSON to this file")
	f.StringVar(&o.since, "since", "", "list items changed since this JSON export")
	f.BoolVar(&o.strict, "strict", false, "exit non-zero when the consistency check reports problems")

	cmd.AddCommand(newMatrixCmd(g, stdout, stderr))
	cmd.AddCommand(newWatchCmd(g, stdout, stderr))
	cmd.AddCommand(newInitCmd(stdout, stderr))
	return cmd
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// env is what a building command works with.
type env struct {
	log     *logrus.Logger
	cfg     *config.Config
	cache   *cache.Cache
	builder *build.Builder
}

func (e *env) close() {
	if e.cache == nil {
		return
	}
	if err := e.cache.Close(); err != nil {
		e.log.WithError(err).Warn("closing cache")
	}
}

func newLogger(level, format string, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format %q (want text or json)", format)
	}
	return log, nil
}

func setup(g *globalOptions, root string, stderr io.Writer) (*env, error) {
	log, err := newLogger(g.logLevel, g.logFormat, stderr)
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving root")
	}

	var cfg *config.Config
	if g.config != "" {
		if cfg, err = config.Load(g.config); err != nil {
			return nil, err
		}
	} else {
		var found bool
		cfg, found, err = config.LoadOrDefault(filepath.Join(root, config.DefaultFile))
		if err != nil {
			return nil, err
		}
		if !found {
			log.Debug("no configuration file, using defaults")
		}
	}
	if g.workers > 0 {
		cfg.Workers = g.workers
	}

	e := &env{log: log, cfg: cfg}
	if !g.noCache {
		dir := cfg.Cache
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		c, err := cache.Open(cache.Config{Path: dir, Logger: log})
		if err != nil {
			// Another process may hold the database lock.
			log.WithError(err).Warn("snapshot cache unavailable")
		} else {
			e.cache = c
		}
	}

	e.builder, err = build.New(build.Options{Root: root, Config: cfg, Cache: e.cache, Logger: log})
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

// buildOnce runs a build and reports its problems.
func (e *env) buildOnce(ctx context.Context) (*build.Result, error) {
	res, err := e.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Documents) == 0 {
		return nil, errors.New("no documents found")
	}
	e.reportProblems(res)
	e.log.WithFields(logrus.Fields{
		"documents": len(res.Documents),
		"cached":    res.Cached,
		"problems":  len(res.Problems),
	}).Info("build complete")
	return res, nil
}

func (e *env) reportProblems(res *build.Result) {
	for _, p := range res.Problems {
		e.log.Warn(p.Error())
	}
}

func runBuild(ctx context.Context, g *globalOptions, o *buildOptions, root string, stdout, stderr io.Writer) error {
	e, err := setup(g, root, stderr)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.buildOnce(ctx)
	if err != nil {
		return err
	}

	output := toon.EncodeCollection(toon.Summary{
		Root:      filepath.Base(e.builder.Root()),
		Documents: len(res.Documents),
		Problems:  res.Problems,
	}, res.Collection)

	records := res.Collection.Records()
	if o.since != "" {
		old, err := export.ReadFile(o.since)
		if err != nil {
			return err
		}
		output += "\n" + toon.EncodeChanges(export.Compare(old, records))
	}
	if o.export != "" {
		if err := export.WriteFile(o.export, records); err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintln(stdout, output)

	if o.strict && len(res.Problems) > 0 {
		return errors.Errorf("%d consistency problem(s)", len(res.Problems))
	}
	return nil
}
