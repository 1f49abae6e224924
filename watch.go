package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phobologic/traceguide/internal/build"
	"github.com/phobologic/traceguide/internal/watch"
)

func newWatchCmd(g *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Rebuild and check the collection whenever a document changes",
		Long: `Build once, then watch root for document changes. Edited and new documents
trigger a rebuild from the snapshot cache; removed documents are purged from
the collection. Each update prints one status line. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), g, window, rootArg(args), stdout, stderr)
		},
	}
	cmd.Flags().DurationVar(&window, "debounce", watch.DefaultWindow, "quiet period before applying changes")
	return cmd
}

func runWatch(ctx context.Context, g *globalOptions, window time.Duration, root string, stdout, stderr io.Writer) error {
	e, err := setup(g, root, stderr)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(watch.Options{
		Builder: e.builder,
		Logger:  e.log,
		Window:  window,
		OnResult: func(res *build.Result) {
			e.reportProblems(res)
			_, _ = fmt.Fprintf(stdout, "%s documents=%d items=%d problems=%d\n",
				time.Now().Format(time.TimeOnly), len(res.Documents), len(res.Collection.ItemIDs()), len(res.Problems))
		},
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
