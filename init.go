package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phobologic/traceguide/internal/config"
)

const (
	sentinelStart = "<!-- traceguide:start -->"
	sentinelEnd   = "<!-- traceguide:end -->"
)

type initOptions struct {
	dryRun bool
	force  bool
	guide  string
}

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init [root]",
		Short: "Write a default " + config.DefaultFile,
		Long: `Write the default configuration to root/` + config.DefaultFile + `. An existing
file is left alone unless --force is given.

With --guide, also write a traceguide usage section to a Markdown file such as
CONTRIBUTING.md. The section is wrapped in sentinel comments so it can be
updated in place on subsequent runs without touching surrounding content.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(o, rootArg(args), stdout, stderr)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.dryRun, "dry-run", false, "print what would be written without modifying any file")
	f.BoolVar(&o.force, "force", false, "overwrite an existing configuration")
	f.StringVar(&o.guide, "guide", "", "also write a usage section to this Markdown file")
	return cmd
}

// runInit implements the `traceguide init` subcommand.
func runInit(o *initOptions, root string, stdout, stderr io.Writer) error {
	data, err := config.Default().Marshal()
	if err != nil {
		return err
	}

	if o.dryRun {
		_, _ = fmt.Fprint(stdout, string(data))
		if o.guide != "" {
			existing, _ := os.ReadFile(o.guide)
			_, _ = fmt.Fprint(stdout, applySection(string(existing), generateSection()))
		}
		return nil
	}

	path := filepath.Join(root, config.DefaultFile)
	if _, err := os.Stat(path); err == nil && !o.force {
		_, _ = fmt.Fprintf(stderr, "%s exists, leaving it alone (use --force to overwrite)\n", path)
	} else {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
		_, _ = fmt.Fprintf(stderr, "wrote %s\n", path)
	}

	if o.guide == "" {
		return nil
	}
	existing, _ := os.ReadFile(o.guide)
	updated := applySection(string(existing), generateSection())
	if err := os.WriteFile(o.guide, []byte(updated), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", o.guide)
	}
	_, _ = fmt.Fprintf(stderr, "wrote traceguide section to %s\n", o.guide)
	return nil
}

// generateSection returns the full sentinel-wrapped traceguide documentation block.
func generateSection() string {
	fence := "```"
	body := `## Traceability

Requirements, tests and other traceable items live in fenced blocks inside the
Markdown documents of this repository. Declare an item like this:

` + fence + `markdown
` + fence + `item
id: REQ-BOOT-1
caption: Boot time
status: approved
validated_by: [TST-BOOT-1]
content: The system is ready 2 s after power on.
` + fence + `
` + fence + `

The relations and attributes you can use are listed in ` + "`" + config.DefaultFile + "`" + `.

**Check it:**
` + fence + `bash
traceguide --strict                           # build, check, fail on problems
traceguide matrix --source '^REQ' --target '^TST' --type validated_by
traceguide --export items.json                # JSON records for later comparison
traceguide --since items.json                 # what changed since that export
traceguide watch                              # re-check on every save
` + fence + `

**Before merging:** ` + "`traceguide --strict`" + ` must pass. Every relation needs an
existing target item, and every item needs a unique id.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
