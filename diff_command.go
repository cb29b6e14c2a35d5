package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"dirtydiff/engine"
	"dirtydiff/scm"
	"dirtydiff/text"
	"dirtydiff/types"
)

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "print the dirty ranges of a file against its repository",
		UsageText: "dirtydiff diff [--ref REF] FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "ref",
				Usage: "compare against `REF` instead of git_ref (\"index\" for the staging area)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("diff takes exactly one file", 1)
			}
			config, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			if ref := cmd.String("ref"); ref != "" {
				config.GitRef = ref
			}
			return runDiff(ctx, config, cmd.Args().First(), os.Stdout)
		},
	}
}

// runDiff tracks path once, the same way an editor buffer is tracked, and
// prints the resulting ChangeSet
func runDiff(ctx context.Context, config Config, path string, w io.Writer) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}

	registry := scm.NewRegistry()
	if _, err := registry.Discover(ctx, filepath.Dir(abs), config.GitRef); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	models := text.NewModels()
	deps := engine.Collaborators{
		Registry: registry,
		Resolver: scm.NewResolver(models),
		Oracle:   config.newOracle(models),
	}
	trackerConfig := config.trackerConfig()
	trackerConfig.Delay = 0

	doc := text.NewDocument(scm.FileURI(abs), models, text.SplitLines(string(data)))
	defer doc.Close()

	tracker := engine.NewTracker(doc, deps, trackerConfig, engine.NewRealClock())
	if err := tracker.Attach(); err != nil {
		return err
	}
	defer tracker.Detach()

	if err := tracker.Wait(ctx); err != nil {
		return err
	}

	original := tracker.OriginalID()
	if original == "" {
		return fmt.Errorf("%s: %w", path, scm.ErrNotTracked)
	}
	writeChanges(w, path, len(doc.Lines()), tracker.Changes())
	return nil
}

func writeChanges(w io.Writer, path string, lines int, changes types.ChangeSet) {
	fmt.Fprintf(w, "%s: %s lines, %s changes\n", path, humanize.Comma(int64(lines)), humanize.Comma(int64(len(changes))))
	for _, c := range changes {
		fmt.Fprintf(w, "@@ -%d,%d +%d,%d @@ %s\n",
			c.OriginalStart, rangeLen(c.OriginalStart, c.OriginalEnd),
			c.ModifiedStart, rangeLen(c.ModifiedStart, c.ModifiedEnd),
			c.Kind())
	}
}

func rangeLen(start, end int) int {
	if end == 0 {
		return 0
	}
	return end - start + 1
}
