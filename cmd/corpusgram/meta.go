package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/corpusgram/pkg/corpusgram/discover"
	"github.com/cognicore/corpusgram/pkg/corpusgram/meta"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "List the metadata files that match the filter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		paths, err := discover.Files(a.cfg.SourcePath, discover.Metadata(filter))
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(a.out, p)
		}
		fmt.Fprintf(a.out, "Found %d files.\n", len(paths))
		return nil
	},
}

var addMetaCmd = &cobra.Command{
	Use:   "add-meta",
	Short: "Create articles from metadata files, skipping known ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			return loadMeta(ctx, a, false)
		})
	},
}

var updateMetaCmd = &cobra.Command{
	Use:   "update-meta",
	Short: "Create or update articles from metadata files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			return loadMeta(ctx, a, true)
		})
	},
}

func loadMeta(ctx context.Context, a *app, update bool) error {
	paths, err := discover.Files(a.cfg.SourcePath, discover.Metadata(filter))
	if err != nil {
		return err
	}
	a.log.Info().Int("files", len(paths)).Bool("update", update).Msg("loading metadata")

	loader := meta.NewLoader(a.store, a.resolver, a.retry(), a.log)
	sum, err := loader.Run(ctx, paths, update, a.cfg.ProgressEvery)
	a.log.Info().
		Int("files", sum.Files).
		Int("loaded", sum.Loaded).
		Int("skipped", sum.Skipped).
		Int("unparsed", sum.Unparsed).
		Msg("metadata done")
	fmt.Fprintf(a.out, "Found %d files.\n", sum.Files)
	return err
}

func init() {
	rootCmd.AddCommand(locateCmd, addMetaCmd, updateMetaCmd)
}
