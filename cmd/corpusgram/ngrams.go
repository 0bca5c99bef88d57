package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/corpusgram/pkg/corpusgram"
	"github.com/cognicore/corpusgram/pkg/corpusgram/discover"
	"github.com/cognicore/corpusgram/pkg/corpusgram/maintenance"
)

var (
	forceFlag   bool
	reverseFlag bool
	workersFlag int
	termsFlag   bool
)

var addNgramsCmd = &cobra.Command{
	Use:   "add-ngrams",
	Short: "Ingest the n-gram frequency files of the configured family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, addNgrams)
	},
}

func addNgrams(ctx context.Context, a *app) error {
	family, err := a.cfg.FamilySpec()
	if err != nil {
		return err
	}
	paths, err := discover.Files(a.cfg.SourcePath, discover.Frequencies(family.Dir, filter))
	if err != nil {
		return err
	}

	in := corpusgram.New(corpusgram.Options{
		Store:    a.store,
		Family:   family,
		Resolver: a.resolver,
		Force:    a.cfg.Force,
		Retry:    a.retry(),
		Logger:   a.log,
	})
	batch := corpusgram.NewBatch(in, corpusgram.BatchOptions{
		Languages:     a.cfg.Languages,
		Workers:       a.cfg.Workers,
		Reverse:       a.cfg.Reverse,
		SkipIngested:  !a.cfg.Force,
		ProgressEvery: a.cfg.ProgressEvery,
	}, a.log)

	sum, err := batch.Run(ctx, paths)
	fmt.Fprintf(a.out, "Found %d files. %d missing from DB. %d failed.\n",
		sum.Found, sum.NotFound, sum.Failed)
	return err
}

var clearNgramsCmd = &cobra.Command{
	Use:   "clear-ngrams",
	Short: "Delete the associations of the configured family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			family, err := a.cfg.FamilySpec()
			if err != nil {
				return err
			}
			r := maintenance.Reset{Store: a.store, Cache: a.cache}
			res, err := r.ClearAssociations(ctx, family, termsFlag)
			if err != nil {
				return err
			}
			a.log.Info().
				Str("family", family.Name).
				Int64("associations", res.Associations).
				Int64("terms", res.Terms).
				Msg("n-grams cleared")
			return nil
		})
	},
}

var clearJournalsCmd = &cobra.Command{
	Use:   "clear-journals",
	Short: "Delete all articles and journals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			r := maintenance.Reset{Store: a.store, Cache: a.cache}
			res, err := r.ClearArticles(ctx)
			if err != nil {
				return err
			}
			a.log.Info().Int64("articles", res.Articles).Msg("articles cleared")
			return nil
		})
	},
}

func init() {
	f := addNgramsCmd.Flags()
	f.BoolVar(&forceFlag, "force", false, "re-ingest articles that already have associations")
	f.BoolVar(&reverseFlag, "reverse", false, "process files in reverse order")
	f.IntVar(&workersFlag, "workers", 1, "concurrent ingestion workers")

	clearNgramsCmd.Flags().BoolVar(&termsFlag, "terms", false, "also delete the term dictionary")

	rootCmd.AddCommand(addNgramsCmd, clearNgramsCmd, clearJournalsCmd)
}
