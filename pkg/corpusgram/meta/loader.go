package meta

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cognicore/corpusgram/pkg/corpusgram"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/vocab"
)

// Loader writes metadata records to the store.
type Loader struct {
	store    store.Store
	resolver *vocab.Resolver
	retry    corpusgram.RetryPolicy
	log      zerolog.Logger
}

// NewLoader creates a loader. Journals, languages and domains are resolved
// through r, which may be shared with the term ingester.
func NewLoader(s store.Store, r *vocab.Resolver, retry corpusgram.RetryPolicy, log zerolog.Logger) *Loader {
	if r == nil {
		r = vocab.NewResolver(s, vocab.WithLogger(log))
	}
	if retry.IsZero() {
		retry = corpusgram.DefaultRetryPolicy()
	}
	return &Loader{store: s, resolver: r, retry: retry, log: log}
}

// Load records rec in one transaction and reports whether anything was
// written. An existing article is left alone unless update is set.
func (l *Loader) Load(ctx context.Context, rec Record, update bool) (bool, error) {
	var written bool
	_, err := l.retry.Do(ctx, l.log, "metadata "+rec.FileID, func() error {
		var err error
		written, err = l.load(ctx, rec, update)
		return err
	})
	return written, err
}

func (l *Loader) load(ctx context.Context, rec Record, update bool) (bool, error) {
	var resolutions []*vocab.Resolution
	resolve := func(tx store.Tx, kind store.Kind, label string) (int64, bool, error) {
		res, err := l.resolver.Resolve(ctx, tx, kind, []string{label})
		if err != nil {
			return 0, false, err
		}
		resolutions = append(resolutions, res)
		return res.IDs[label], res.Created > 0, nil
	}

	written := false
	err := l.store.Within(ctx, func(tx store.Tx) error {
		id, exists, err := tx.FindArticleByFileID(ctx, rec.FileID)
		if err != nil {
			return err
		}
		if exists && !update {
			return nil
		}

		journalID, created, err := resolve(tx, store.Journals, rec.Journal)
		if err != nil {
			return err
		}
		if created {
			if err := tx.SetJournalISSN(ctx, journalID, rec.PPub, rec.EPub); err != nil {
				return err
			}
		}
		languageID, _, err := resolve(tx, store.Languages, rec.Language)
		if err != nil {
			return err
		}
		domainID, _, err := resolve(tx, store.Domains, rec.Domain)
		if err != nil {
			return err
		}

		articleID, err := tx.SaveArticle(ctx, store.Article{
			ID:         id,
			FileID:     rec.FileID,
			JournalID:  journalID,
			LanguageID: languageID,
			Label:      rec.Title,
			PubDate:    rec.PubDate(),
		})
		if err != nil {
			return err
		}
		if err := tx.LinkDomain(ctx, articleID, domainID); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, res := range resolutions {
		res.Commit()
	}
	return written, nil
}

// Summary totals a metadata run.
type Summary struct {
	Files    int
	Loaded   int
	Skipped  int
	Unparsed int
}

// Run reads and loads every file in paths in order. Existing articles are
// skipped before their file is read unless update is set. Any error other
// than a file that is not well-formed XML stops the run.
func (l *Loader) Run(ctx context.Context, paths []string, update bool, progressEvery int) (Summary, error) {
	var sum Summary
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Files++
		if progressEvery > 0 && sum.Files%progressEvery == 0 {
			l.log.Info().Int("files", sum.Files).Int("total", len(paths)).Int("loaded", sum.Loaded).Msg("progress")
		}

		if !update {
			_, found, err := l.store.FindArticle(ctx, FileID(path), nil)
			if err != nil {
				return sum, fmt.Errorf("find article %s: %w", FileID(path), err)
			}
			if found {
				sum.Skipped++
				continue
			}
		}

		rec, ok, err := ReadFile(path)
		if err != nil {
			return sum, err
		}
		if !ok {
			l.log.Warn().Str("path", path).Msg("metadata is not well-formed XML, skipped")
			sum.Unparsed++
			continue
		}

		written, err := l.Load(ctx, rec, update)
		if err != nil {
			return sum, fmt.Errorf("load %s: %w", rec.FileID, err)
		}
		if written {
			sum.Loaded++
		} else {
			sum.Skipped++
		}
	}
	return sum, nil
}
