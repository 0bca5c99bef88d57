// Package corpusgram ingests per-article n-gram frequency files into a
// shared term dictionary and per-article association tables.
package corpusgram

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/vocab"
)

// Options configures an Ingester.
type Options struct {
	Store  store.Store
	Family ingest.Family
	// Resolver defaults to a resolver with a private cache.
	Resolver *vocab.Resolver
	// Force re-ingests articles that already have associations.
	Force bool
	// Retry defaults to DefaultRetryPolicy when left zero.
	Retry  RetryPolicy
	Logger zerolog.Logger
}

// Ingester writes one article at a time. It is safe for concurrent use by
// several workers as long as they work on different articles.
type Ingester struct {
	store    store.Store
	family   ingest.Family
	parser   *ingest.Parser
	resolver *vocab.Resolver
	force    bool
	retry    RetryPolicy
	log      zerolog.Logger
}

// New creates an Ingester.
func New(opts Options) *Ingester {
	if opts.Family.Arity == 0 {
		opts.Family = ingest.Trigrams
	}
	if opts.Resolver == nil {
		opts.Resolver = vocab.NewResolver(opts.Store, vocab.WithLogger(opts.Logger))
	}
	if opts.Retry.IsZero() {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Ingester{
		store:    opts.Store,
		family:   opts.Family,
		parser:   ingest.NewParser(opts.Family),
		resolver: opts.Resolver,
		force:    opts.Force,
		retry:    opts.Retry,
		log:      opts.Logger,
	}
}

// Family returns the family the ingester writes.
func (in *Ingester) Family() ingest.Family { return in.family }

// Close releases the store.
func (in *Ingester) Close() error {
	return in.store.Close()
}

// Result reports what one article's ingestion did.
type Result struct {
	ArticleID int64
	// Skipped is set when the article already had associations.
	Skipped      bool
	Lines        int
	Terms        int
	TermsCreated int
	Associations int
	Attempts     int
}

// IngestArticle parses the frequency file at path and stores its
// associations for articleID in one transaction. Articles that already
// have associations are skipped unless the ingester forces updates, in
// which case the old rows are replaced. Conflicts roll the transaction back
// and the whole unit of work is retried. A file that cannot be read fails
// with an error wrapping ingest.ErrMalformed.
func (in *Ingester) IngestArticle(ctx context.Context, articleID int64, path string) (Result, error) {
	log := in.log.With().Int64("article", articleID).Str("path", path).Logger()

	var (
		once     sync.Once
		parsed   *ingest.Parsed
		parseErr error
	)
	parse := func() (*ingest.Parsed, error) {
		once.Do(func() { parsed, parseErr = in.parser.ParseFile(path) })
		return parsed, parseErr
	}

	var res Result
	attempts, err := in.retry.Do(ctx, log, fmt.Sprintf("article %d", articleID), func() error {
		var err error
		res, err = in.attempt(ctx, articleID, parse)
		return err
	})
	res.ArticleID = articleID
	res.Attempts = attempts
	if err != nil {
		return res, err
	}

	log.Debug().
		Bool("skipped", res.Skipped).
		Int("lines", res.Lines).
		Int("terms", res.Terms).
		Int("created", res.TermsCreated).
		Int("associations", res.Associations).
		Int("attempts", attempts).
		Msg("article ingested")
	return res, nil
}

func (in *Ingester) attempt(ctx context.Context, articleID int64, parse func() (*ingest.Parsed, error)) (Result, error) {
	var (
		res        Result
		resolution *vocab.Resolution
	)
	err := in.store.Within(ctx, func(tx store.Tx) error {
		if err := tx.LockArticle(ctx, articleID); err != nil {
			return err
		}
		exists, err := tx.HasAssociations(ctx, in.family, articleID)
		if err != nil {
			return err
		}
		if exists {
			if !in.force {
				res.Skipped = true
				return nil
			}
			if _, err := tx.DeleteAssociations(ctx, in.family, articleID); err != nil {
				return err
			}
		}

		parsed, err := parse()
		if err != nil {
			return err
		}

		resolution, err = in.resolver.Resolve(ctx, tx, store.Terms, parsed.TokenList())
		if err != nil {
			return err
		}

		n, err := WriteAssociations(ctx, tx, in.family, articleID, parsed, resolution.IDs)
		if err != nil {
			return err
		}

		res.Lines = len(parsed.Lines)
		res.Terms = len(resolution.IDs)
		res.TermsCreated = resolution.Created
		res.Associations = n
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	resolution.Commit()
	return res, nil
}
