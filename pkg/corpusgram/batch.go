package corpusgram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
)

// BatchOptions configures a Batch.
type BatchOptions struct {
	// Languages restricts ingestion to articles in these languages. Empty
	// accepts every article.
	Languages []string
	Workers   int
	// Reverse processes the files in reverse discovery order.
	Reverse bool
	// SkipIngested snapshots the already ingested articles before the run
	// and skips them without opening a transaction. Ignored when forcing.
	SkipIngested  bool
	ProgressEvery int
}

// Summary totals a batch run.
type Summary struct {
	// Found is the number of files handed to the run.
	Found int
	// Matched counts the files that resolved to an article.
	Matched      int
	NotFound     int
	Failed       int
	Skipped      int
	Ingested     int
	Lines        int
	Terms        int
	TermsCreated int
	Associations int
	Retries      int
	Elapsed      time.Duration
}

func (s *Summary) add(r Result) {
	s.Retries += r.Attempts - 1
	if r.Skipped {
		s.Skipped++
		return
	}
	s.Ingested++
	s.Lines += r.Lines
	s.Terms += r.Terms
	s.TermsCreated += r.TermsCreated
	s.Associations += r.Associations
}

// Batch feeds a list of frequency files through an Ingester.
type Batch struct {
	in   *Ingester
	opts BatchOptions
	log  zerolog.Logger
}

// NewBatch creates a batch runner.
func NewBatch(in *Ingester, opts BatchOptions, log zerolog.Logger) *Batch {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Batch{in: in, opts: opts, log: log}
}

// Run ingests paths. Files that do not resolve to an article are counted as
// not found and files that cannot be read as failed; neither stops the run.
// Any other error aborts the run and is returned with the partial summary.
func (b *Batch) Run(ctx context.Context, paths []string) (Summary, error) {
	start := time.Now()
	family := b.in.Family()
	log := b.log.With().
		Str("run", ulid.Make().String()).
		Str("family", family.Name).
		Logger()

	order := make([]string, len(paths))
	copy(order, paths)
	if b.opts.Reverse {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	var done *roaring64.Bitmap
	if b.opts.SkipIngested && !b.in.force {
		bm, err := b.in.store.IngestedArticles(ctx, family)
		if err != nil {
			return Summary{}, fmt.Errorf("snapshot ingested articles: %w", err)
		}
		done = bm
		log.Debug().Uint64("articles", bm.GetCardinality()).Msg("ingested snapshot loaded")
	}

	log.Info().Int("files", len(order)).Int("workers", b.opts.Workers).Msg("batch started")

	var (
		mu        sync.Mutex
		sum       = Summary{Found: len(order)}
		processed int
	)
	tick := func(update func(*Summary)) {
		mu.Lock()
		defer mu.Unlock()
		update(&sum)
		processed++
		if b.opts.ProgressEvery > 0 && processed%b.opts.ProgressEvery == 0 {
			log.Info().
				Int("processed", processed).
				Int("total", len(order)).
				Int("ingested", sum.Ingested).
				Int("skipped", sum.Skipped).
				Int("not_found", sum.NotFound).
				Int("failed", sum.Failed).
				Msg("progress")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for _, path := range order {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return b.one(gctx, log, path, done, tick)
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	mu.Lock()
	out := sum
	mu.Unlock()
	out.Elapsed = time.Since(start)

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("found", out.Found).
		Int("matched", out.Matched).
		Int("not_found", out.NotFound).
		Int("failed", out.Failed).
		Int("skipped", out.Skipped).
		Int("ingested", out.Ingested).
		Int("terms_created", out.TermsCreated).
		Int("associations", out.Associations).
		Int("retries", out.Retries).
		Dur("elapsed", out.Elapsed).
		Msg("batch finished")
	return out, err
}

func (b *Batch) one(ctx context.Context, log zerolog.Logger, path string, done *roaring64.Bitmap, tick func(func(*Summary))) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fileID, ok := b.in.Family().FileID(path)
	if !ok {
		log.Warn().Str("path", path).Msg("not a frequency file of this family")
		tick(func(s *Summary) { s.NotFound++ })
		return nil
	}

	article, found, err := b.in.store.FindArticle(ctx, fileID, b.opts.Languages)
	if err != nil {
		return fmt.Errorf("find article %s: %w", fileID, err)
	}
	if !found {
		log.Debug().Str("fileid", fileID).Msg("article not found")
		tick(func(s *Summary) { s.NotFound++ })
		return nil
	}

	if done != nil && article.ID > 0 && done.Contains(uint64(article.ID)) {
		tick(func(s *Summary) {
			s.Matched++
			s.Skipped++
		})
		return nil
	}

	res, err := b.in.IngestArticle(ctx, article.ID, path)
	switch {
	case errors.Is(err, ingest.ErrMalformed):
		log.Warn().Err(err).Str("fileid", fileID).Msg("frequency file failed")
		tick(func(s *Summary) {
			s.Matched++
			s.Failed++
			s.Retries += res.Attempts - 1
		})
		return nil
	case err != nil:
		return fmt.Errorf("ingest %s: %w", fileID, err)
	}

	tick(func(s *Summary) {
		s.Matched++
		s.add(res)
	})
	return nil
}
