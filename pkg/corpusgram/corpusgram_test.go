package corpusgram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store/memstore"
	"github.com/cognicore/corpusgram/pkg/corpusgram/vocab"
)

const sampleTrigrams = "the cat sat\t5\ndog ran 0xyz123456\t2\n"

var quickRetry = RetryPolicy{Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newIngester(s store.Store, force bool) *Ingester {
	return New(Options{
		Store:  s,
		Family: ingest.Trigrams,
		Force:  force,
		Retry:  quickRetry,
		Logger: zerolog.Nop(),
	})
}

func freqsOf(rows []store.Association) []uint16 {
	out := make([]uint16, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Freq)
	}
	return out
}

func TestIngestArticleCreatesTermsAndAssociations(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	res, err := newIngester(s, false).IngestArticle(ctx, id, path)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Lines)
	assert.Equal(t, 6, res.Terms)
	assert.Equal(t, 6, res.TermsCreated)
	assert.Equal(t, 2, res.Associations)
	assert.Equal(t, 1, res.Attempts)

	assert.ElementsMatch(t, []string{"the", "cat", "sat", "dog", "ran", ingest.JunkZero}, s.LabelsOf(store.Terms))

	rows := s.Associations(ingest.Trigrams, id)
	require.Len(t, rows, 2)
	// Rows are written in n-gram order.
	assert.Equal(t, []uint16{2, 5}, freqsOf(rows))

	terms, err := s.Labels(ctx, store.Terms)
	require.NoError(t, err)
	assert.Equal(t, []int64{terms["dog"], terms["ran"], terms[ingest.JunkZero]}, rows[0].TermIDs)
	assert.Equal(t, []int64{terms["the"], terms["cat"], terms["sat"]}, rows[1].TermIDs)
}

func TestIngestArticleSkipsIngestedArticle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)
	in := newIngester(s, false)

	_, err := in.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	calls := s.InsertCalls()

	res, err := in.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Associations)
	assert.Equal(t, calls, s.InsertCalls())
	assert.Len(t, s.Associations(ingest.Trigrams, id), 2)
	assert.Len(t, s.LabelsOf(store.Terms), 6)
}

func TestIngestArticleForceReplacesAssociations(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	dir := t.TempDir()
	path := writeFile(t, dir, "A1-ngram3.txt", sampleTrigrams)

	_, err := newIngester(s, false).IngestArticle(ctx, id, path)
	require.NoError(t, err)

	forced := newIngester(s, true)
	res, err := forced.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.TermsCreated)
	assert.Len(t, s.Associations(ingest.Trigrams, id), 2, "force must not duplicate rows")

	writeFile(t, dir, "A1-ngram3.txt", "the cat ate\t9\n")
	res, err = forced.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TermsCreated)

	rows := s.Associations(ingest.Trigrams, id)
	require.Len(t, rows, 1)
	assert.Equal(t, uint16(9), rows[0].Freq)
}

func TestIngestArticleRetriesTransientConflicts(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	busy := store.NewConflict(store.ConflictTransient, errors.New("database is locked"))
	s.FailCommits(busy, busy)

	in := newIngester(s, false)
	res, err := in.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, s.Rollbacks())
	assert.Len(t, s.Associations(ingest.Trigrams, id), 2)

	// Nothing from the rolled back attempts may be served from the cache.
	terms, err := s.Labels(ctx, store.Terms)
	require.NoError(t, err)
	for label, cached := range terms {
		got, ok := in.resolver.Cache().Get(store.Terms.Name, label)
		require.True(t, ok, label)
		assert.Equal(t, cached, got, label)
	}
}

func TestIngestArticleConvergesAfterUniqueConflict(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	// A competing writer commits "cat" between our lookup and our insert.
	rival := vocab.NewResolver(s)
	s.SetHooks(memstore.Hooks{
		BeforeInsertLabels: func(ctx context.Context, kind store.Kind, labels []string) error {
			s.SetHooks(memstore.Hooks{})
			var res *vocab.Resolution
			err := s.Within(ctx, func(tx store.Tx) error {
				var err error
				res, err = rival.Resolve(ctx, tx, store.Terms, []string{"cat"})
				return err
			})
			res.Commit()
			return err
		},
	})

	res, err := newIngester(s, false).IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 5, res.TermsCreated)
	assert.Len(t, s.LabelsOf(store.Terms), 6)
	assert.Len(t, s.Associations(ingest.Trigrams, id), 2)
}

func TestIngestArticleSerializesSameArticle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	// While the first writer is inside its transaction a second execution
	// picks up the same article. It must wait and then see the committed rows.
	var (
		rival    Result
		rivalErr error
		rivalEnd = make(chan struct{})
	)
	s.SetHooks(memstore.Hooks{
		BeforeInsertLabels: func(context.Context, store.Kind, []string) error {
			s.SetHooks(memstore.Hooks{})
			go func() {
				defer close(rivalEnd)
				rival, rivalErr = newIngester(s, false).IngestArticle(ctx, id, path)
			}()
			require.Eventually(t, func() bool { return s.LockWaits() == 1 }, 5*time.Second, time.Millisecond)
			return nil
		},
	})

	res, err := newIngester(s, false).IngestArticle(ctx, id, path)
	require.NoError(t, err)
	<-rivalEnd
	require.NoError(t, rivalErr)

	assert.False(t, res.Skipped)
	assert.True(t, rival.Skipped)
	assert.Len(t, s.Associations(ingest.Trigrams, id), 2)
}

func TestNewDefaultsRetryPolicy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	in := New(Options{Store: s, Logger: zerolog.Nop()})
	assert.Equal(t, DefaultRetryPolicy(), in.retry)

	s.FailCommits(store.NewConflict(store.ConflictTransient, errors.New("database is locked")))
	start := time.Now()
	res, err := in.IngestArticle(ctx, id, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), DefaultRetryPolicy().Backoff)
}

func TestIngestArticleGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	busy := store.NewConflict(store.ConflictTransient, errors.New("database is locked"))
	s.FailCommits(busy, busy, busy)

	in := New(Options{Store: s, Retry: RetryPolicy{MaxAttempts: 2}, Logger: zerolog.Nop()})
	res, err := in.IngestArticle(ctx, id, path)
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, s.Associations(ingest.Trigrams, id))
}

func TestIngestArticleStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	s.FailCommits(store.NewConflict(store.ConflictTransient, errors.New("database is locked")))
	cancel()

	in := New(Options{Store: s, Retry: RetryPolicy{Backoff: time.Hour}, Logger: zerolog.Nop()})
	res, err := in.IngestArticle(ctx, id, path)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestIngestArticleFatalErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")
	path := writeFile(t, t.TempDir(), "A1-ngram3.txt", sampleTrigrams)

	boom := errors.New("disk full")
	s.FailCommits(boom)

	res, err := newIngester(s, false).IngestArticle(ctx, id, path)
	require.ErrorIs(t, err, boom)
	assert.False(t, store.IsConflict(err))
	assert.Equal(t, 1, res.Attempts)
}

func TestIngestArticleMalformedFile(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	id := s.AddArticle("A1", "en")

	res, err := newIngester(s, false).IngestArticle(ctx, id, filepath.Join(t.TempDir(), "missing-ngram3.txt"))
	require.ErrorIs(t, err, ingest.ErrMalformed)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, s.LabelsOf(store.Terms))
}

func TestBuildAssociationsMissingID(t *testing.T) {
	parsed, err := ingest.NewParser(ingest.Trigrams).Parse(strings.NewReader("a b c\t1\n"))
	require.NoError(t, err)

	_, err = BuildAssociations(1, parsed, map[string]int64{"a": 1, "b": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"c"`)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Backoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.delay(1))
	assert.Equal(t, 20*time.Millisecond, p.delay(2))
	assert.Equal(t, 25*time.Millisecond, p.delay(3))
	assert.Zero(t, RetryPolicy{}.delay(4))
}
