package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

func TestCommitRejectsLabelCreatedConcurrently(t *testing.T) {
	ctx := context.Background()
	s := New()

	// A second transaction commits the same label before this one does.
	var inner error
	err := s.Within(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertLabels(ctx, store.Terms, []string{"dog"}); err != nil {
			return err
		}
		inner = s.Within(ctx, func(other store.Tx) error {
			_, err := other.InsertLabels(ctx, store.Terms, []string{"dog"})
			return err
		})
		return nil
	})
	require.NoError(t, inner)
	assert.Equal(t, store.ConflictUnique, store.ConflictOf(err))
	assert.Equal(t, []string{"dog"}, s.LabelsOf(store.Terms))
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := s.AddArticle("A1", "en")

	boom := errors.New("boom")
	err := s.Within(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertLabels(ctx, store.Terms, []string{"cat"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.LabelsOf(store.Terms))
	assert.Equal(t, 1, s.Rollbacks())

	s.FailCommits(store.NewConflict(store.ConflictTransient, errors.New("busy")))
	err = s.Within(ctx, func(tx store.Tx) error {
		_, err := tx.SaveArticle(ctx, store.Article{ID: id, FileID: "A1", Label: "changed"})
		return err
	})
	assert.True(t, store.IsConflict(err))
	a, _ := s.Article(id)
	assert.Empty(t, a.Label)
}

func TestFindArticleLanguageFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddArticle("A1", "en")

	_, found, err := s.FindArticle(ctx, "A1", []string{"fr", "en"})
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = s.FindArticle(ctx, "A1", []string{"fr"})
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.FindArticle(ctx, "missing", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLockArticleBlocksUntilTransactionEnds(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := s.AddArticle("A1", "en")

	acquired := make(chan struct{})
	err := s.Within(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.LockArticle(ctx, id))
		// Taking the same lock again in one transaction does not block.
		require.NoError(t, tx.LockArticle(ctx, id))

		go func() {
			_ = s.Within(ctx, func(other store.Tx) error {
				err := other.LockArticle(ctx, id)
				close(acquired)
				return err
			})
		}()
		require.Eventually(t, func() bool { return s.LockWaits() == 1 }, 5*time.Second, time.Millisecond)
		select {
		case <-acquired:
			t.Fatal("second transaction took a held lock")
		default:
		}
		return errors.New("roll back")
	})
	require.Error(t, err)

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("lock not released on rollback")
	}
}

func TestLockArticleHonoursContext(t *testing.T) {
	s := New()
	id := s.AddArticle("A1", "en")

	err := s.Within(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.LockArticle(context.Background(), id))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		return s.Within(ctx, func(other store.Tx) error {
			return other.LockArticle(ctx, id)
		})
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
