// Package maintenance holds bulk operations that run outside ingestion.
package maintenance

import (
	"context"
	"errors"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
	"github.com/cognicore/corpusgram/pkg/corpusgram/vocab"
)

// Reset empties parts of the corpus.
type Reset struct {
	Store store.Store
	// Cache, when set, forgets the kinds a reset deletes.
	Cache *vocab.Cache
}

// Result summarizes a reset.
type Result struct {
	Associations int64
	Terms        int64
	Articles     int64
}

// ClearAssociations deletes every association of family and, with
// withTerms, the term dictionary too. Terms are shared by all families, so
// clearing them also clears the other families' associations.
func (r *Reset) ClearAssociations(ctx context.Context, family ingest.Family, withTerms bool) (Result, error) {
	var res Result
	if r.Store == nil {
		return res, errors.New("reset: no store")
	}

	err := r.Store.Within(ctx, func(tx store.Tx) error {
		var err error
		if withTerms {
			for _, name := range ingest.FamilyNames() {
				f, _ := ingest.FamilyByName(name)
				n, err := tx.ClearAssociations(ctx, f)
				if err != nil {
					return err
				}
				res.Associations += n
			}
			res.Terms, err = tx.ClearTerms(ctx)
			return err
		}
		res.Associations, err = tx.ClearAssociations(ctx, family)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if withTerms && r.Cache != nil {
		r.Cache.Forget(store.Terms.Name)
	}
	return res, nil
}

// ClearArticles deletes every article with its journals, domain links and
// associations.
func (r *Reset) ClearArticles(ctx context.Context) (Result, error) {
	var res Result
	if r.Store == nil {
		return res, errors.New("reset: no store")
	}

	err := r.Store.Within(ctx, func(tx store.Tx) error {
		var err error
		res.Articles, err = tx.ClearArticles(ctx)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if r.Cache != nil {
		r.Cache.Forget(store.Journals.Name)
	}
	return res, nil
}
