package corpusgram

import (
	"context"
	"fmt"
	"sort"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// BuildAssociations maps every parsed line of an article through ids.
// Rows come out in n-gram order so that repeated runs write identical
// batches.
func BuildAssociations(articleID int64, parsed *ingest.Parsed, ids map[string]int64) ([]store.Association, error) {
	keys := make([]string, 0, len(parsed.Lines))
	for k := range parsed.Lines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]store.Association, 0, len(keys))
	for _, k := range keys {
		line := parsed.Lines[k]
		termIDs := make([]int64, len(line.Tokens))
		for i, tok := range line.Tokens {
			id, ok := ids[tok]
			if !ok {
				return nil, fmt.Errorf("term %q of %q has no id", tok, k)
			}
			termIDs[i] = id
		}
		rows = append(rows, store.Association{ArticleID: articleID, TermIDs: termIDs, Freq: line.Freq})
	}
	return rows, nil
}

// WriteAssociations writes the article's associations in one bulk insert
// and returns how many were written.
func WriteAssociations(ctx context.Context, tx store.Tx, family ingest.Family, articleID int64, parsed *ingest.Parsed, ids map[string]int64) (int, error) {
	rows, err := BuildAssociations(articleID, parsed, ids)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return tx.InsertAssociations(ctx, family, rows)
}
