package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// Hooks let tests interfere with a transaction in flight.
type Hooks struct {
	// BeforeInsertLabels runs before labels are staged. A non-nil error
	// aborts the insert. Tests use it to commit the same labels from a
	// competing transaction.
	BeforeInsertLabels func(ctx context.Context, kind store.Kind, labels []string) error
}

// Store is an in-memory implementation of store.Store for tests. Label
// uniqueness is checked when labels are staged and again at commit, the way
// a database with a unique index would reject the later of two writers.
type Store struct {
	mu     sync.Mutex
	nextID int64

	labels      map[string]map[string]int64 // table -> label -> id
	articles    map[int64]store.Article
	fileIndex   map[string]int64
	assocs      map[string][]store.Association // association table -> rows
	links       map[[2]int64]struct{}
	issn        map[int64][2]string
	locks       map[int64]chan struct{}
	lockWaits   int
	commitErrs  []error
	hooks       Hooks
	commits     int
	rollbacks   int
	insertCalls int
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		nextID:    1,
		labels:    make(map[string]map[string]int64),
		articles:  make(map[int64]store.Article),
		fileIndex: make(map[string]int64),
		assocs:    make(map[string][]store.Association),
		links:     make(map[[2]int64]struct{}),
		issn:      make(map[int64][2]string),
		locks:     make(map[int64]chan struct{}),
	}
	for _, k := range store.Kinds {
		s.labels[k.Table] = make(map[string]int64)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SetHooks installs test hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// FailCommits queues errors returned by the next commits, one per commit.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErrs = append(s.commitErrs, errs...)
}

// AddArticle registers an article with the given fileid and language and
// returns its id.
func (s *Store) AddArticle(fileID, language string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var langID int64
	if language != "" {
		langs := s.labels[store.Languages.Table]
		id, ok := langs[language]
		if !ok {
			id = s.allocID()
			langs[language] = id
		}
		langID = id
	}
	id := s.allocID()
	s.articles[id] = store.Article{ID: id, FileID: fileID, LanguageID: langID}
	s.fileIndex[fileID] = id
	return id
}

// Article returns a stored article.
func (s *Store) Article(id int64) (store.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	return a, ok
}

// Associations returns a copy of the committed rows for an article.
func (s *Store) Associations(family ingest.Family, articleID int64) []store.Association {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Association
	for _, a := range s.assocs[family.AssociationTable()] {
		if a.ArticleID == articleID {
			out = append(out, copyAssoc(a))
		}
	}
	return out
}

// LabelsOf returns the committed labels of kind in sorted order.
func (s *Store) LabelsOf(kind store.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.labels[kind.Table]))
	for l := range s.labels[kind.Table] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Linked reports whether an article is linked to a domain.
func (s *Store) Linked(articleID, domainID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[[2]int64{articleID, domainID}]
	return ok
}

// JournalISSN returns the ISSNs recorded for a journal.
func (s *Store) JournalISSN(id int64) (ppub, epub string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.issn[id]
	return v[0], v[1]
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks returns the number of rolled back transactions.
func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// InsertCalls returns how many association batches were written.
func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

// LockWaits returns how many times a transaction had to wait for another
// one's article lock.
func (s *Store) LockWaits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockWaits
}

// Within implements store.Store.
func (s *Store) Within(ctx context.Context, fn func(tx store.Tx) error) error {
	t := &tx{s: s, staged: make(map[string]map[string]int64)}
	defer t.unlock()
	if err := fn(t); err != nil {
		s.mu.Lock()
		s.rollbacks++
		s.mu.Unlock()
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		s.rollbacks++
		return err
	}

	for table, staged := range t.staged {
		for label := range staged {
			if _, ok := s.labels[table][label]; ok {
				s.rollbacks++
				return store.NewConflict(store.ConflictUnique,
					fmt.Errorf("duplicate key value %q violates unique constraint on %s.label", label, table))
			}
		}
	}
	for table, staged := range t.staged {
		for label, id := range staged {
			s.labels[table][label] = id
		}
	}
	for _, op := range t.ops {
		op(s)
	}
	s.insertCalls += t.insertCalls
	s.commits++
	return nil
}

// allocID hands out ids from one sequence. Callers hold s.mu.
func (s *Store) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// FindArticle implements store.Store.
func (s *Store) FindArticle(ctx context.Context, fileID string, languages []string) (store.Article, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.fileIndex[fileID]
	if !ok {
		return store.Article{}, false, nil
	}
	a := s.articles[id]
	if len(languages) == 0 {
		return a, true, nil
	}
	for label, langID := range s.labels[store.Languages.Table] {
		if langID != a.LanguageID {
			continue
		}
		for _, l := range languages {
			if l == label {
				return a, true, nil
			}
		}
	}
	return store.Article{}, false, nil
}

// IngestedArticles implements store.Store.
func (s *Store) IngestedArticles(ctx context.Context, family ingest.Family) (*roaring64.Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm := roaring64.New()
	for _, a := range s.assocs[family.AssociationTable()] {
		bm.Add(uint64(a.ArticleID))
	}
	return bm, nil
}

// Labels implements store.Store.
func (s *Store) Labels(ctx context.Context, kind store.Kind) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.labels[kind.Table]))
	for l, id := range s.labels[kind.Table] {
		out[l] = id
	}
	return out, nil
}

// tx stages writes until commit. Reads see committed state plus the
// labels staged by this transaction.
type tx struct {
	s           *Store
	staged      map[string]map[string]int64
	ops         []func(*Store)
	held        map[int64]chan struct{}
	insertCalls int
}

// unlock releases the article locks held by t. It runs after commit or
// rollback.
func (t *tx) unlock() {
	if len(t.held) == 0 {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, ch := range t.held {
		delete(t.s.locks, id)
		close(ch)
	}
	t.held = nil
}

func (t *tx) LockArticle(ctx context.Context, articleID int64) error {
	waited := false
	for {
		t.s.mu.Lock()
		if _, mine := t.held[articleID]; mine {
			t.s.mu.Unlock()
			return nil
		}
		ch, busy := t.s.locks[articleID]
		if !busy {
			ch = make(chan struct{})
			t.s.locks[articleID] = ch
			if t.held == nil {
				t.held = make(map[int64]chan struct{})
			}
			t.held[articleID] = ch
			t.s.mu.Unlock()
			return nil
		}
		if !waited {
			t.s.lockWaits++
			waited = true
		}
		t.s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ store.Tx = (*tx)(nil)

func (t *tx) LookupLabels(ctx context.Context, kind store.Kind, labels []string) (map[string]int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[string]int64)
	for _, l := range labels {
		if id, ok := t.s.labels[kind.Table][l]; ok {
			out[l] = id
		} else if id, ok := t.staged[kind.Table][l]; ok {
			out[l] = id
		}
	}
	return out, nil
}

func (t *tx) InsertLabels(ctx context.Context, kind store.Kind, labels []string) (map[string]int64, error) {
	t.s.mu.Lock()
	hook := t.s.hooks.BeforeInsertLabels
	t.s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, kind, labels); err != nil {
			return nil, err
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	staged := t.staged[kind.Table]
	if staged == nil {
		staged = make(map[string]int64)
		t.staged[kind.Table] = staged
	}
	out := make(map[string]int64, len(labels))
	for _, l := range labels {
		_, committed := t.s.labels[kind.Table][l]
		_, dup := staged[l]
		if committed || dup {
			return nil, store.NewConflict(store.ConflictUnique,
				fmt.Errorf("duplicate key value %q violates unique constraint on %s.label", l, kind.Table))
		}
		id := t.s.allocID()
		staged[l] = id
		out[l] = id
	}
	return out, nil
}

func (t *tx) HasAssociations(ctx context.Context, family ingest.Family, articleID int64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, a := range t.s.assocs[family.AssociationTable()] {
		if a.ArticleID == articleID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DeleteAssociations(ctx context.Context, family ingest.Family, articleID int64) (int64, error) {
	table := family.AssociationTable()
	t.s.mu.Lock()
	var n int64
	for _, a := range t.s.assocs[table] {
		if a.ArticleID == articleID {
			n++
		}
	}
	t.s.mu.Unlock()

	t.ops = append(t.ops, func(s *Store) {
		kept := s.assocs[table][:0]
		for _, a := range s.assocs[table] {
			if a.ArticleID != articleID {
				kept = append(kept, a)
			}
		}
		s.assocs[table] = kept
	})
	return n, nil
}

func (t *tx) InsertAssociations(ctx context.Context, family ingest.Family, rows []store.Association) (int, error) {
	table := family.AssociationTable()
	copied := make([]store.Association, len(rows))
	for i, a := range rows {
		if len(a.TermIDs) != family.Arity {
			return 0, fmt.Errorf("association for article %d has %d terms, want %d", a.ArticleID, len(a.TermIDs), family.Arity)
		}
		copied[i] = copyAssoc(a)
	}
	t.insertCalls++
	t.ops = append(t.ops, func(s *Store) {
		s.assocs[table] = append(s.assocs[table], copied...)
	})
	return len(rows), nil
}

func (t *tx) FindArticleByFileID(ctx context.Context, fileID string) (int64, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id, ok := t.s.fileIndex[fileID]
	return id, ok, nil
}

func (t *tx) SaveArticle(ctx context.Context, a store.Article) (int64, error) {
	if strings.TrimSpace(a.FileID) == "" {
		return 0, errors.New("article fileid is required")
	}
	t.s.mu.Lock()
	if a.ID == 0 {
		if _, exists := t.s.fileIndex[a.FileID]; exists {
			t.s.mu.Unlock()
			return 0, store.NewConflict(store.ConflictUnique,
				fmt.Errorf("duplicate key value %q violates unique constraint on articles.fileid", a.FileID))
		}
		a.ID = t.s.allocID()
	}
	t.s.mu.Unlock()

	t.ops = append(t.ops, func(s *Store) {
		s.articles[a.ID] = a
		s.fileIndex[a.FileID] = a.ID
	})
	return a.ID, nil
}

func (t *tx) LinkDomain(ctx context.Context, articleID, domainID int64) error {
	t.ops = append(t.ops, func(s *Store) {
		s.links[[2]int64{articleID, domainID}] = struct{}{}
	})
	return nil
}

func (t *tx) SetJournalISSN(ctx context.Context, journalID int64, ppub, epub string) error {
	t.ops = append(t.ops, func(s *Store) {
		s.issn[journalID] = [2]string{ppub, epub}
	})
	return nil
}

func (t *tx) ClearAssociations(ctx context.Context, family ingest.Family) (int64, error) {
	table := family.AssociationTable()
	t.s.mu.Lock()
	n := int64(len(t.s.assocs[table]))
	t.s.mu.Unlock()
	t.ops = append(t.ops, func(s *Store) {
		delete(s.assocs, table)
	})
	return n, nil
}

func (t *tx) ClearTerms(ctx context.Context) (int64, error) {
	t.s.mu.Lock()
	n := int64(len(t.s.labels[store.Terms.Table]))
	t.s.mu.Unlock()
	t.ops = append(t.ops, func(s *Store) {
		s.labels[store.Terms.Table] = make(map[string]int64)
	})
	return n, nil
}

func (t *tx) ClearArticles(ctx context.Context) (int64, error) {
	t.s.mu.Lock()
	n := int64(len(t.s.articles))
	t.s.mu.Unlock()
	t.ops = append(t.ops, func(s *Store) {
		s.assocs = make(map[string][]store.Association)
		s.links = make(map[[2]int64]struct{})
		s.issn = make(map[int64][2]string)
		s.articles = make(map[int64]store.Article)
		s.fileIndex = make(map[string]int64)
		s.labels[store.Journals.Table] = make(map[string]int64)
	})
	return n, nil
}

func copyAssoc(a store.Association) store.Association {
	ids := make([]int64, len(a.TermIDs))
	copy(ids, a.TermIDs)
	a.TermIDs = ids
	return a
}
