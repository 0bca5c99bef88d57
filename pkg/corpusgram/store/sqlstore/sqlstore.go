// Package sqlstore implements store.Store over database/sql. The SQL is
// shared between SQLite and PostgreSQL; the differences live in a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	// PrimaryKey is the column definition of an auto-assigned integer id.
	PrimaryKey string
	// MaxParams bounds the bind parameters of a single statement.
	MaxParams int
	// RowLock is appended to a SELECT to lock the selected rows until the
	// transaction ends. Empty when transactions already hold the database
	// write lock from their start.
	RowLock string
	// Classify turns driver errors into *store.ConflictError where they
	// are retryable and returns every other error unchanged.
	Classify func(error) error
}

// Options tunes a Store.
type Options struct {
	// MaxParams overrides Dialect.MaxParams when positive.
	MaxParams int
}

// Store is the database/sql implementation of store.Store.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	sb        sq.StatementBuilderType
	maxParams int
}

var _ store.Store = (*Store)(nil)

// New wraps an open database and creates the schema if needed.
func New(ctx context.Context, db *sql.DB, d Dialect, opts Options) (*Store, error) {
	s := &Store{
		db:        db,
		dialect:   d,
		sb:        sq.StatementBuilder.PlaceholderFormat(d.Placeholder),
		maxParams: d.MaxParams,
	}
	if opts.MaxParams > 0 {
		s.maxParams = opts.MaxParams
	}
	if s.maxParams <= 0 {
		s.maxParams = 999
	}
	if s.dialect.Classify == nil {
		s.dialect.Classify = func(err error) error { return err }
	}

	if err := initSchema(ctx, db, d); err != nil {
		return nil, fmt.Errorf("init %s schema: %w", d.Name, err)
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// schemaStatements returns the DDL for the dialect, one statement per entry.
func schemaStatements(d Dialect) []string {
	pk := d.PrimaryKey
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS terms (
	id %s,
	label VARCHAR(%d) NOT NULL UNIQUE
)`, pk, store.Terms.MaxLen),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS journals (
	id %s,
	label VARCHAR(%d) NOT NULL UNIQUE,
	ppub VARCHAR(50),
	epub VARCHAR(50)
)`, pk, store.Journals.MaxLen),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS languages (
	id %s,
	label VARCHAR(%d) NOT NULL UNIQUE
)`, pk, store.Languages.MaxLen),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS domains (
	id %s,
	label VARCHAR(%d) NOT NULL UNIQUE
)`, pk, store.Domains.MaxLen),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS articles (
	id %s,
	fileid VARCHAR(100) NOT NULL UNIQUE,
	journal_id BIGINT REFERENCES journals(id) ON DELETE CASCADE,
	language_id BIGINT REFERENCES languages(id) ON DELETE SET NULL,
	label VARCHAR(300),
	pub_date DATE
)`, pk),
		`CREATE TABLE IF NOT EXISTS article_domains (
	article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	domain_id BIGINT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	PRIMARY KEY (article_id, domain_id)
)`,
	}

	for _, name := range ingest.FamilyNames() {
		f, _ := ingest.FamilyByName(name)
		table := f.AssociationTable()

		var cols strings.Builder
		for _, c := range f.TermColumns() {
			fmt.Fprintf(&cols, "\t%s BIGINT NOT NULL REFERENCES terms(id) ON DELETE CASCADE,\n", c)
		}
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
%s	freq SMALLINT NOT NULL DEFAULT 0 CHECK (freq >= 0)
)`, table, cols.String()),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_article ON %s (article_id)`, table, table),
		)
	}
	return stmts
}

func initSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range schemaStatements(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Within runs fn in a transaction.
func (s *Store) Within(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&txn{s: s, tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// FindArticle resolves a fileid to an article in one of the languages.
func (s *Store) FindArticle(ctx context.Context, fileID string, languages []string) (store.Article, bool, error) {
	q := s.sb.
		Select("a.id", "a.fileid", "COALESCE(a.journal_id, 0)", "COALESCE(a.language_id, 0)", "COALESCE(a.label, '')").
		From("articles a").
		Where(sq.Eq{"a.fileid": fileID})
	if len(languages) > 0 {
		q = q.Join("languages l ON l.id = a.language_id").Where(sq.Eq{"l.label": languages})
	}

	query, args, err := q.Limit(1).ToSql()
	if err != nil {
		return store.Article{}, false, err
	}

	var a store.Article
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.FileID, &a.JournalID, &a.LanguageID, &a.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Article{}, false, nil
	}
	if err != nil {
		return store.Article{}, false, s.classify(err)
	}
	return a, true, nil
}

// IngestedArticles returns the ids of articles with associations for family.
func (s *Store) IngestedArticles(ctx context.Context, family ingest.Family) (*roaring64.Bitmap, error) {
	query, args, err := s.sb.Select("article_id").Distinct().From(family.AssociationTable()).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	bm := roaring64.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		bm.Add(uint64(id))
	}
	return bm, rows.Err()
}

// Labels returns every label of kind.
func (s *Store) Labels(ctx context.Context, kind store.Kind) (map[string]int64, error) {
	query, args, err := s.sb.Select("id", "label").From(kind.Table).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(err)
	}
	return scanLabels(rows, nil)
}

func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	return s.dialect.Classify(err)
}

// txn implements store.Tx on a *sql.Tx.
type txn struct {
	s  *Store
	tx *sql.Tx
}

var _ store.Tx = (*txn)(nil)

func (t *txn) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.s.classify(err)
	}
	return rows, nil
}

func (t *txn) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, t.s.classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// chunk splits n items into ranges that keep each statement under the
// parameter limit.
func (t *txn) chunk(n, perItem int) [][2]int {
	size := t.s.maxParams / perItem
	if size < 1 {
		size = 1
	}
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

func (t *txn) LookupLabels(ctx context.Context, kind store.Kind, labels []string) (map[string]int64, error) {
	out := make(map[string]int64, len(labels))
	for _, r := range t.chunk(len(labels), 1) {
		rows, err := t.query(ctx, t.s.sb.
			Select("id", "label").
			From(kind.Table).
			Where(sq.Eq{"label": labels[r[0]:r[1]]}))
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", kind.Table, err)
		}
		if _, err := scanLabels(rows, out); err != nil {
			return nil, fmt.Errorf("lookup %s: %w", kind.Table, t.s.classify(err))
		}
	}
	return out, nil
}

func (t *txn) InsertLabels(ctx context.Context, kind store.Kind, labels []string) (map[string]int64, error) {
	out := make(map[string]int64, len(labels))
	for _, r := range t.chunk(len(labels), 1) {
		ins := t.s.sb.Insert(kind.Table).Columns("label")
		for _, l := range labels[r[0]:r[1]] {
			ins = ins.Values(l)
		}
		rows, err := t.query(ctx, ins.Suffix("RETURNING id, label"))
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", kind.Table, err)
		}
		if _, err := scanLabels(rows, out); err != nil {
			return nil, fmt.Errorf("insert %s: %w", kind.Table, t.s.classify(err))
		}
	}
	return out, nil
}

func (t *txn) LockArticle(ctx context.Context, articleID int64) error {
	if t.s.dialect.RowLock == "" {
		return nil
	}
	rows, err := t.query(ctx, t.s.sb.
		Select("id").
		From("articles").
		Where(sq.Eq{"id": articleID}).
		Suffix(t.s.dialect.RowLock))
	if err != nil {
		return fmt.Errorf("lock article %d: %w", articleID, err)
	}
	defer rows.Close()
	// The lock is taken as the row is read.
	for rows.Next() {
	}
	return t.s.classify(rows.Err())
}

func (t *txn) HasAssociations(ctx context.Context, family ingest.Family, articleID int64) (bool, error) {
	rows, err := t.query(ctx, t.s.sb.
		Select("1").
		From(family.AssociationTable()).
		Where(sq.Eq{"article_id": articleID}).
		Limit(1))
	if err != nil {
		return false, fmt.Errorf("check %s: %w", family.AssociationTable(), err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, t.s.classify(rows.Err())
}

func (t *txn) DeleteAssociations(ctx context.Context, family ingest.Family, articleID int64) (int64, error) {
	n, err := t.exec(ctx, t.s.sb.Delete(family.AssociationTable()).Where(sq.Eq{"article_id": articleID}))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", family.AssociationTable(), err)
	}
	return n, nil
}

func (t *txn) InsertAssociations(ctx context.Context, family ingest.Family, rows []store.Association) (int, error) {
	cols := append([]string{"article_id"}, family.TermColumns()...)
	cols = append(cols, "freq")

	written := 0
	for _, r := range t.chunk(len(rows), len(cols)) {
		ins := t.s.sb.Insert(family.AssociationTable()).Columns(cols...)
		for _, a := range rows[r[0]:r[1]] {
			if len(a.TermIDs) != family.Arity {
				return written, fmt.Errorf("association for article %d has %d terms, want %d", a.ArticleID, len(a.TermIDs), family.Arity)
			}
			vals := make([]interface{}, 0, len(cols))
			vals = append(vals, a.ArticleID)
			for _, id := range a.TermIDs {
				vals = append(vals, id)
			}
			vals = append(vals, int64(a.Freq))
			ins = ins.Values(vals...)
		}
		if _, err := t.exec(ctx, ins); err != nil {
			return written, fmt.Errorf("insert %s: %w", family.AssociationTable(), err)
		}
		written += r[1] - r[0]
	}
	return written, nil
}

func (t *txn) FindArticleByFileID(ctx context.Context, fileID string) (int64, bool, error) {
	rows, err := t.query(ctx, t.s.sb.Select("id").From("articles").Where(sq.Eq{"fileid": fileID}))
	if err != nil {
		return 0, false, fmt.Errorf("find article: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *txn) SaveArticle(ctx context.Context, a store.Article) (int64, error) {
	if a.ID != 0 {
		_, err := t.exec(ctx, t.s.sb.Update("articles").
			Set("fileid", a.FileID).
			Set("journal_id", nullID(a.JournalID)).
			Set("language_id", nullID(a.LanguageID)).
			Set("label", nullString(a.Label)).
			Set("pub_date", nullDate(a.PubDate)).
			Where(sq.Eq{"id": a.ID}))
		if err != nil {
			return 0, fmt.Errorf("update article %s: %w", a.FileID, err)
		}
		return a.ID, nil
	}

	rows, err := t.query(ctx, t.s.sb.Insert("articles").
		Columns("fileid", "journal_id", "language_id", "label", "pub_date").
		Values(a.FileID, nullID(a.JournalID), nullID(a.LanguageID), nullString(a.Label), nullDate(a.PubDate)).
		Suffix("RETURNING id"))
	if err != nil {
		return 0, fmt.Errorf("insert article %s: %w", a.FileID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, t.s.classify(err)
		}
		return 0, fmt.Errorf("insert article %s: no id returned", a.FileID)
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txn) LinkDomain(ctx context.Context, articleID, domainID int64) error {
	_, err := t.exec(ctx, t.s.sb.Insert("article_domains").
		Columns("article_id", "domain_id").
		Values(articleID, domainID).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		return fmt.Errorf("link domain: %w", err)
	}
	return nil
}

func (t *txn) SetJournalISSN(ctx context.Context, journalID int64, ppub, epub string) error {
	_, err := t.exec(ctx, t.s.sb.Update("journals").
		Set("ppub", nullString(ppub)).
		Set("epub", nullString(epub)).
		Where(sq.Eq{"id": journalID}))
	if err != nil {
		return fmt.Errorf("update journal %d: %w", journalID, err)
	}
	return nil
}

func (t *txn) ClearAssociations(ctx context.Context, family ingest.Family) (int64, error) {
	return t.exec(ctx, t.s.sb.Delete(family.AssociationTable()))
}

func (t *txn) ClearTerms(ctx context.Context) (int64, error) {
	return t.exec(ctx, t.s.sb.Delete(store.Terms.Table))
}

// ClearArticles removes articles, their associations and journals.
func (t *txn) ClearArticles(ctx context.Context) (int64, error) {
	for _, name := range ingest.FamilyNames() {
		f, _ := ingest.FamilyByName(name)
		if _, err := t.ClearAssociations(ctx, f); err != nil {
			return 0, err
		}
	}
	if _, err := t.exec(ctx, t.s.sb.Delete("article_domains")); err != nil {
		return 0, err
	}
	n, err := t.exec(ctx, t.s.sb.Delete("articles"))
	if err != nil {
		return 0, err
	}
	if _, err := t.exec(ctx, t.s.sb.Delete(store.Journals.Table)); err != nil {
		return 0, err
	}
	return n, nil
}

func scanLabels(rows *sql.Rows, into map[string]int64) (map[string]int64, error) {
	defer rows.Close()
	if into == nil {
		into = make(map[string]int64)
	}
	for rows.Next() {
		var (
			id    int64
			label string
		)
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		into[label] = id
	}
	return into, rows.Err()
}

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}
