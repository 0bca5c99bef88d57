package store

import (
	"context"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
)

// Store is the datastore the ingestion engine writes to. All writes happen
// inside Within so that one article commits or rolls back as a unit.
type Store interface {
	Close() error

	// Within runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Conflicts surface as
	// *ConflictError.
	Within(ctx context.Context, fn func(tx Tx) error) error

	// FindArticle resolves a fileid to an article whose language is in
	// languages. An empty language list accepts any language.
	FindArticle(ctx context.Context, fileID string, languages []string) (Article, bool, error)

	// IngestedArticles returns the ids of articles that already have
	// associations in the family's table.
	IngestedArticles(ctx context.Context, family ingest.Family) (*roaring64.Bitmap, error)

	// Labels returns every stored label of the given kind with its id.
	Labels(ctx context.Context, kind Kind) (map[string]int64, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LookupLabels returns the ids of the labels that already exist.
	LookupLabels(ctx context.Context, kind Kind, labels []string) (map[string]int64, error)
	// InsertLabels creates the labels and returns their assigned ids. A
	// label that already exists yields a ConflictUnique error.
	InsertLabels(ctx context.Context, kind Kind, labels []string) (map[string]int64, error)

	// LockArticle holds the article until the transaction ends, so two
	// transactions writing the same article run one after the other.
	LockArticle(ctx context.Context, articleID int64) error
	HasAssociations(ctx context.Context, family ingest.Family, articleID int64) (bool, error)
	DeleteAssociations(ctx context.Context, family ingest.Family, articleID int64) (int64, error)
	// InsertAssociations writes rows with multi-row inserts and returns the
	// number of rows written.
	InsertAssociations(ctx context.Context, family ingest.Family, rows []Association) (int, error)

	FindArticleByFileID(ctx context.Context, fileID string) (int64, bool, error)
	// SaveArticle inserts the article, or updates it when a.ID is set.
	SaveArticle(ctx context.Context, a Article) (int64, error)
	LinkDomain(ctx context.Context, articleID, domainID int64) error
	SetJournalISSN(ctx context.Context, journalID int64, ppub, epub string) error

	ClearAssociations(ctx context.Context, family ingest.Family) (int64, error)
	ClearTerms(ctx context.Context) (int64, error)
	ClearArticles(ctx context.Context) (int64, error)
}

// Kind is a label dictionary: a table of unique, immutable labels.
type Kind struct {
	Name   string
	Table  string
	MaxLen int
}

// Label dictionaries known to the store.
var (
	Terms     = Kind{Name: "term", Table: "terms", MaxLen: ingest.DefaultMaxLabelLen}
	Journals  = Kind{Name: "journal", Table: "journals", MaxLen: 200}
	Languages = Kind{Name: "language", Table: "languages", MaxLen: 10}
	Domains   = Kind{Name: "domain", Table: "domains", MaxLen: 30}
)

// Kinds lists all label dictionaries.
var Kinds = []Kind{Terms, Journals, Languages, Domains}

// Article is the subset of article metadata the engine reads and writes.
type Article struct {
	ID         int64
	FileID     string
	JournalID  int64
	LanguageID int64
	Label      string
	PubDate    time.Time
}

// Association links an article to one n-gram's term ids.
type Association struct {
	ArticleID int64
	TermIDs   []int64
	Freq      uint16
}
