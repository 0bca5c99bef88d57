package ingest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxLabelLen is the width of the term label column.
const DefaultMaxLabelLen = 30

// Family describes one n-gram family: how many tokens a line carries, how
// long a stored label may be and how its frequency files are named.
type Family struct {
	Name        string
	Arity       int
	MaxLabelLen int
	// Dir is the corpus sub-directory holding the family's files.
	Dir string
	// Suffix follows the fileid in every frequency file name.
	Suffix string
}

var families = map[string]Family{
	"ngram1": newFamily(1),
	"ngram2": newFamily(2),
	"ngram3": newFamily(3),
}

func newFamily(arity int) Family {
	name := fmt.Sprintf("ngram%d", arity)
	return Family{
		Name:        name,
		Arity:       arity,
		MaxLabelLen: DefaultMaxLabelLen,
		Dir:         name,
		Suffix:      "-" + name + ".txt",
	}
}

// Trigrams is the family the ingestion engine is built around.
var Trigrams = families["ngram3"]

// FamilyByName returns the registered family with the given name.
func FamilyByName(name string) (Family, error) {
	f, ok := families[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Family{}, fmt.Errorf("unknown n-gram family %q (known: %s)", name, strings.Join(FamilyNames(), ", "))
	}
	return f, nil
}

// FamilyNames lists the registered family names in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FileID derives the article fileid from a frequency file path, e.g.
// ".../A1-ngram3.txt" gives "A1". It reports false when the file name does
// not carry the family suffix.
func (f Family) FileID(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, f.Suffix) {
		return "", false
	}
	id := strings.TrimSuffix(base, f.Suffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// AssociationTable is the name of the table holding the family's
// per-article associations.
func (f Family) AssociationTable() string {
	return fmt.Sprintf("article%dterm", f.Arity)
}

// TermColumns returns the positional term columns, term1..termN.
func (f Family) TermColumns() []string {
	cols := make([]string, f.Arity)
	for i := range cols {
		cols[i] = fmt.Sprintf("term%d", i+1)
	}
	return cols
}

// Validate checks that the family can be used for ingestion.
func (f Family) Validate() error {
	if f.Arity < 1 {
		return fmt.Errorf("family %q: arity must be positive", f.Name)
	}
	if f.MaxLabelLen < 1 {
		return fmt.Errorf("family %q: max label length must be positive", f.Name)
	}
	return nil
}
