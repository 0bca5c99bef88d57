// Package meta reads JATS article metadata and records it in the store.
package meta

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// Column sizes of the article and journal records.
const (
	MaxFileID = 100
	MaxTitle  = 300
	MaxISSN   = 50
)

const (
	DefaultJournal  = "unspecified"
	DefaultLanguage = "und"
	DefaultDomain   = "unknown"
)

// ErrNoYear is returned for a record that has neither a publication year
// nor a year in its path.
var ErrNoYear = errors.New("no publication year")

var (
	domainRe = regexp.MustCompile(`([^/]+?)\s+Corpus`)
	yearRe   = regexp.MustCompile(` (\d{4})/`)
	digitsRe = regexp.MustCompile(`^\d+$`)
)

var months = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// Record is the metadata of one article.
type Record struct {
	FileID   string
	Journal  string
	PPub     string
	EPub     string
	Title    string
	Language string
	Domain   string
	Year     int
	Month    int
}

// PubDate is the first day of the publication month.
func (r Record) PubDate() time.Time {
	return time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC)
}

// FileID derives the article fileid from a metadata file path.
func FileID(path string) string {
	return ingest.Truncate(strings.TrimSuffix(filepath.Base(path), ".xml"), MaxFileID)
}

// ReadFile reads the metadata file at path. ok is false when the file is
// not well-formed XML and should be skipped.
func ReadFile(path string) (rec Record, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false, err
	}
	return Parse(data, path)
}

// Parse extracts a record from a JATS document. path supplies the fileid,
// the domain and, when the document has none, the publication year.
func Parse(data []byte, path string) (Record, bool, error) {
	label, ok := wellFormed(data)
	if !ok {
		return Record{}, false, nil
	}

	var r io.Reader = bytes.NewReader(data)
	if label != "" {
		cr, err := charset.NewReaderLabel(label, r)
		if err != nil {
			return Record{}, false, nil
		}
		r = cr
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Record{}, false, nil
	}

	slashed := filepath.ToSlash(path)
	rec := Record{
		FileID:   FileID(path),
		Journal:  text(doc.Find("journal-title"), store.Journals.MaxLen),
		PPub:     text(doc.Find(`journal-meta issn[pub-type="ppub"]`), MaxISSN),
		EPub:     text(doc.Find(`journal-meta issn[pub-type="epub"]`), MaxISSN),
		Title:    text(doc.Find("article-meta title-group article-title"), MaxTitle),
		Language: strings.ToLower(ingest.Truncate(language(doc), store.Languages.MaxLen)),
		Domain:   domain(slashed),
		Month:    month(text(doc.Find("article-meta pub-date month"), 20)),
	}
	if rec.Journal == "" {
		rec.Journal = DefaultJournal
	}
	if rec.Language == "" {
		rec.Language = DefaultLanguage
	}

	year := text(doc.Find("article-meta pub-date year"), 20)
	if year == "" {
		if m := yearRe.FindStringSubmatch(slashed); m != nil {
			year = m[1]
		}
	}
	rec.Year, err = strconv.Atoi(year)
	if err != nil || rec.Year <= 0 {
		return rec, true, fmt.Errorf("%s: %w", path, ErrNoYear)
	}
	return rec, true, nil
}

// wellFormed reports whether data is a well-formed XML document and
// returns its declared encoding when it is not UTF-8.
func wellFormed(data []byte) (label string, ok bool) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(l string, in io.Reader) (io.Reader, error) {
		label = l
		return charset.NewReaderLabel(l, in)
	}

	root := false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return label, root
		}
		if err != nil {
			return "", false
		}
		if _, ok := tok.(xml.StartElement); ok {
			root = true
		}
	}
}

func text(sel *goquery.Selection, max int) string {
	return ingest.Truncate(strings.TrimSpace(sel.First().Text()), max)
}

func language(doc *goquery.Document) string {
	var lang string
	doc.Find("article-meta custom-meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Find("meta-name").First().Text()) != "lang" {
			return true
		}
		lang = strings.TrimSpace(s.Find("meta-value").First().Text())
		return false
	})
	return lang
}

// domain takes the last "<name> Corpus" directory of the path.
func domain(path string) string {
	d := DefaultDomain
	for _, m := range domainRe.FindAllStringSubmatch(path, -1) {
		d = strings.ToLower(strings.TrimSpace(m[1]))
	}
	return ingest.Truncate(d, store.Domains.MaxLen)
}

// month accepts a month number or a month name; anything else is January.
func month(s string) int {
	s = strings.ToLower(s)
	if digitsRe.MatchString(s) {
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
			return n
		}
		return 1
	}
	for i, m := range months {
		if strings.HasPrefix(s, m) {
			return i + 1
		}
	}
	return 1
}
