package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxFreq is the largest frequency an association can store.
const MaxFreq = 32767

// maxLineLen bounds a single row of a frequency file.
const maxLineLen = 1 << 20

// ErrMalformed marks a frequency file that cannot be read as a whole.
// Individual malformed rows are skipped and never produce it.
var ErrMalformed = errors.New("malformed frequency file")

// Line is one distinct n-gram of a file.
type Line struct {
	Freq   uint16
	Tokens []string
}

// Parsed is the result of reading one frequency file.
type Parsed struct {
	// Lines is keyed by the n-gram string as it appears in the file.
	Lines map[string]Line
	// Tokens is the set of distinct classified tokens.
	Tokens map[string]struct{}
}

// TokenList returns the distinct tokens as a slice.
func (p *Parsed) TokenList() []string {
	out := make([]string, 0, len(p.Tokens))
	for t := range p.Tokens {
		out = append(out, t)
	}
	return out
}

// Parser reads tab-delimited (n-gram, frequency) files for one family.
type Parser struct {
	family Family
}

// NewParser creates a parser for the given family.
func NewParser(f Family) *Parser {
	return &Parser{family: f}
}

// ParseFile opens and parses the file at path.
func (p *Parser) ParseFile(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()

	parsed, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

// Parse reads rows from r. Rows whose first column does not split into
// exactly Arity space-separated tokens, or whose frequency is not a
// non-negative integer, are skipped. When the same n-gram appears twice the
// last row wins.
func (p *Parser) Parse(r io.Reader) (*Parsed, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)

	parsed := &Parsed{
		Lines:  make(map[string]Line),
		Tokens: make(map[string]struct{}),
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		row := strings.SplitN(strings.TrimSuffix(scanner.Text(), "\r"), "\t", 3)
		if len(row) < 2 {
			continue
		}

		for _, col := range row[:2] {
			if !utf8.ValidString(col) {
				return nil, fmt.Errorf("%w: invalid UTF-8 on line %d", ErrMalformed, lineNo)
			}
		}

		key := strings.TrimSpace(row[0])
		parts := strings.Split(key, " ")
		if len(parts) != p.family.Arity {
			continue
		}

		freq, ok := parseFreq(row[1])
		if !ok {
			continue
		}

		tokens := make([]string, len(parts))
		for i, part := range parts {
			tok := Classify(Truncate(part, p.family.MaxLabelLen))
			tokens[i] = tok
			parsed.Tokens[tok] = struct{}{}
		}
		parsed.Lines[key] = Line{Freq: freq, Tokens: tokens}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo+1, err)
	}

	return parsed, nil
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func parseFreq(s string) (uint16, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	if v > MaxFreq {
		v = MaxFreq
	}
	return uint16(v), true
}
