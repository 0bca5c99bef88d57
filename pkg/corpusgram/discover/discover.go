// Package discover finds corpus files below a root directory.
package discover

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// Query selects files by path. Subdir is a plain substring of the file's
// directory and Ext of the path; Filter is a list of space separated substrings that must appear in
// that order, case-insensitively.
type Query struct {
	Subdir string
	Ext    string
	Filter string
}

// Frequencies selects the n-gram files of a family directory such as
// "ngram3".
func Frequencies(dir, filter string) Query {
	return Query{Subdir: dir, Ext: ".txt", Filter: filter}
}

// Metadata selects JATS metadata files.
func Metadata(filter string) Query {
	return Query{Subdir: "metadata", Ext: ".xml", Filter: filter}
}

// CompileFilter turns a user filter into a regular expression. An empty
// filter matches everything.
func CompileFilter(filter string) (*regexp.Regexp, error) {
	parts := strings.Fields(filter)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)" + strings.Join(parts, ".*"))
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}
	return re, nil
}

// Files walks root and returns the matching file paths in walk order.
func Files(root string, q Query) ([]string, error) {
	re, err := CompileFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		if q.Match(path, re) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Match reports whether path is selected by q and the compiled filter re.
func (q Query) Match(path string, re *regexp.Regexp) bool {
	if q.Subdir != "" && !strings.Contains(filepath.Dir(path), q.Subdir) {
		return false
	}
	if q.Ext != "" && !strings.Contains(path, q.Ext) {
		return false
	}
	return re == nil || re.MatchString(path)
}
