// Package discovery implements the Finder's pluggable file-discovery
// strategies: a plain directory walk and a parser over rsync transfer
// logs. Both expose an iter.Seq[string] of paths relative to the watched
// directory, so the Finder can range over either uniformly.
package discovery

import (
	"io/fs"
	"iter"
	"path/filepath"
	"regexp"
)

// Scan walks directory and yields every file path relative to it, skipping
// any path matched by one of the exclude patterns.
func Scan(directory string, exclude []*regexp.Regexp) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(directory, path)
			if err != nil {
				return nil
			}
			if matchesAny(rel, exclude) {
				return nil
			}
			if !yield(rel) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

func matchesAny(path string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// CompileExcludes compiles each pattern, stopping at the first invalid one.
func CompileExcludes(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
