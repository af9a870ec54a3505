// Package watch finds module descriptors under a workspace root and turns
// filesystem notifications into refresh requests.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher selects descriptor paths, given relative to the workspace root
// with forward slashes.
type Matcher struct {
	include []string
	exclude []string
}

func NewMatcher(include, exclude []string) (*Matcher, error) {
	for _, p := range append(slices.Clone(include), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	return &Matcher{include: include, exclude: exclude}, nil
}

// Match reports whether rel is a descriptor.
func (m *Matcher) Match(rel string) bool {
	if m.Excluded(rel) {
		return false
	}
	for _, p := range m.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Excluded reports whether rel, or anything below it, is excluded.
func (m *Matcher) Excluded(rel string) bool {
	for _, p := range m.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel+"/"); ok {
			return true
		}
	}
	return false
}

// Discover returns the absolute paths of all descriptors under root,
// sorted.
func Discover(root string, m *Matcher) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(abs)

	var out []string
	seen := map[string]bool{}
	for _, p := range m.include {
		matches, err := doublestar.Glob(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("globbing %q: %w", p, err)
		}
		for _, rel := range matches {
			if seen[rel] || !m.Match(rel) {
				continue
			}
			if info, err := os.Stat(filepath.Join(abs, filepath.FromSlash(rel))); err != nil || info.IsDir() {
				continue
			}
			seen[rel] = true
			out = append(out, filepath.Join(abs, filepath.FromSlash(rel)))
		}
	}
	slices.Sort(out)
	return out, nil
}
