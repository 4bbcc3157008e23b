// Package parser normalises categorised keyword sets into the flat,
// ordered keyword list that drives the search fan-out.
package parser

import (
	"net/http"
	"sort"
	"strings"

	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
)

// Known categories, in flatten order.
const (
	CategoryTitle      = "title"
	CategoryIndustry   = "industry"
	CategoryLocation   = "location"
	CategoryExperience = "experience"
	CategorySkills     = "skills"
)

var knownCategories = []string{
	CategoryTitle,
	CategoryIndustry,
	CategoryLocation,
	CategoryExperience,
	CategorySkills,
}

// KeywordSet maps a category name to its keywords.
type KeywordSet map[string][]string

// Term is one keyword tagged with the category that produced it.
type Term struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// IsKnownCategory reports whether category is one of the fixed categories.
func IsKnownCategory(category string) bool {
	for _, c := range knownCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Normalize trims every keyword, drops empties and per-category duplicates,
// and lower-cases category names. Categories left without keywords are
// removed. A set with no keywords at all is invalid input.
func Normalize(set KeywordSet) (KeywordSet, error) {
	out := make(KeywordSet, len(set))
	for category, keywords := range set {
		name := strings.ToLower(strings.TrimSpace(category))
		if name == "" {
			continue
		}
		seen := make(map[string]struct{}, len(out[name])+len(keywords))
		for _, kw := range out[name] {
			seen[kw] = struct{}{}
		}
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			out[name] = append(out[name], kw)
		}
		if len(out[name]) == 0 {
			delete(out, name)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "at least one non-empty keyword is required")
	}
	return out, nil
}

// Categories returns the set's categories in flatten order: known categories
// first, then the rest sorted by name.
func (s KeywordSet) Categories() []string {
	categories := make([]string, 0, len(s))
	for _, c := range knownCategories {
		if _, ok := s[c]; ok {
			categories = append(categories, c)
		}
	}
	extra := make([]string, 0)
	for c := range s {
		if !IsKnownCategory(c) {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(categories, extra...)
}

// Terms flattens the set into category-tagged keywords in flatten order.
func (s KeywordSet) Terms() []Term {
	terms := make([]Term, 0)
	for _, c := range s.Categories() {
		for _, kw := range s[c] {
			terms = append(terms, Term{Keyword: kw, Category: c})
		}
	}
	return terms
}

// Flatten returns just the keywords, in flatten order.
func (s KeywordSet) Flatten() []string {
	terms := s.Terms()
	keywords := make([]string, len(terms))
	for i, t := range terms {
		keywords[i] = t.Keyword
	}
	return keywords
}

// CacheKey is a canonical string for the set in flatten order with keywords
// lower-cased. Keyword order is kept because it decides ranking ties.
func (s KeywordSet) CacheKey() string {
	parts := make([]string, 0, len(s))
	for _, c := range s.Categories() {
		kws := make([]string, len(s[c]))
		for i, kw := range s[c] {
			kws[i] = strings.ToLower(kw)
		}
		parts = append(parts, c+"="+strings.Join(kws, ","))
	}
	return strings.Join(parts, "|")
}
