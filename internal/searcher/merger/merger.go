// Package merger folds per-keyword search results into one index keyed by
// candidate id.
package merger

import (
	"strings"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
)

// Entry accumulates everything known about one candidate.
type Entry struct {
	Person     ats.Person
	Count      int
	Keywords   []string
	Categories []string
	// FirstSeen is the position at which the id first appeared.
	FirstSeen int

	keywordSet  map[string]struct{}
	categorySet map[string]struct{}
}

// HasCategory reports whether the candidate appeared for any keyword of the
// given category.
func (e *Entry) HasCategory(category string) bool {
	_, ok := e.categorySet[category]
	return ok
}

// Index is the fold result. Entries are in first-seen order.
type Index struct {
	Entries []*Entry
	byID    map[ats.ID]*Entry
}

// Get returns the entry for id.
func (idx *Index) Get(id ats.ID) (*Entry, bool) {
	e, ok := idx.byID[id]
	return e, ok
}

// Len returns the number of distinct candidates.
func (idx *Index) Len() int {
	return len(idx.Entries)
}

// Merge walks results in order. The first record seen for an id is kept.
// Every appearance increments the count and records the category; the
// keyword joins Keywords only if it occurs, ignoring case, in the
// candidate's name or serialized record.
func Merge(results []executor.Result) *Index {
	idx := &Index{byID: make(map[ats.ID]*Entry)}
	for _, r := range results {
		needle := strings.ToLower(r.Term.Keyword)
		for _, p := range r.People {
			e, ok := idx.byID[p.ID]
			if !ok {
				e = &Entry{
					Person:      p,
					FirstSeen:   len(idx.Entries),
					keywordSet:  make(map[string]struct{}),
					categorySet: make(map[string]struct{}),
				}
				idx.byID[p.ID] = e
				idx.Entries = append(idx.Entries, e)
			}
			e.Count++
			if r.Term.Category != "" {
				if _, seen := e.categorySet[r.Term.Category]; !seen {
					e.categorySet[r.Term.Category] = struct{}{}
					e.Categories = append(e.Categories, r.Term.Category)
				}
			}
			if _, seen := e.keywordSet[r.Term.Keyword]; seen {
				continue
			}
			if matches(&p, needle) {
				e.keywordSet[r.Term.Keyword] = struct{}{}
				e.Keywords = append(e.Keywords, r.Term.Keyword)
			}
		}
	}
	return idx
}

func matches(p *ats.Person, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(p.Text(), needle)
}
