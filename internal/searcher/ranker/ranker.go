// Package ranker orders merged candidates under a configurable strategy.
package ranker

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/merger"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
)

// Strategy names a ranking policy.
type Strategy string

const (
	// Frequency ranks by how many keyword searches returned the candidate.
	Frequency Strategy = config.RankingFrequency
	// Category keeps only candidates found by a title or industry keyword and
	// ranks by distinct categories, then appearances.
	Category Strategy = config.RankingCategory
)

const categoryWeight = 1000

// ParseStrategy validates a configured strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case Frequency, Category:
		return s, nil
	case "":
		return Frequency, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown ranking strategy %q", name)
	}
}

// Rank returns the candidates of idx best first with MatchScore and
// MatchedKeywords filled in. Ties keep first-seen order.
func Rank(idx *merger.Index, strategy Strategy) ([]ats.Person, error) {
	var entries []*merger.Entry
	var score func(e *merger.Entry) int
	var less func(a, b *merger.Entry) bool

	switch strategy {
	case Frequency, "":
		entries = append(entries, idx.Entries...)
		score = func(e *merger.Entry) int { return e.Count }
		less = func(a, b *merger.Entry) bool { return a.Count > b.Count }
	case Category:
		for _, e := range idx.Entries {
			if e.HasCategory(parser.CategoryTitle) || e.HasCategory(parser.CategoryIndustry) {
				entries = append(entries, e)
			}
		}
		score = func(e *merger.Entry) int {
			return len(e.Categories)*categoryWeight + min(e.Count, categoryWeight-1)
		}
		less = func(a, b *merger.Entry) bool {
			if len(a.Categories) != len(b.Categories) {
				return len(a.Categories) > len(b.Categories)
			}
			return a.Count > b.Count
		}
	default:
		return nil, fmt.Errorf("rank: %w", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown ranking strategy %q", strategy))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})

	ranked := make([]ats.Person, len(entries))
	for i, e := range entries {
		p := e.Person
		p.MatchScore = score(e)
		p.MatchedKeywords = append([]string{}, e.Keywords...)
		ranked[i] = p
	}
	return ranked, nil
}
