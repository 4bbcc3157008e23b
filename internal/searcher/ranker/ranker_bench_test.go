package ranker

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/merger"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
)

// benchResults builds keywords×pages result sets over a shared pool of
// candidates so that merging has overlap to fold.
func benchResults(keywords, perPage, pool int) []executor.Result {
	var results []executor.Result
	for k := 0; k < keywords; k++ {
		term := parser.Term{Keyword: fmt.Sprintf("kw%d", k), Category: parser.CategoryTitle}
		if k%2 == 1 {
			term.Category = parser.CategoryIndustry
		}
		for page := 1; page <= 2; page++ {
			people := make([]ats.Person, perPage)
			for i := range people {
				id := (k*7 + page*perPage + i) % pool
				raw, _ := json.Marshal(map[string]any{"id": id, "name": fmt.Sprintf("Person %d", id), "title": term.Keyword})
				people[i] = ats.Person{ID: ats.ID(fmt.Sprint(id)), Name: fmt.Sprintf("Person %d", id), Raw: raw}
			}
			results = append(results, executor.Result{Term: term, Page: page, People: people})
		}
	}
	return results
}

// BenchmarkMerge measures folding fan-out results for growing keyword counts.
func BenchmarkMerge(b *testing.B) {
	for _, keywords := range []int{2, 8, 20} {
		results := benchResults(keywords, 25, 200)
		b.Run(fmt.Sprintf("keywords_%d", keywords), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = merger.Merge(results)
			}
		})
	}
}

// BenchmarkRank measures ordering a merged index under both strategies.
func BenchmarkRank(b *testing.B) {
	idx := merger.Merge(benchResults(12, 25, 500))
	for _, strategy := range []Strategy{Frequency, Category} {
		b.Run(string(strategy), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := Rank(idx, strategy); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
