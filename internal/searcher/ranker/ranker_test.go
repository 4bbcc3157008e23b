package ranker

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/merger"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
)

func people(ids ...int) []ats.Person {
	out := make([]ats.Person, len(ids))
	for i, id := range ids {
		raw := fmt.Sprintf(`{"id":%d,"name":"P%d"}`, id, id)
		if err := json.Unmarshal([]byte(raw), &out[i]); err != nil {
			panic(err)
		}
	}
	return out
}

func ids(ranked []ats.Person) []string {
	out := make([]string, len(ranked))
	for i, p := range ranked {
		out[i] = string(p.ID)
	}
	return out
}

func fixture() *merger.Index {
	return merger.Merge([]executor.Result{
		{Term: parser.Term{Keyword: "go", Category: "skills"}, People: people(1, 2, 3)},
		{Term: parser.Term{Keyword: "cto", Category: "title"}, People: people(3, 4)},
		{Term: parser.Term{Keyword: "berlin", Category: "location"}, People: people(2, 4, 5)},
		{Term: parser.Term{Keyword: "fintech", Category: "industry"}, People: people(4)},
	})
}

func TestRank_Frequency(t *testing.T) {
	ranked, err := Rank(fixture(), Frequency)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	// counts: 1→1, 2→2, 3→2, 4→3, 5→1
	want := []string{"4", "2", "3", "1", "5"}
	if got := ids(ranked); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if ranked[0].MatchScore != 3 || ranked[4].MatchScore != 1 {
		t.Errorf("scores = %d, %d", ranked[0].MatchScore, ranked[4].MatchScore)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1].MatchScore < ranked[i].MatchScore {
			t.Errorf("score not monotonic at %d", i)
		}
	}
}

func TestRank_Category(t *testing.T) {
	ranked, err := Rank(fixture(), Category)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	// only 3 (title) and 4 (title, industry) qualify
	want := []string{"4", "3"}
	if got := ids(ranked); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if ranked[0].MatchScore != 3*categoryWeight+3 {
		t.Errorf("score = %d", ranked[0].MatchScore)
	}
	if ranked[1].MatchScore != 2*categoryWeight+2 {
		t.Errorf("score = %d", ranked[1].MatchScore)
	}
}

func TestRank_DoesNotMutateIndex(t *testing.T) {
	idx := fixture()
	ranked, _ := Rank(idx, Frequency)
	ranked[0].MatchedKeywords = append(ranked[0].MatchedKeywords, "extra")
	if e, _ := idx.Get(ranked[0].ID); len(e.Keywords) != len(ranked[0].MatchedKeywords)-1 {
		t.Errorf("index keywords changed: %v", e.Keywords)
	}
	if idx.Entries[0].Person.MatchScore != 0 {
		t.Error("index person mutated")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != Frequency {
		t.Errorf("empty -> %q, %v", s, err)
	}
	if s, err := ParseStrategy("category"); err != nil || s != Category {
		t.Errorf("category -> %q, %v", s, err)
	}
	if _, err := ParseStrategy("bm25"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bm25 err = %v", err)
	}
}
