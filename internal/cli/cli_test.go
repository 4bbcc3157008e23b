package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
)

type fakeService struct {
	lastSearch SearchRequest
	revoked    bool
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/credentials", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["firmSlug"] != "acme" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"credential validation failed: ats.validate failed with status 401"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(LoginResult{Token: "tok-abc", ExpiresAt: time.Now().Add(time.Hour)})
	})
	mux.HandleFunc("DELETE /api/v1/credentials", func(w http.ResponseWriter, r *http.Request) {
		f.revoked = r.Header.Get("Authorization") == "Bearer tok-abc"
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/keywords", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keywords": parser.KeywordSet{"title": {"cfo"}, "industry": {"fintech"}}})
	})
	mux.HandleFunc("POST /api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abc" {
			t.Errorf("search without token: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)
		em := stream.NewEmitter(w, r, stream.NegotiateFormat(r.Header.Get("Accept")), nil)
		defer em.Close()
		people := []ats.Person{{ID: "1", Name: "Ada Lovelace", MatchScore: 2, MatchedKeywords: []string{"cfo"}}}
		_ = em.Emit(stream.Initial(people, 1, 1))
		_ = em.Emit(stream.NotesEvent("1", []ats.Note{{ID: "n1", Content: "met"}}))
		_ = em.Emit(stream.SummaryEvent("1", "Seasoned CFO", "long"))
	})
	return mux
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func setup(t *testing.T) (*fakeService, []string) {
	t.Helper()
	t.Setenv("CW_SESSION_TOKEN", "")
	f := &fakeService{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	tokenFile := filepath.Join(t.TempDir(), "cwsearch", "token")
	return f, []string{"--server", srv.URL, "--token-file", tokenFile}
}

func TestLoginSearchLogout(t *testing.T) {
	f, base := setup(t)
	tokenFile := base[3]

	out, err := run(t, append(base, "login", "--firm", "acme", "--api-key", "k", "--auth-key", "b")...)
	if err != nil {
		t.Fatalf("login: %v (%s)", err, out)
	}
	if b, _ := os.ReadFile(tokenFile); strings.TrimSpace(string(b)) != "tok-abc" {
		t.Fatalf("token file = %q", b)
	}

	out, err = run(t, append(base, "search", "-k", "title=cfo", "-k", "industry=fintech", "--strategy", "category")...)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, want := range []string{"1 candidates, enriching 1", "Ada Lovelace", "[Ada Lovelace] 1 notes", "[Ada Lovelace] Seasoned CFO"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if f.lastSearch.RankingStrategy != "category" || f.lastSearch.Keywords["industry"][0] != "fintech" {
		t.Errorf("search request = %+v", f.lastSearch)
	}

	if _, err := run(t, append(base, "logout")...); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !f.revoked {
		t.Error("session not revoked")
	}
	if _, err := os.Stat(tokenFile); !os.IsNotExist(err) {
		t.Error("token file kept after logout")
	}
}

func TestSearchGeneratesKeywordsFromQuery(t *testing.T) {
	f, base := setup(t)
	if _, err := run(t, append(base, "login", "--firm", "acme", "--api-key", "k", "--auth-key", "b")...); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, append(base, "search", "--sse", "cfo", "in", "fintech")...)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if f.lastSearch.OriginalQuery != "cfo in fintech" || f.lastSearch.Keywords["title"][0] != "cfo" {
		t.Errorf("search request = %+v", f.lastSearch)
	}
	if !strings.Contains(out, "industry:") {
		t.Errorf("generated keywords not printed:\n%s", out)
	}
}

func TestLoginRejected(t *testing.T) {
	_, base := setup(t)
	_, err := run(t, append(base, "login", "--firm", "other", "--api-key", "k", "--auth-key", "b")...)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusBadRequest || !strings.Contains(apiErr.Message, "credential validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestSearchRequiresLogin(t *testing.T) {
	_, base := setup(t)
	if _, err := run(t, append(base, "search", "-k", "cfo")...); err != errNotLoggedIn {
		t.Errorf("err = %v, want errNotLoggedIn", err)
	}
}

func TestParseKeywordFlags(t *testing.T) {
	set, err := parseKeywordFlags([]string{"Title=cfo", "vp finance", "location= london "})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(set["title"], ","); got != "cfo,vp finance" {
		t.Errorf("title = %q", got)
	}
	if set["location"][0] != "london" {
		t.Errorf("location = %v", set["location"])
	}
	if _, err := parseKeywordFlags([]string{"title="}); err == nil {
		t.Error("empty value accepted")
	}
}
