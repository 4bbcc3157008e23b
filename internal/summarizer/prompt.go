package summarizer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
)

const summarySystemPrompt = "You are an expert at analyzing candidate information and providing concise summaries."

const keywordSystemPrompt = "You turn a recruiter's free-text search request into short search keywords for an applicant tracking system. Reply with JSON only."

var (
	listMarker = regexp.MustCompile(`^(\*\*)?[12][.)]\s*(\*\*)?\s*`)
	codeFence  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

func buildSummaryPrompt(req Request) (string, error) {
	person, err := json.MarshalIndent(req.Person, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding person %s: %w", req.Person.ID, err)
	}
	keywords, err := json.Marshal(req.Keywords)
	if err != nil {
		return "", fmt.Errorf("encoding keywords: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This person was returned in a search of people in an ATS using the following user query: %q and keywords: %s\n\n", req.OriginalQuery, keywords)
	b.WriteString("Person information:\n")
	b.Write(person)
	b.WriteString("\n\nWrite two summaries:\n")
	b.WriteString("1. A single sentence explaining why this person was included in the results\n")
	b.WriteString("2. A paragraph length summary describing how well they meet the search criteria, based on their job history, education, and ATS notes")
	return b.String(), nil
}

// ParseSummary splits model output into the short and long summaries. The
// output is expected as two blank-line separated paragraphs, optionally
// numbered; any further paragraphs belong to the long summary.
func ParseSummary(text string) (*Summary, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var parts []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("summary output has %d paragraphs, want at least 2", len(parts))
	}
	short := listMarker.ReplaceAllString(parts[0], "")
	long := listMarker.ReplaceAllString(strings.Join(parts[1:], "\n\n"), "")
	if short == "" || long == "" {
		return nil, fmt.Errorf("summary output has an empty paragraph")
	}
	return &Summary{Short: short, Long: long}, nil
}

func buildKeywordPrompt(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search request: %q\n\n", query)
	b.WriteString("Return a JSON object whose keys are keyword categories and whose values are arrays of short keywords or phrases. ")
	fmt.Fprintf(&b, "Use the categories %q, %q, %q, %q and %q; leave out categories the request does not mention. ",
		parser.CategoryTitle, parser.CategoryIndustry, parser.CategoryLocation, parser.CategoryExperience, parser.CategorySkills)
	b.WriteString("Include common synonyms for job titles. Each keyword must work on its own as a search query.")
	return b.String()
}

// ParseKeywords decodes the keyword JSON a model returned, tolerating a
// surrounding markdown code fence.
func ParseKeywords(text string) (parser.KeywordSet, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("keyword output is not a JSON object: %w", err)
	}
	set := make(parser.KeywordSet, len(raw))
	for category, value := range raw {
		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			var single string
			if json.Unmarshal(value, &single) != nil {
				continue
			}
			list = []string{single}
		}
		set[category] = list
	}
	normalized, err := parser.Normalize(set)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusUnprocessableEntity, "no keywords could be derived from the query")
	}
	return normalized, nil
}
