package ats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Credentials scope every ATS call to one firm.
type Credentials struct {
	FirmSlug         string `json:"firmSlug"`
	FirmAPIKey       string `json:"firmApiKey"`
	ClockworkAuthKey string `json:"clockworkAuthKey"`
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.FirmSlug) != "" &&
		strings.TrimSpace(c.FirmAPIKey) != "" &&
		strings.TrimSpace(c.ClockworkAuthKey) != ""
}

// ID is an upstream identifier. The ATS sends ids both as strings and as
// numbers; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Note is one ATS note attached to a person. Content may contain HTML.
type Note struct {
	ID        ID     `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Person is a candidate record. Everything the ATS sends is kept verbatim in
// Raw and passed through untouched; only id and name are interpreted. The
// remaining fields are attached by the search pipeline and are overlaid on
// the raw record when marshalled.
type Person struct {
	ID   ID
	Name string
	Raw  json.RawMessage

	MatchScore      int
	MatchedKeywords []string
	Notes           []Note
	ShortSummary    string
	LongSummary     string
}

func (p *Person) UnmarshalJSON(data []byte) error {
	var head struct {
		ID              ID       `json:"id"`
		Name            string   `json:"name"`
		MatchScore      int      `json:"matchScore"`
		MatchedKeywords []string `json:"matchedKeywords"`
		Notes           []Note   `json:"notes"`
		ShortSummary    string   `json:"shortSummary"`
		LongSummary     string   `json:"longSummary"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.ID == "" {
		return fmt.Errorf("person record has no id")
	}
	*p = Person{
		ID:              head.ID,
		Name:            head.Name,
		Raw:             append(json.RawMessage(nil), data...),
		MatchScore:      head.MatchScore,
		MatchedKeywords: head.MatchedKeywords,
		Notes:           head.Notes,
		ShortSummary:    head.ShortSummary,
		LongSummary:     head.LongSummary,
	}
	return nil
}

func (p Person) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(p.Raw) > 0 {
		if err := json.Unmarshal(p.Raw, &fields); err != nil {
			return nil, fmt.Errorf("person %s: raw record is not an object: %w", p.ID, err)
		}
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}
	if err := set("id", string(p.ID)); err != nil {
		return nil, err
	}
	if _, ok := fields["name"]; !ok || p.Name != "" {
		if err := set("name", p.Name); err != nil {
			return nil, err
		}
	}
	if err := set("matchScore", p.MatchScore); err != nil {
		return nil, err
	}
	keywords := p.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	if err := set("matchedKeywords", keywords); err != nil {
		return nil, err
	}
	if p.Notes != nil {
		if err := set("notes", p.Notes); err != nil {
			return nil, err
		}
	}
	if p.ShortSummary != "" {
		if err := set("shortSummary", p.ShortSummary); err != nil {
			return nil, err
		}
	}
	if p.LongSummary != "" {
		if err := set("longSummary", p.LongSummary); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// Text is the lower-cased serialized record used for keyword matching.
func (p *Person) Text() string {
	if len(p.Raw) > 0 {
		return strings.ToLower(string(p.Raw))
	}
	return strings.ToLower(p.Name)
}

// Meta is the optional pagination block of a search response.
type Meta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// SearchPage is one decoded people_search response.
type SearchPage struct {
	Keyword string
	Page    int
	People  []Person
	Meta    *Meta
}

