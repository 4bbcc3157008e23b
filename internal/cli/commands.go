package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
	"github.com/spf13/cobra"
)

func newLoginCommand(opts *options) *cobra.Command {
	var creds session.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validate ATS credentials and store a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := NewClient(opts.server, "").Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			if err := opts.writeToken(res.Token); err != nil {
				return err
			}
			slog.Debug("token stored", "file", opts.tokenFile)
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s until %s\n", creds.FirmSlug, res.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&creds.FirmSlug, "firm", envOr("CW_FIRM_SLUG", ""), "firm slug")
	f.StringVar(&creds.FirmAPIKey, "api-key", envOr("CW_FIRM_API_KEY", ""), "firm API key")
	f.StringVar(&creds.ClockworkAuthKey, "auth-key", envOr("CW_CLOCKWORK_AUTH_KEY", ""), "clockwork bearer key")
	f.StringVar(&creds.OpenAIAPIKey, "openai-key", envOr("CW_CALLER_OPENAI_API_KEY", ""), "optional OpenAI key used instead of the server's")
	f.IntVar(&creds.MaxCandidates, "max-candidates", 0, "candidates to enrich per search (server default when 0)")
	return cmd
}

func newWhoamiCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the credentials behind the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			red, err := c.Whoami(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), red)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "firm:           %s\n", red.FirmSlug)
			fmt.Fprintf(w, "api key:        %s\n", red.FirmAPIKey)
			fmt.Fprintf(w, "auth key:       %s\n", red.ClockworkAuthKey)
			fmt.Fprintf(w, "own openai key: %t\n", red.HasOpenAIKey)
			fmt.Fprintf(w, "max candidates: %d\n", red.MaxCandidates)
			fmt.Fprintf(w, "expires:        %s\n", red.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if errors.Is(err, errNotLoggedIn) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			if err := opts.clearToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newKeywordsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "keywords <query>",
		Short: "Turn a free-text request into categorised keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			set, err := c.Keywords(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), set)
			}
			printKeywords(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func newSearchCommand(opts *options) *cobra.Command {
	var (
		keywords []string
		strategy string
		sse      bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a search and follow ranking and enrichment as they stream in",
		Long: "Run a search. Keywords are given as --keyword category=value and may repeat. " +
			"Without --keyword the query is first turned into keywords by the service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			set, err := parseKeywordFlags(keywords)
			if err != nil {
				return err
			}
			if len(set) == 0 {
				if query == "" {
					return errors.New("give a query or at least one --keyword")
				}
				if set, err = c.Keywords(cmd.Context(), query); err != nil {
					return err
				}
				if !opts.json {
					printKeywords(cmd.OutOrStdout(), set)
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}

			format := stream.FormatNDJSON
			if sse {
				format = stream.FormatSSE
			}
			p := &printer{w: cmd.OutOrStdout(), json: opts.json, names: map[ats.ID]string{}}
			return c.Search(cmd.Context(), SearchRequest{
				Keywords:        set,
				OriginalQuery:   query,
				RankingStrategy: strategy,
			}, format, p.print)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&keywords, "keyword", "k", nil, "category=value, repeatable (e.g. -k title=cfo)")
	f.StringVar(&strategy, "strategy", "", "ranking strategy: frequency or category")
	f.BoolVar(&sse, "sse", false, "request Server-Sent Events framing")
	return cmd
}

// parseKeywordFlags turns ["title=cfo", "industry=fintech"] into a set.
// A value without a category goes under title.
func parseKeywordFlags(flags []string) (parser.KeywordSet, error) {
	set := parser.KeywordSet{}
	for _, raw := range flags {
		category, value, ok := strings.Cut(raw, "=")
		if !ok {
			category, value = parser.CategoryTitle, raw
		}
		category = strings.ToLower(strings.TrimSpace(category))
		value = strings.TrimSpace(value)
		if category == "" || value == "" {
			return nil, fmt.Errorf("invalid --keyword %q", raw)
		}
		set[category] = append(set[category], value)
	}
	return set, nil
}

func printKeywords(w io.Writer, set parser.KeywordSet) {
	for _, category := range set.Categories() {
		fmt.Fprintf(w, "%-11s %s\n", category+":", strings.Join(set[category], ", "))
	}
}

type printer struct {
	w     io.Writer
	json  bool
	names map[ats.ID]string
}

func (p *printer) print(ev stream.Event) error {
	if p.json {
		return writeJSON(p.w, ev)
	}
	switch ev.Type {
	case stream.EventInitial:
		fmt.Fprintf(p.w, "%d candidates, enriching %d\n\n", ev.Total, ev.ProcessingCount)
		for i, c := range ev.Candidates {
			p.names[c.ID] = c.Name
			fmt.Fprintf(p.w, "%3d. %-30s score %-5d %s\n", i+1, c.Name, c.MatchScore, strings.Join(c.MatchedKeywords, ", "))
		}
		fmt.Fprintln(p.w)
	case stream.EventNotes:
		fmt.Fprintf(p.w, "[%s] %d notes\n", p.name(ev.PersonID), len(ev.Notes))
	case stream.EventSummary:
		fmt.Fprintf(p.w, "[%s] %s\n", p.name(ev.PersonID), ev.ShortSummary)
	case stream.EventError:
		fmt.Fprintf(p.w, "search aborted: %s\n", ev.Message)
	}
	return nil
}

func (p *printer) name(id ats.ID) string {
	if n := p.names[id]; n != "" {
		return n
	}
	return string(id)
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

