package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
)

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the main collection",
		Long: `Semantic search over the main collection.

Query is all remaining arguments joined by spaces. Multi-word queries work with or
without quotes. Use --keyword for exact-term search; it retries with typo tolerance
when nothing matches.`,
		Example: `  kura search telehealth outreach
  kura search --type grant --k 20 rural clinics
  kura search --keyword --fuzzy telehelth`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}
	cmd.Flags().IntP("k", "k", models.DefaultSearchK, "number of results")
	cmd.Flags().String("type", "", "only documents with this type metadata")
	cmd.Flags().Float64("min-score", 0, "drop results below this similarity")
	cmd.Flags().StringToString("filter", nil, "metadata equality filter as key=value (repeatable)")
	cmd.Flags().Bool("keyword", false, "keyword search instead of semantic")
	cmd.Flags().Bool("fuzzy", false, "typo-tolerant keyword matching")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := buildSearchQuery(args)
	if query == "" {
		return errors.New("query is empty")
	}
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	k, _ := cmd.Flags().GetInt("k")
	docType, _ := cmd.Flags().GetString("type")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	filter, _ := cmd.Flags().GetStringToString("filter")
	useKeyword, _ := cmd.Flags().GetBool("keyword")
	fuzzy, _ := cmd.Flags().GetBool("fuzzy")

	b, err := newBackend(cmd, false)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := commandContext(cmd)
	var response *models.SearchResponse
	if useKeyword {
		response, err = b.keywordSearch(ctx, query, docType, k, fuzzy)
		if err == nil && !fuzzy && len(response.Results) == 0 {
			if retried, rerr := b.keywordSearch(ctx, query, docType, k, true); rerr == nil && len(retried.Results) > 0 {
				response = retried
			}
		}
	} else {
		req := models.SearchRequest{Query: query, K: k, Type: docType}
		if len(filter) > 0 {
			req.Filter = parseMetadata(filter)
		}
		if cmd.Flags().Changed("min-score") {
			req.MinScore = &minScore
		}
		response, err = b.search(ctx, req)
	}
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
}

func newCrossSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cross-search <query>",
		Short: "Search the main collection and success patterns, then follow shared entities across silos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return errors.New("query is empty")
			}
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			k, _ := cmd.Flags().GetInt("k")
			silos, _ := cmd.Flags().GetStringSlice("silo")
			req := models.CrossSiloRequest{Query: query, K: k, SiloTypes: silos}

			ctx := commandContext(cmd)
			var response *models.SearchResponse
			if c := remote(cmd); c != nil {
				response = &models.SearchResponse{}
				err = c.post(ctx, "/api/v1/search/cross-silo", req, response)
			} else {
				var s *session
				if s, err = openSession(cmd, true); err != nil {
					return err
				}
				defer s.Close()
				response, err = s.app.Engine.SearchCrossSilo(ctx, req)
			}
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
		},
	}
	cmd.Flags().IntP("k", "k", models.DefaultSearchK, "number of results")
	cmd.Flags().StringSlice("silo", nil, "restrict success patterns to these silo types")
	return cmd
}

// backend runs searches against a server or a directly opened store.
type backend struct {
	client  *apiClient
	session *session
}

func newBackend(cmd *cobra.Command, rebuild bool) (*backend, error) {
	if c := remote(cmd); c != nil {
		return &backend{client: c}, nil
	}
	s, err := openSession(cmd, rebuild)
	if err != nil {
		return nil, err
	}
	return &backend{session: s}, nil
}

func (b *backend) Close() {
	if b.session != nil {
		b.session.Close()
	}
}

func (b *backend) search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if b.client != nil {
		var res models.SearchResponse
		if err := b.client.post(ctx, "/api/v1/search", req, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	results, err := b.session.app.Repo.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return searchResponse(req.Query, results, started), nil
}

func (b *backend) keywordSearch(ctx context.Context, query, docType string, k int, fuzzy bool) (*models.SearchResponse, error) {
	if b.client != nil {
		var res models.SearchResponse
		body := map[string]any{"query": query, "type": docType, "k": k, "fuzzy": fuzzy}
		if err := b.client.post(ctx, "/api/v1/search/keyword", body, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	started := time.Now()
	opts := &keyword.SearchOptions{Type: docType, FuzzyEnabled: fuzzy}
	results, err := b.session.app.Repo.KeywordSearch(ctx, query, k, opts)
	if err != nil {
		return nil, err
	}
	return searchResponse(query, results, started), nil
}

func searchResponse(query string, results []*models.SearchResult, started time.Time) *models.SearchResponse {
	if results == nil {
		results = []*models.SearchResult{}
	}
	return &models.SearchResponse{
		Query:     query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(started).Milliseconds(),
	}
}
