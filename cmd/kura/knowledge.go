package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kura/internal/app"
	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/indexer"
	"github.com/hyperjump/kura/internal/models"
)

func addRecommendFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "opportunity type, e.g. grant (required)")
	cmd.Flags().String("profile", "", "YAML or JSON file with the applicant profile")
	cmd.Flags().StringToString("field", nil, "profile field as key=value (repeatable, overrides --profile)")
	cmd.Flags().StringToString("funder", nil, "funder info as key=value (repeatable)")
}

// recommendRequest assembles a request from --type, --profile, --field and --funder.
func recommendRequest(cmd *cobra.Command) (models.RecommendRequest, error) {
	opportunityType, _ := cmd.Flags().GetString("type")
	if opportunityType == "" {
		return models.RecommendRequest{}, errors.New("--type is required")
	}
	req := models.RecommendRequest{OpportunityType: opportunityType, UserProfile: map[string]any{}}
	if path, _ := cmd.Flags().GetString("profile"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return req, err
		}
		if err := yaml.Unmarshal(b, &req.UserProfile); err != nil {
			return req, fmt.Errorf("parsing profile: %w", err)
		}
		if req.UserProfile == nil {
			req.UserProfile = map[string]any{}
		}
	}
	fields, _ := cmd.Flags().GetStringToString("field")
	for k, v := range fields {
		req.UserProfile[k] = v
	}
	if funder, _ := cmd.Flags().GetStringToString("funder"); len(funder) > 0 {
		req.FunderInfo = make(map[string]any, len(funder))
		for k, v := range funder {
			req.FunderInfo[k] = v
		}
	}
	return req, nil
}

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend strategies for an opportunity from past successes",
		Example: `  kura recommend --type grant --field focus=telehealth --field region=rural
  kura recommend --type grant --profile profile.yaml --funder name=NIH`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			req, err := recommendRequest(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var res *models.RecommendationResult
			if c := remote(cmd); c != nil {
				res = &models.RecommendationResult{}
				err = c.post(ctx, "/api/v1/recommendations", req, res)
			} else {
				var s *session
				if s, err = openSession(cmd, false); err != nil {
					return err
				}
				defer s.Close()
				res, err = s.app.Engine.Recommend(ctx, req)
			}
			if err != nil {
				return err
			}
			return cli.WriteRecommendations(cmd.OutOrStdout(), res, format)
		},
	}
	addRecommendFlags(cmd)
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Estimate success probability for an opportunity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			req, err := recommendRequest(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var res *models.OpportunityAnalysis
			if c := remote(cmd); c != nil {
				res = &models.OpportunityAnalysis{}
				err = c.post(ctx, "/api/v1/analysis", req, res)
			} else {
				var s *session
				if s, err = openSession(cmd, true); err != nil {
					return err
				}
				defer s.Close()
				res, err = s.app.Engine.AnalyzeOpportunity(ctx, req)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == cli.OutputJSON {
				return cli.WriteJSON(out, res)
			}
			fmt.Fprintf(out, "Success probability: %.0f%%\n", res.SuccessProbability*100)
			fmt.Fprintf(out, "Cross-silo insights: %d\n", res.CrossSiloInsights)
			return cli.WriteRecommendations(out, &models.RecommendationResult{
				Recommendations: res.Recommendations,
				PatternsUsed:    res.PatternsAnalyzed,
				Confidence:      res.SuccessProbability,
			}, format)
		},
	}
	addRecommendFlags(cmd)
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document counts per type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var stats *models.CollectionStats
			if c := remote(cmd); c != nil {
				stats = &models.CollectionStats{}
				err = c.get(ctx, "/api/v1/stats", stats)
			} else {
				var s *session
				if s, err = openSession(cmd, false); err != nil {
					return err
				}
				defer s.Close()
				stats, err = s.app.Repo.CollectionStats(ctx)
			}
			if err != nil {
				return err
			}
			return cli.WriteCollectionStats(cmd.OutOrStdout(), stats, format)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store, index and backend status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var st *app.Status
			if c := remote(cmd); c != nil {
				st = &app.Status{}
				err = c.get(ctx, "/api/v1/status", st)
			} else {
				var s *session
				if s, err = openSession(cmd, false); err != nil {
					return err
				}
				defer s.Close()
				st, err = s.app.Status(ctx)
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
}

func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Show the most common elements and strategies of successful documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var stats models.AggregatedStatistics
			if c := remote(cmd); c != nil {
				err = c.get(ctx, "/api/v1/patterns/statistics", &stats)
			} else {
				var s *session
				if s, err = openSession(cmd, true); err != nil {
					return err
				}
				defer s.Close()
				stats = s.app.Patterns.Statistics()
			}
			if err != nil {
				return err
			}
			return cli.WritePatternStatistics(cmd.OutOrStdout(), stats, format)
		},
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild vector, keyword and cross-silo indices from stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var report *indexer.RebuildReport
			if c := remote(cmd); c != nil {
				report = &indexer.RebuildReport{}
				err = c.post(ctx, "/api/v1/crosssilo/rebuild", nil, report)
			} else {
				var s *session
				if s, err = openSession(cmd, false); err != nil {
					return err
				}
				defer s.Close()
				report, err = s.app.Indexer.Rebuild(ctx, true)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == cli.OutputJSON {
				return cli.WriteJSON(out, report)
			}
			_, err = fmt.Fprintf(out, "Rebuilt in %s: %d vectors, %d keyword documents, %d cross-silo documents (%d references), %d patterns\n",
				report.Took.Round(1e6), report.Vectors, report.KeywordDocs, report.CrossSiloDocs, report.CrossSiloRefs, report.Patterns)
			return err
		},
	}
}
