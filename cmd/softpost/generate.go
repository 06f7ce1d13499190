package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/store"
)

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		req         model.GenerationRequest
		segments    []string
		platforms   []string
		maxRewrites int
		save        bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate artifacts for a seed idea and print them as JSON",
		Long: `Generate one artifact per segment and platform pair for a seed idea.

Every artifact is validated against the brand rules and rewritten until it
passes or the rewrite budget runs out. With --save the artifacts and the
generation session are stored in the database.`,
		Example: `  softpost generate --seed "winter barrier care" --segment busy_professional --platform linkedin_personal,substack`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			for _, s := range segments {
				req.Segments = append(req.Segments, model.Segment(s))
			}
			for _, p := range platforms {
				req.Platforms = append(req.Platforms, model.Platform(p))
			}
			if cmd.Flags().Changed("max-rewrites") {
				req.MaxRewriteAttempts = &maxRewrites
			}

			rules, err := brand.Load(cfg.BrandRulesPath)
			if err != nil {
				return err
			}
			gen, err := newGenerator(cmd.Context(), cfg, rules, logger, nil)
			if err != nil {
				return err
			}
			batch, err := gen.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			if save {
				db, err := store.OpenSQLite(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("open db: %w", err)
				}
				defer db.Close()
				st, err := store.New(db)
				if err != nil {
					return fmt.Errorf("init store: %w", err)
				}
				session := &model.GenerationSession{
					SeedIdea:     req.SeedIdea,
					MonthlyTheme: req.MonthlyTheme,
					Segments:     req.Segments,
					Platforms:    req.Platforms,
					ArtifactIDs:  []string{},
					Errors:       []string{},
				}
				for _, pr := range batch.Results {
					if err := st.SaveArtifact(cmd.Context(), pr.Outcome.Artifact); err != nil {
						return fmt.Errorf("save artifact: %w", err)
					}
					session.ArtifactIDs = append(session.ArtifactIDs, pr.Outcome.Artifact.ID)
				}
				for _, pe := range batch.Errors {
					session.Errors = append(session.Errors, fmt.Sprintf("%s/%s: %s", pe.Segment, pe.Platform, pe.Error))
				}
				if err := st.SaveSession(cmd.Context(), session); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				logger.Info("generation saved", "session_id", session.ID, "artifacts", len(session.ArtifactIDs))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(batch); err != nil {
				return err
			}
			if len(batch.Results) == 0 {
				return fmt.Errorf("no artifact generated: %d pair(s) failed", len(batch.Errors))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.SeedIdea, "seed", "", "seed idea for the content (required)")
	f.StringVar(&req.MonthlyTheme, "theme", "", "monthly theme")
	f.StringVar(&req.SourceURL, "source-url", "", "article to extract additional context from")
	f.BoolVar(&req.IncludeProducts, "products", false, "mention products in the soft-sell slot")
	f.StringSliceVar(&segments, "segment", nil, "audience segment (repeatable or comma separated)")
	f.StringSliceVar(&platforms, "platform", nil, "target platform (repeatable or comma separated)")
	f.IntVar(&maxRewrites, "max-rewrites", 0, "rewrite budget per pair (defaults to MAX_REWRITE_ATTEMPTS)")
	f.BoolVar(&save, "save", false, "store the artifacts and session in the database")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}
