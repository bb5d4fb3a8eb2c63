package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/history"
	"github.com/joseph-ayodele/procedo/internal/llm/anthropic"
	repo "github.com/joseph-ayodele/procedo/internal/repository"
)

var (
	watch    bool
	debounce time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Ingest historical procedural orders",
}

var historyIngestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Extract events and timelines from every PDF under dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LLM.APIKey == "" {
			return common.NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required", common.ErrInvalidInput)
		}
		ctx := cmd.Context()
		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close(db, logger)

		store, err := blob.NewLocalStore(cfg.Blob.Dir, logger)
		if err != nil {
			return err
		}
		ing := history.NewIngestor(
			repo.NewPrecedentRepository(db, logger),
			extract.NewExtractor(extract.Config{Pdftotext: cfg.Extract.Pdftotext}, logger),
			anthropic.NewClient(anthropic.Config{
				APIKey:       cfg.LLM.APIKey,
				BaseURL:      cfg.LLM.BaseURL,
				ExtractModel: cfg.LLM.ExtractModel,
				Timeout:      cfg.LLM.Timeout,
				RPS:          cfg.LLM.RPS,
				MaxRetries:   cfg.LLM.MaxRetries,
			}, logger),
			store,
			logger,
		)

		if watch {
			err := ing.Watch(ctx, orgID, history.WatchConfig{
				Roots:       []string{args[0]},
				InitialScan: true,
				Debounce:    debounce,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		results, stats, err := ing.IngestDirectory(ctx, orgID, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"stats": stats, "results": results})
	},
}

func init() {
	historyIngestCmd.Flags().BoolVar(&watch, "watch", false, "keep running and ingest PDFs dropped into dir")
	historyIngestCmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a written file is ingested")
	historyCmd.AddCommand(historyIngestCmd)
}
