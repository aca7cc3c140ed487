package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-cli/ui"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/bootstrap"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

var (
	seedFile      string
	seedBatchSize int
	seedTimeout   time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a JSON fixture into the configured store",
	Long: `seed migrates the configured sqlite or postgres store, embeds documents
that carry no embedding, and upserts every card, guide and consult case from
the fixture. Cached retrievals are invalidated afterwards.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed fixture (default database.seed_path)")
	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", 32, "documents per embedding batch")
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", 30*time.Minute, "overall timeout")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory driver is seeded at startup; configure sqlite or postgres")
	}
	path := seedFile
	if path == "" {
		path = cfg.Database.SeedPath
	}
	if path == "" {
		return fmt.Errorf("no seed file: pass --file or set database.seed_path")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), seedTimeout)
	defer cancel()
	logger := cliLogger(cfg)

	seed, err := storage.LoadSeed(path)
	if err != nil {
		return err
	}

	emb, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	opts := bootstrap.StoreOptions(cfg)
	opts.Logger = logger
	store, err := storage.Open(ctx, opts, emb)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()

	bar := ui.NewProgressBar(int64(len(seed.Documents())), "Seeding")
	err = storage.Seed(ctx, store, seed, emb, storage.SeedOptions{
		BatchSize: seedBatchSize,
		Progress:  func(done, total int) { bar.Set(int64(done)) },
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if tiered, err := bootstrap.NewCache(ctx, cfg, logger); err == nil && tiered != nil {
		if err := retrieval.NewRetrievalCache(tiered, logger, true).Invalidate(ctx); err != nil {
			ui.Warning("Cache not invalidated: %v", err)
		}
		_ = tiered.Close()
	}

	ui.Success("Seeded %d cards, %d guides and %d consult cases into %s",
		len(seed.Cards), len(seed.Guides), len(seed.ConsultCases), cfg.Database.Driver)
	return nil
}
