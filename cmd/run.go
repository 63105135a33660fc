package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/config"
	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/gold"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/pipeline"
	"github.com/sells-group/movielake/internal/silver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full ETL to produce the gold dataset",
	Long:  "Discovers ready batches, gates and ingests their files, consolidates per feed, reconciles across providers, and finalizes the gold dataset. Per-file rejections are logged and never abort the run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runETL(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runETL(ctx context.Context, cfg *config.Config) error {
	maps, err := feedcfg.LoadMappings(filepath.Join(cfg.ConfigDir, "mappings.yaml"))
	if err != nil {
		return err
	}
	contracts, err := feedcfg.LoadContracts(filepath.Join(cfg.ConfigDir, "contracts.yaml"))
	if err != nil {
		return err
	}
	paths, err := feedcfg.LoadPaths(filepath.Join(cfg.ConfigDir, "paths.yaml"))
	if err != nil {
		return err
	}
	curation, err := feedcfg.LoadCuration(filepath.Join(cfg.ConfigDir, "curation.yaml"))
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	led := ledger.New(cfg.LedgerPath())
	log := zap.L().With(zap.String("run_id", runID))

	res, err := pipeline.New(cfg, maps, contracts, paths, led, runID).Run(ctx)
	if err != nil {
		return eris.Wrap(err, "run: ingestion")
	}
	log.Info("ingestion finished",
		zap.Int("planned", res.Planned),
		zap.Int("qualified", res.Qualified),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)

	builder := &silver.Builder{
		Curation:   curation,
		Contracts:  contracts,
		BronzeRoot: cfg.BronzeDir(),
		SilverRoot: cfg.SilverDir(),
		Ledger:     led,
		RunID:      runID,
	}
	finalizer := &gold.Finalizer{
		SilverRoot: cfg.SilverDir(),
		GoldRoot:   cfg.GoldDir(),
		Ledger:     led,
		RunID:      runID,
	}

	entities := make([]string, 0, len(curation.Entities))
	for name := range curation.Entities {
		entities = append(entities, name)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		silverPath, err := builder.Build(entity)
		if err != nil {
			if eris.Is(err, silver.ErrNoInputs) {
				log.Warn("no complete inputs for entity, skipping reconciliation",
					zap.String("entity", entity))
				continue
			}
			return err
		}
		log.Info("silver built", zap.String("entity", entity), zap.String("path", silverPath))

		goldPath, err := finalizer.Build(entity)
		if err != nil {
			if eris.Is(err, gold.ErrNoSilver) {
				log.Warn("no silver table for entity, skipping finalization",
					zap.String("entity", entity))
				continue
			}
			return err
		}
		log.Info("gold built", zap.String("entity", entity), zap.String("path", goldPath))
	}

	return nil
}
