// Package pipeline implements the batch admission, schema-gating,
// deduplication and consolidation stages of the ingestion pipeline. All
// shared state lives in the audit ledger; files are otherwise processed
// independently.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/movielake/internal/config"
	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/ledger"
	"github.com/sells-group/movielake/internal/model"
)

// Pipeline carries everything one ETL run needs: application config, the
// declarative feed configuration, and the audit ledger. It replaces any
// process-wide state; every stage receives its inputs from here.
type Pipeline struct {
	cfg       *config.Config
	maps      *feedcfg.Mappings
	contracts *feedcfg.Contracts
	paths     *feedcfg.Paths
	led       *ledger.Ledger
	runID     string
}

// New assembles a Pipeline.
func New(cfg *config.Config, maps *feedcfg.Mappings, contracts *feedcfg.Contracts, paths *feedcfg.Paths, led *ledger.Ledger, runID string) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		maps:      maps,
		contracts: contracts,
		paths:     paths,
		led:       led,
		runID:     runID,
	}
}

// Result summarizes one ingestion run.
type Result struct {
	Planned   int
	Qualified int
	Skipped   int
	Rejected  int
	Batches   map[BatchKey]Completeness
}

// Run executes discovery, planning, gating, ingestion, completeness
// accounting, and consolidation. Gate + ingest fan out per file — each
// file owns its dedup set and staged artifact, so the only serialization
// point is the ledger. Consolidation and completeness wait for all of a
// run's ingestion to finish. Individual file failures never abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", p.runID))

	batches := DiscoverBatches(p.paths, time.Now().UTC())
	plan := BuildPlan(batches, p.maps, p.paths)
	res := &Result{Planned: len(plan), Batches: map[BatchKey]Completeness{}}
	if len(plan) == 0 {
		log.Info("nothing to do (empty plan)")
		return res, nil
	}

	ing := &Ingester{
		Maps:       p.maps,
		Contracts:  p.contracts,
		BronzeRoot: p.cfg.BronzeDir(),
		Ledger:     p.led,
		RunID:      p.runID,
	}

	var (
		mu        sync.Mutex
		qualified []model.QualifiedFile
		skipped   atomic.Int64
		rejected  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Ingest.Concurrency)

	for _, item := range plan {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			feed := p.maps.Providers[item.Provider].Feeds[item.Feed]

			qf, skip, err := Qualify(item, feed, p.led)
			if err != nil {
				rejected.Add(1)
				log.Error("file rejected at gate", zap.String("file", item.File), zap.Error(err))
				return nil // file-scoped failure, keep going
			}
			if skip {
				skipped.Add(1)
				return nil
			}

			if _, err := ing.IngestFile(*qf); err != nil {
				rejected.Add(1)
				log.Error("ingest failed", zap.String("file", item.File), zap.Error(err))
				return nil
			}

			mu.Lock()
			qualified = append(qualified, *qf)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "pipeline: ingest stage")
	}

	res.Qualified = len(qualified)
	res.Skipped = int(skipped.Load())
	res.Rejected = int(rejected.Load())

	if len(qualified) == 0 {
		log.Info("no qualified files after schema gate")
		return res, nil
	}

	// Completeness must observe the final qualified set for the run; it is
	// trusted from the ledger downstream, never re-derived from disk.
	res.Batches = BatchCompleteness(qualified, p.maps)
	if err := p.recordCompleteness(res.Batches); err != nil {
		return res, err
	}

	if err := p.consolidateAll(ctx, qualified); err != nil {
		return res, err
	}

	log.Info("ingestion run complete",
		zap.Int("planned", res.Planned),
		zap.Int("qualified", res.Qualified),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

func (p *Pipeline) recordCompleteness(summary map[BatchKey]Completeness) error {
	log := zap.L().With(zap.String("component", "pipeline"))

	keys := make([]BatchKey, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Provider != keys[j].Provider {
			return keys[i].Provider < keys[j].Provider
		}
		return keys[i].BatchID < keys[j].BatchID
	})

	for _, key := range keys {
		info := summary[key]
		complete := info.Complete
		if err := p.led.Append(ledger.Record{
			Level:        "batch",
			Provider:     key.Provider,
			BatchID:      key.BatchID,
			Completeness: info.Present,
			Required:     info.Required,
			Complete:     &complete,
			Status:       "ok",
			RunID:        p.runID,
		}); err != nil {
			return eris.Wrap(err, "pipeline: record completeness")
		}

		if !info.Complete {
			log.Warn("batch incomplete, excluded from reconciliation",
				zap.String("provider", key.Provider),
				zap.String("batch_id", key.BatchID),
				zap.Strings("present", info.Present),
				zap.Strings("required", info.Required),
			)
		}
	}
	return nil
}

// consolidateAll merges staged parts per (provider, feed, batch). Distinct
// batches consolidate in parallel; each group starts only after the whole
// ingest stage finished, which is the barrier the dedup guarantee needs.
func (p *Pipeline) consolidateAll(ctx context.Context, qualified []model.QualifiedFile) error {
	type feedBatch struct {
		provider, feed, batchID string
	}

	groups := make(map[feedBatch]struct{})
	for _, qf := range qualified {
		groups[feedBatch{qf.Provider, qf.Feed, qf.BatchID}] = struct{}{}
	}

	ordered := make([]feedBatch, 0, len(groups))
	for g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.provider != b.provider {
			return a.provider < b.provider
		}
		if a.batchID != b.batchID {
			return a.batchID < b.batchID
		}
		return a.feed < b.feed
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Ingest.Concurrency)

	for _, fb := range ordered {
		fb := fb
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if _, err := Consolidate(p.cfg.BronzeDir(), fb.provider, fb.feed, fb.batchID); err != nil {
				zap.L().Error("consolidation failed",
					zap.String("provider", fb.provider),
					zap.String("feed", fb.feed),
					zap.String("batch_id", fb.batchID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "pipeline: consolidate stage")
	}
	return nil
}
