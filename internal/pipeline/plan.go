package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/model"
)

// BuildPlan matches every non-marker file of each ready batch against the
// provider's feed filename selectors and returns the matched work items.
// Feeds are tried in sorted name order so matching is deterministic; the
// first match wins. Unmatched files are logged and dropped.
func BuildPlan(batches map[string][]string, maps *feedcfg.Mappings, paths *feedcfg.Paths) []model.PlanItem {
	log := zap.L().With(zap.String("component", "pipeline.plan"))
	var plan []model.PlanItem

	providers := make([]string, 0, len(batches))
	for p := range batches {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		providerCfg, ok := maps.Providers[provider]
		if !ok {
			log.Warn("no mapping found for provider", zap.String("provider", provider))
			continue
		}
		if len(providerCfg.Feeds) == 0 {
			log.Warn("no feeds found for provider", zap.String("provider", provider))
			continue
		}

		feedNames := make([]string, 0, len(providerCfg.Feeds))
		for name := range providerCfg.Feeds {
			feedNames = append(feedNames, name)
		}
		sort.Strings(feedNames)

		incomingDir := paths.Providers[provider].IncomingDir

		for _, batchID := range batches[provider] {
			batchDir := filepath.Join(incomingDir, batchID)
			entries, err := os.ReadDir(batchDir)
			if err != nil {
				log.Warn("cannot read batch dir", zap.String("dir", batchDir), zap.Error(err))
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
					continue
				}

				matched := false
				for _, feedName := range feedNames {
					feed := providerCfg.Feeds[feedName]
					ok, matchErr := filepath.Match(feed.FilenameSelector, entry.Name())
					if matchErr != nil {
						log.Warn("bad filename selector",
							zap.String("feed", feedName),
							zap.String("pattern", feed.FilenameSelector),
							zap.Error(matchErr),
						)
						continue
					}
					if !ok {
						continue
					}

					plan = append(plan, model.PlanItem{
						Provider:     provider,
						BatchID:      batchID,
						Feed:         feedName,
						TargetEntity: feed.TargetEntity,
						File:         filepath.Join(batchDir, entry.Name()),
					})
					log.Info("planned file",
						zap.String("file", entry.Name()),
						zap.String("feed", feedName),
						zap.String("entity", feed.TargetEntity),
					)
					matched = true
					break
				}

				if !matched {
					log.Warn("unmatched file", zap.String("file", entry.Name()), zap.String("provider", provider))
				}
			}
		}
	}

	if len(plan) == 0 {
		log.Warn("no files matched any feed pattern")
	} else {
		log.Info("plan built", zap.Int("files", len(plan)))
	}
	return plan
}
