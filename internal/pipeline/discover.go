package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/movielake/internal/feedcfg"
)

// DiscoverBatches scans each provider's incoming directory and returns the
// ordered list of ready batch ids per provider. A batch directory is ready
// when its readiness marker exists, or when quarantine is configured and
// the directory has been quiet for at least that long. A missing provider
// path is a warning, not an error.
func DiscoverBatches(paths *feedcfg.Paths, now time.Time) map[string][]string {
	log := zap.L().With(zap.String("component", "pipeline.discover"))
	result := make(map[string][]string)

	for provider, cfg := range paths.Providers {
		entries, err := os.ReadDir(cfg.IncomingDir)
		if err != nil {
			log.Warn("provider path missing",
				zap.String("provider", provider),
				zap.String("dir", cfg.IncomingDir),
				zap.Error(err),
			)
			continue
		}

		var ready []string
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			batchDir := filepath.Join(cfg.IncomingDir, entry.Name())
			marker := filepath.Join(batchDir, cfg.Readiness.Marker())

			if _, err := os.Stat(marker); err == nil {
				ready = append(ready, entry.Name())
				continue
			}

			if q := cfg.Readiness.QuarantineSeconds; q > 0 {
				info, err := os.Stat(batchDir)
				if err != nil {
					continue
				}
				if now.Sub(info.ModTime()) >= time.Duration(q)*time.Second {
					ready = append(ready, entry.Name())
				}
			}
		}

		if len(ready) > 0 {
			sort.Strings(ready)
			result[provider] = ready
		}
	}

	if len(result) == 0 {
		log.Warn("no ready batches found")
	} else {
		total := 0
		for _, v := range result {
			total += len(v)
		}
		log.Info("discovered ready batches", zap.Int("count", total))
	}
	return result
}
