package pipeline

import (
	"sort"

	"github.com/sells-group/movielake/internal/feedcfg"
	"github.com/sells-group/movielake/internal/model"
)

// BatchKey identifies one (provider, batch) delivery.
type BatchKey struct {
	Provider string
	BatchID  string
}

// Completeness records which feeds a batch delivered versus what the
// provider requires. A batch is complete when every required feed
// qualified; only complete batches feed reconciliation.
type Completeness struct {
	Present  []string
	Required []string
	Complete bool
}

// RequiredFeeds returns the sorted required feed names per provider.
// Feeds are required unless explicitly marked optional.
func RequiredFeeds(maps *feedcfg.Mappings) map[string][]string {
	out := make(map[string][]string, len(maps.Providers))
	for provider, cfg := range maps.Providers {
		var req []string
		for name, feed := range cfg.Feeds {
			if feed.IsRequired() {
				req = append(req, name)
			}
		}
		sort.Strings(req)
		out[provider] = req
	}
	return out
}

// BatchCompleteness computes per-batch completeness from the set of files
// that passed the schema gate. Extra optional feeds never affect the
// verdict; only the required set does.
func BatchCompleteness(qualified []model.QualifiedFile, maps *feedcfg.Mappings) map[BatchKey]Completeness {
	reqMap := RequiredFeeds(maps)

	present := make(map[BatchKey]map[string]struct{})
	for _, qf := range qualified {
		key := BatchKey{qf.Provider, qf.BatchID}
		if present[key] == nil {
			present[key] = make(map[string]struct{})
		}
		present[key][qf.Feed] = struct{}{}
	}

	result := make(map[BatchKey]Completeness, len(present))
	for key, feeds := range present {
		pres := make([]string, 0, len(feeds))
		for f := range feeds {
			pres = append(pres, f)
		}
		sort.Strings(pres)

		required := reqMap[key.Provider]
		complete := true
		for _, r := range required {
			if _, ok := feeds[r]; !ok {
				complete = false
				break
			}
		}

		result[key] = Completeness{
			Present:  pres,
			Required: required,
			Complete: complete,
		}
	}
	return result
}
