// Package acquire orchestrates dataset acquisition: source fallback,
// change detection, normalization, and commit to the dataset store.
package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/datahub-cli/internal/catalog"
	"github.com/sells-group/datahub-cli/internal/datastore"
	"github.com/sells-group/datahub-cli/internal/fetcher"
	"github.com/sells-group/datahub-cli/internal/manifest"
	"github.com/sells-group/datahub-cli/internal/normalize"
	"github.com/sells-group/datahub-cli/internal/runlog"
)

// Outcome is the per-dataset result of a batch refresh.
type Outcome struct {
	Key       string `json:"key"`
	OK        bool   `json:"ok"`
	Note      string `json:"note"`
	SourceURL string `json:"source_url,omitempty"`
}

// Orchestrator runs the per-dataset acquisition state machine.
type Orchestrator struct {
	cat     *catalog.Catalog
	fetch   fetcher.Client
	man     manifest.Store
	store   *datastore.Dir
	runs    *runlog.Log // optional
	scratch string

	// group serializes acquisition per dataset key: concurrent refreshes
	// of the same key share one in-flight run.
	group singleflight.Group

	// manMu makes manifest load-modify-save a single-writer operation.
	manMu sync.Mutex
}

// New creates an orchestrator. runs may be nil to disable history.
func New(cat *catalog.Catalog, f fetcher.Client, man manifest.Store, store *datastore.Dir, runs *runlog.Log, scratchDir string) *Orchestrator {
	return &Orchestrator{
		cat:     cat,
		fetch:   f,
		man:     man,
		store:   store,
		runs:    runs,
		scratch: scratchDir,
	}
}

// Refresh runs acquisition for the named dataset keys, one outcome per
// attempted dataset. Unknown or disabled keys are silently skipped. An
// empty key list refreshes every enabled dataset. Datasets run
// sequentially; one dataset's failure never prevents the rest.
func (o *Orchestrator) Refresh(ctx context.Context, keys []string) []Outcome {
	log := zap.L().With(zap.String("component", "acquire"))

	var selected []catalog.Dataset
	if len(keys) == 0 {
		selected = o.cat.Enabled()
	} else {
		for _, key := range keys {
			ds, ok := o.cat.Get(key)
			if !ok {
				log.Debug("skipping unknown or disabled dataset", zap.String("key", key))
				continue
			}
			selected = append(selected, *ds)
		}
	}

	m := o.man.Load()

	outcomes := make([]Outcome, 0, len(selected))
	for _, ds := range selected {
		select {
		case <-ctx.Done():
			outcomes = append(outcomes, Outcome{Key: ds.Key, OK: false, Note: "cancelled"})
			continue
		default:
		}

		ds := ds
		v, _, _ := o.group.Do(ds.Key, func() (any, error) {
			return o.refreshDataset(ctx, m, ds), nil
		})
		outcomes = append(outcomes, v.(Outcome))
	}

	var ok, failed int
	for _, out := range outcomes {
		if out.OK {
			ok++
		} else {
			failed++
		}
	}
	log.Info("refresh batch complete", zap.Int("ok", ok), zap.Int("failed", failed))

	return outcomes
}

// refreshDataset tries the dataset's sources in priority order; the first
// source that commits (or proves the existing file current) wins.
func (o *Orchestrator) refreshDataset(ctx context.Context, m manifest.Manifest, ds catalog.Dataset) Outcome {
	log := zap.L().With(zap.String("dataset", ds.Key))

	var runID string
	if o.runs != nil {
		id, err := o.runs.Start(ctx, ds.Key)
		if err != nil {
			log.Warn("runlog start failed", zap.Error(err))
		} else {
			runID = id
		}
	}

	record := func(out Outcome) Outcome {
		if runID != "" {
			var err error
			if out.OK {
				err = o.runs.Complete(ctx, runID, out.Note, out.SourceURL)
			} else {
				err = o.runs.Fail(ctx, runID, out.Note, out.SourceURL)
			}
			if err != nil {
				log.Warn("runlog record failed", zap.Error(err))
			}
		}
		return out
	}

	if len(ds.Sources) == 0 {
		return record(Outcome{Key: ds.Key, OK: false, Note: "no sources configured"})
	}

	var lastURL string
	for i, src := range ds.Sources {
		srcLog := log.With(zap.Int("source", i+1), zap.String("url", src.URL))
		lastURL = src.URL

		out, done := o.trySource(ctx, m, ds.Key, src, srcLog)
		if done {
			srcLog.Info("source settled", zap.String("note", out.Note))
			return record(out)
		}
	}

	log.Warn("all sources failed", zap.Int("sources", len(ds.Sources)))
	return record(Outcome{
		Key:       ds.Key,
		OK:        false,
		Note:      fmt.Sprintf("all %d sources failed", len(ds.Sources)),
		SourceURL: lastURL,
	})
}

// trySource runs one source through probe, retrieve, normalize, and
// commit. It reports done=true when the dataset is settled by this source
// (fresh commit or confirmed up to date); any per-stage failure logs and
// falls through to the next source.
func (o *Orchestrator) trySource(ctx context.Context, m manifest.Manifest, key string, src catalog.Source, log *zap.Logger) (Outcome, bool) {
	if !src.Type.Valid() {
		log.Warn("skipping source with unsupported type", zap.String("type", string(src.Type)))
		return Outcome{}, false
	}

	var probed *fetcher.ProbeResult
	if !src.Type.AlwaysFetch() {
		probed = o.fetch.Probe(ctx, src.URL)
		exists := o.store.Exists(key)

		if probed == nil || probed.Status >= 400 {
			// The probe could not vouch for freshness either way. With a
			// local file present the stale copy is preferred over a blind
			// refetch; without one, fetch regardless.
			if exists {
				return Outcome{Key: key, OK: true, Note: "Up-to-date (probe unavailable, kept existing file)", SourceURL: src.URL}, true
			}
		} else if fp, ok := m[src.URL]; ok && !changed(fp, probed) {
			if exists {
				return Outcome{Key: key, OK: true, Note: "Up-to-date", SourceURL: src.URL}, true
			}
			// Fingerprint says unchanged but the canonical file is gone;
			// fetch to restore it.
		}
	}

	payload, err := o.fetch.Retrieve(ctx, src.URL)
	if err != nil {
		log.Warn("retrieve failed", zap.Error(err))
		return Outcome{}, false
	}

	data, err := normalize.ToCSV(src.Type, payload, o.scratch)
	if err != nil {
		log.Warn("normalize failed", zap.Error(err))
		return Outcome{}, false
	}

	if err := o.store.Commit(key, data); err != nil {
		log.Error("commit failed", zap.Error(err))
		return Outcome{}, false
	}

	o.saveFingerprint(m, src.URL, key, probed)

	return Outcome{Key: key, OK: true, Note: "Refreshed", SourceURL: src.URL}, true
}

// changed reports whether the probed metadata differs from the stored
// fingerprint. Only fields the probe actually returned participate.
func changed(fp manifest.Fingerprint, probed *fetcher.ProbeResult) bool {
	if probed.ETag != "" && probed.ETag != fp.ETag {
		return true
	}
	if probed.LastModified != "" && probed.LastModified != fp.LastModified {
		return true
	}
	if probed.ContentLength != "" && probed.ContentLength != fp.ContentLength {
		return true
	}
	return false
}

// saveFingerprint persists the fingerprint for a committed source,
// write-through: a crash mid-batch loses at most the in-flight dataset's
// update. Save failure is reported but never rolls back the dataset file.
func (o *Orchestrator) saveFingerprint(m manifest.Manifest, url, key string, probed *fetcher.ProbeResult) {
	fp := manifest.Fingerprint{
		SavedAs:   key + ".csv",
		FetchedAt: time.Now().UTC(),
	}
	if probed != nil && probed.Status < 400 {
		fp.ETag = probed.ETag
		fp.LastModified = probed.LastModified
		fp.ContentLength = probed.ContentLength
	}
	m[url] = fp

	o.manMu.Lock()
	defer o.manMu.Unlock()
	cur := o.man.Load()
	cur[url] = fp
	if err := o.man.Save(cur); err != nil {
		zap.L().Error("manifest save failed", zap.String("url", url), zap.Error(err))
	}
}
