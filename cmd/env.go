package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/acquire"
	"github.com/sells-group/datahub-cli/internal/catalog"
	"github.com/sells-group/datahub-cli/internal/datastore"
	"github.com/sells-group/datahub-cli/internal/fetcher"
	"github.com/sells-group/datahub-cli/internal/manifest"
	"github.com/sells-group/datahub-cli/internal/query"
	"github.com/sells-group/datahub-cli/internal/runlog"
)

// appEnv bundles the wired components commands operate on.
type appEnv struct {
	Catalog *catalog.Catalog
	Store   *datastore.Dir
	Runs    *runlog.Log
	Orch    *acquire.Orchestrator
	Query   *query.Engine

	scratchDir string
}

// initEnv loads the catalog and wires the acquisition and query stack
// from the active configuration.
func initEnv() (*appEnv, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	store, err := datastore.New(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}

	scratch := cfg.Data.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "datahub-scratch-*")
		if err != nil {
			return nil, eris.Wrap(err, "create scratch dir")
		}
		scratch = dir
	} else if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create scratch dir %s", scratch)
	}

	runs, err := runlog.Open(cfg.Data.RunLog)
	if err != nil {
		// History is best-effort; acquisition still works without it.
		zap.L().Warn("run log unavailable", zap.Error(err))
		runs = nil
	}

	f := fetcher.New(fetcher.Options{
		UserAgent:       cfg.Fetch.UserAgent,
		ProbeTimeout:    time.Duration(cfg.Fetch.ProbeTimeoutSecs) * time.Second,
		RetrieveTimeout: time.Duration(cfg.Fetch.RetrieveTimeoutSecs) * time.Second,
		MaxRetries:      cfg.Fetch.MaxRetries,
	})

	man := manifest.NewFileStore(cfg.Data.Manifest)

	return &appEnv{
		Catalog:    cat,
		Store:      store,
		Runs:       runs,
		Orch:       acquire.New(cat, f, man, store, runs, scratch),
		Query:      query.NewEngine(store),
		scratchDir: scratch,
	}, nil
}

// Close releases the environment's resources.
func (e *appEnv) Close() {
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
	if cfg.Data.ScratchDir == "" && e.scratchDir != "" {
		_ = os.RemoveAll(e.scratchDir)
	}
}
