package acquire

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/datahub-cli/internal/catalog"
	"github.com/sells-group/datahub-cli/internal/datastore"
	"github.com/sells-group/datahub-cli/internal/fetcher"
	"github.com/sells-group/datahub-cli/internal/manifest"
)

// stubClient is a scriptable fetcher.Client that records calls.
type stubClient struct {
	mu         sync.Mutex
	probeFn    func(url string) *fetcher.ProbeResult
	retrieveFn func(url string) ([]byte, error)
	probes     []string
	retrieves  []string
}

func (s *stubClient) Probe(_ context.Context, url string) *fetcher.ProbeResult {
	s.mu.Lock()
	s.probes = append(s.probes, url)
	fn := s.probeFn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(url)
}

func (s *stubClient) Retrieve(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.retrieves = append(s.retrieves, url)
	fn := s.retrieveFn
	s.mu.Unlock()
	if fn == nil {
		return nil, eris.New("no retrieve scripted")
	}
	return fn(url)
}

func (s *stubClient) retrieveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retrieves)
}

func newTestOrch(t *testing.T, cat *catalog.Catalog, f fetcher.Client) (*Orchestrator, *manifest.MemStore, *datastore.Dir) {
	t.Helper()
	man := manifest.NewMemStore()
	store, err := datastore.New(t.TempDir())
	require.NoError(t, err)
	return New(cat, f, man, store, nil, t.TempDir()), man, store
}

func singleSourceCatalog(key string, typ catalog.SourceType, url string) *catalog.Catalog {
	return &catalog.Catalog{Datasets: []catalog.Dataset{
		{Key: key, Enabled: true, Sources: []catalog.Source{{Type: typ, URL: url}}},
	}}
}

func TestRefresh_FirstRunFetchesAndCommits(t *testing.T) {
	const url = "https://example.com/carriers.csv"
	f := &stubClient{
		probeFn: func(string) *fetcher.ProbeResult {
			return &fetcher.ProbeResult{Status: 200, ETag: `"v1"`, ContentLength: "8"}
		},
		retrieveFn: func(string) ([]byte, error) { return []byte("a,b\n1,2\n"), nil },
	}
	orch, man, store := newTestOrch(t, singleSourceCatalog("carriers", catalog.SourceCSV, url), f)

	outcomes := orch.Refresh(context.Background(), []string{"carriers"})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, "Refreshed", outcomes[0].Note)
	assert.Equal(t, url, outcomes[0].SourceURL)

	// No prior fingerprint means the probe must not suppress the fetch.
	assert.Equal(t, 1, f.retrieveCount())

	data, err := os.ReadFile(store.Path("carriers"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	fp, ok := man.Load()[url]
	require.True(t, ok)
	assert.Equal(t, `"v1"`, fp.ETag)
	assert.Equal(t, "carriers.csv", fp.SavedAs)
	assert.False(t, fp.FetchedAt.IsZero())
}

func TestRefresh_UnchangedProbeSkipsRetrieve(t *testing.T) {
	const url = "https://example.com/carriers.csv"
	f := &stubClient{
		probeFn: func(string) *fetcher.ProbeResult {
			return &fetcher.ProbeResult{Status: 200, ETag: `"v1"`}
		},
		retrieveFn: func(string) ([]byte, error) { return []byte("a,b\n1,2\n"), nil },
	}
	orch, man, store := newTestOrch(t, singleSourceCatalog("carriers", catalog.SourceCSV, url), f)

	orch.Refresh(context.Background(), []string{"carriers"})
	require.Equal(t, 1, f.retrieveCount())
	firstManifest := man.Load()

	before, err := os.ReadFile(store.Path("carriers"))
	require.NoError(t, err)

	outcomes := orch.Refresh(context.Background(), []string{"carriers"})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, "Up-to-date", outcomes[0].Note)

	// No second download, identical bytes, untouched fingerprint.
	assert.Equal(t, 1, f.retrieveCount())
	after, err := os.ReadFile(store.Path("carriers"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, firstManifest, man.Load())
}

func TestRefresh_ChangedETagRefetches(t *testing.T) {
	const url = "https://example.com/carriers.csv"
	etag := `"v1"`
	body := "a\n1\n"
	f := &stubClient{}
	f.probeFn = func(string) *fetcher.ProbeResult {
		return &fetcher.ProbeResult{Status: 200, ETag: etag}
	}
	f.retrieveFn = func(string) ([]byte, error) { return []byte(body), nil }

	orch, _, store := newTestOrch(t, singleSourceCatalog("carriers", catalog.SourceCSV, url), f)
	orch.Refresh(context.Background(), []string{"carriers"})

	etag = `"v2"`
	body = "a\n2\n"
	outcomes := orch.Refresh(context.Background(), []string{"carriers"})
	require.True(t, outcomes[0].OK)
	assert.Equal(t, "Refreshed", outcomes[0].Note)
	assert.Equal(t, 2, f.retrieveCount())

	data, err := os.ReadFile(store.Path("carriers"))
	require.NoError(t, err)
	assert.Equal(t, "a\n2\n", string(data))
}

func TestRefresh_FallbackToSecondSource(t *testing.T) {
	cat := &catalog.Catalog{Datasets: []catalog.Dataset{
		{Key: "d", Enabled: true, Sources: []catalog.Source{
			{Type: catalog.SourceCSV, URL: "https://primary.example.com/d.csv"},
			{Type: catalog.SourceCSV, URL: "https://mirror.example.com/d.csv"},
		}},
	}}
	f := &stubClient{
		retrieveFn: func(url string) ([]byte, error) {
			if url == "https://primary.example.com/d.csv" {
				return nil, &fetcher.FetchError{Status: 503, URL: url}
			}
			return []byte("from,mirror\n1,2\n"), nil
		},
	}
	orch, _, store := newTestOrch(t, cat, f)

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, "https://mirror.example.com/d.csv", outcomes[0].SourceURL)

	data, err := os.ReadFile(store.Path("d"))
	require.NoError(t, err)
	assert.Equal(t, "from,mirror\n1,2\n", string(data))
}

func TestRefresh_NormalizeFailureFallsThrough(t *testing.T) {
	cat := &catalog.Catalog{Datasets: []catalog.Dataset{
		{Key: "d", Enabled: true, Sources: []catalog.Source{
			{Type: catalog.SourceJSON, URL: "https://a.example.com/d"},
			{Type: catalog.SourceJSON, URL: "https://b.example.com/d"},
		}},
	}}
	f := &stubClient{
		retrieveFn: func(url string) ([]byte, error) {
			if url == "https://a.example.com/d" {
				return []byte("{not json"), nil
			}
			return []byte(`[{"k":"v"}]`), nil
		},
	}
	orch, _, _ := newTestOrch(t, cat, f)

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.True(t, outcomes[0].OK)
	assert.Equal(t, "https://b.example.com/d", outcomes[0].SourceURL)
}

func TestRefresh_AllSourcesFailedKeepsExistingFile(t *testing.T) {
	const url = "https://example.com/d.csv"
	f := &stubClient{
		probeFn: func(string) *fetcher.ProbeResult {
			// Fresh metadata forces a fetch attempt, which then fails.
			return &fetcher.ProbeResult{Status: 200, ETag: `"new"`}
		},
		retrieveFn: func(string) ([]byte, error) {
			return nil, &fetcher.FetchError{Status: 503, URL: url}
		},
	}
	orch, _, store := newTestOrch(t, singleSourceCatalog("d", catalog.SourceCSV, url), f)

	require.NoError(t, store.Commit("d", []byte("stale,but,present\n")))

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Contains(t, outcomes[0].Note, "sources failed")
	assert.Equal(t, url, outcomes[0].SourceURL)

	data, err := os.ReadFile(store.Path("d"))
	require.NoError(t, err)
	assert.Equal(t, "stale,but,present\n", string(data))
}

func TestRefresh_JSONAlwaysRefetches(t *testing.T) {
	const url = "https://example.com/weather"
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) {
			return []byte(`{"data": [{"city":"X","temp":"10"}]}`), nil
		},
	}
	orch, _, store := newTestOrch(t, singleSourceCatalog("weather", catalog.SourceJSON, url), f)

	orch.Refresh(context.Background(), []string{"weather"})
	outcomes := orch.Refresh(context.Background(), []string{"weather"})

	require.True(t, outcomes[0].OK)
	assert.Equal(t, 2, f.retrieveCount(), "json sources never skip refetch")
	assert.Empty(t, f.probes, "json sources are never probed")

	data, err := os.ReadFile(store.Path("weather"))
	require.NoError(t, err)
	assert.Equal(t, "\"city\",\"temp\"\n\"X\",\"10\"\n", string(data))
}

func TestRefresh_ProbeUnavailableReusesExistingFile(t *testing.T) {
	const url = "https://example.com/d.csv"
	f := &stubClient{} // probe nil, retrieve errors
	orch, _, store := newTestOrch(t, singleSourceCatalog("d", catalog.SourceCSV, url), f)

	require.NoError(t, store.Commit("d", []byte("existing\n")))

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.True(t, outcomes[0].OK)
	assert.Contains(t, outcomes[0].Note, "Up-to-date")
	assert.Equal(t, 0, f.retrieveCount())
}

func TestRefresh_ProbeUnavailableWithoutFileStillFetches(t *testing.T) {
	const url = "https://example.com/d.csv"
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) { return []byte("h\n1\n"), nil },
	}
	orch, _, store := newTestOrch(t, singleSourceCatalog("d", catalog.SourceCSV, url), f)

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.True(t, outcomes[0].OK)
	assert.Equal(t, 1, f.retrieveCount())
	assert.True(t, store.Exists("d"))
}

func TestRefresh_UnknownAndDisabledKeysSkipped(t *testing.T) {
	cat := &catalog.Catalog{Datasets: []catalog.Dataset{
		{Key: "on", Enabled: true, Sources: []catalog.Source{{Type: catalog.SourceCSV, URL: "https://example.com/on.csv"}}},
		{Key: "off", Enabled: false, Sources: []catalog.Source{{Type: catalog.SourceCSV, URL: "https://example.com/off.csv"}}},
	}}
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) { return []byte("h\n1\n"), nil },
	}
	orch, _, _ := newTestOrch(t, cat, f)

	outcomes := orch.Refresh(context.Background(), []string{"on", "off", "ghost"})
	require.Len(t, outcomes, 1)
	assert.Equal(t, "on", outcomes[0].Key)
}

func TestRefresh_EmptyKeysRefreshesAllEnabled(t *testing.T) {
	cat := &catalog.Catalog{Datasets: []catalog.Dataset{
		{Key: "a", Enabled: true, Sources: []catalog.Source{{Type: catalog.SourceCSV, URL: "https://example.com/a.csv"}}},
		{Key: "b", Enabled: false, Sources: []catalog.Source{{Type: catalog.SourceCSV, URL: "https://example.com/b.csv"}}},
		{Key: "c", Enabled: true, Sources: []catalog.Source{{Type: catalog.SourceCSV, URL: "https://example.com/c.csv"}}},
	}}
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) { return []byte("h\n1\n"), nil },
	}
	orch, _, _ := newTestOrch(t, cat, f)

	outcomes := orch.Refresh(context.Background(), nil)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a", outcomes[0].Key)
	assert.Equal(t, "c", outcomes[1].Key)
}

func TestRefresh_NoSourcesConfigured(t *testing.T) {
	cat := &catalog.Catalog{Datasets: []catalog.Dataset{{Key: "empty", Enabled: true}}}
	orch, _, _ := newTestOrch(t, cat, &stubClient{})

	outcomes := orch.Refresh(context.Background(), []string{"empty"})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, "no sources configured", outcomes[0].Note)
}

func TestRefresh_ManifestSaveFailureDoesNotRollBack(t *testing.T) {
	const url = "https://example.com/d.csv"
	cat := singleSourceCatalog("d", catalog.SourceCSV, url)
	man := manifest.NewMemStore()
	man.SaveErr = eris.New("disk full")
	store, err := datastore.New(t.TempDir())
	require.NoError(t, err)
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) { return []byte("h\n1\n"), nil },
	}
	orch := New(cat, f, man, store, nil, t.TempDir())

	outcomes := orch.Refresh(context.Background(), []string{"d"})
	require.True(t, outcomes[0].OK)
	assert.True(t, store.Exists("d"), "data availability wins over bookkeeping")
}

func TestRefresh_ConcurrentSameKeyCollapses(t *testing.T) {
	const url = "https://example.com/d.csv"
	gate := make(chan struct{})
	f := &stubClient{
		retrieveFn: func(string) ([]byte, error) {
			<-gate
			return []byte("h\n1\n"), nil
		},
	}
	orch, _, _ := newTestOrch(t, singleSourceCatalog("d", catalog.SourceCSV, url), f)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes := orch.Refresh(context.Background(), []string{"d"})
			assert.True(t, outcomes[0].OK)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, f.retrieveCount(), "concurrent refreshes of one key share a single run")
}
