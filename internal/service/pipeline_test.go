package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/esisync/internal/contractcache"
	"github.com/raphaelgruber/esisync/internal/esi"
	"github.com/raphaelgruber/esisync/internal/expander"
	"github.com/raphaelgruber/esisync/internal/fetcher"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/namecache"
	"github.com/raphaelgruber/esisync/internal/syncer"
	"github.com/raphaelgruber/esisync/internal/wordpress"
	"github.com/raphaelgruber/esisync/internal/wordpress/wordpresstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	theForge = 10000002
	corpID   = 98000001
	jita     = 60003760
)

type fakeAPI struct {
	mu         sync.Mutex
	public     map[int64][]models.Contract
	publicErr  error
	corp       []models.Contract
	items      map[int64][]models.ContractItem
	itemCalls  int
	listCalls  int
	corpTokens []oauth2.TokenSource
}

func (f *fakeAPI) PublicContracts(_ context.Context, regionID int64, page int) ([]models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.publicErr != nil {
		return nil, f.publicErr
	}
	if page > 1 {
		return nil, nil
	}
	return f.public[regionID], nil
}

func (f *fakeAPI) PublicContractItems(_ context.Context, contractID int64, page int) ([]models.ContractItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls++
	return f.items[contractID], nil
}

func (f *fakeAPI) CorporationContracts(_ context.Context, ts oauth2.TokenSource, corporationID int64, page int) ([]models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.corpTokens = append(f.corpTokens, ts)
	if page > 1 {
		return nil, nil
	}
	out := make([]models.Contract, len(f.corp))
	copy(out, f.corp)
	return out, nil
}

func (f *fakeAPI) CorporationContractItems(_ context.Context, ts oauth2.TokenSource, corporationID, contractID int64) ([]models.ContractItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls++
	return f.items[contractID], nil
}

type fakeTokens struct{}

func (fakeTokens) TokenSource(context.Context, int64) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "corp-token"}), nil
}

type fakeNames map[int64]string

func (f fakeNames) Resolve(_ context.Context, _ namecache.Kind, id int64) (string, bool) {
	name, ok := f[id]
	return name, ok
}

func (f fakeNames) ResolveLocation(ctx context.Context, id int64) (string, bool) {
	return f.Resolve(ctx, namecache.KindLocation, id)
}

func price(v float64) *float64 { return &v }

func contract(id int64, typ models.ContractType, src models.Source) models.Contract {
	return models.Contract{
		ContractID:          id,
		Type:                typ,
		Status:              models.StatusOutstanding,
		IssuerID:            90000001,
		IssuerCorporationID: corpID,
		DateIssued:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		DateExpired:         time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
		Price:               price(1.5e9),
		StartLocationID:     jita,
		Source:              src,
	}
}

func newFixture() *fakeAPI {
	public := []models.Contract{
		contract(222262092, models.ContractTypeItemExchange, models.SourcePublic),
		contract(300, models.ContractTypeCourier, models.SourcePublic),
	}
	for i := range public {
		public[i].RegionID = theForge
	}
	return &fakeAPI{
		public: map[int64][]models.Contract{theForge: public},
		corp:   []models.Contract{contract(400, models.ContractTypeItemExchange, models.SourceCorporation)},
		items: map[int64][]models.ContractItem{
			222262092: {{RecordID: 1, TypeID: 29050, Quantity: -1, IsIncluded: true}},
			400:       {{RecordID: 2, TypeID: 34, Quantity: 1000, IsIncluded: true}},
		},
	}
}

var testNames = fakeNames{29050: "Paladin Blueprint", 34: "Tritanium", jita: "Jita IV - Moon 4 - Caldari Navy Assembly Plant"}

var testSources = Sources{
	Regions:      []int64{theForge},
	Corporations: []fetcher.Corporation{{ID: corpID, CharacterID: 90000001, Name: "Test Corp"}},
}

type harness struct {
	api      *fakeAPI
	srv      *wordpresstest.Server
	cache    contractcache.Store
	pipeline *Pipeline
}

func newHarness(t *testing.T, api *fakeAPI, syncOpts syncer.Options) *harness {
	t.Helper()
	return newHarnessWithNames(t, api, testNames, syncOpts)
}

func newHarnessWithNames(t *testing.T, api *fakeAPI, names expander.Names, syncOpts syncer.Options) *harness {
	t.Helper()
	srv := wordpresstest.NewServer()
	t.Cleanup(srv.Close)
	cache := contractcache.OpenFile(t.TempDir(), nil)
	return &harness{
		api:   api,
		srv:   srv,
		cache: cache,
		pipeline: NewPipeline(
			fetcher.New(api, fakeTokens{}, fetcher.Options{Concurrency: 2}, nil),
			expander.New(names, nil, nil),
			cache,
			syncer.New(srv.WPClient(), cache, syncOpts, nil),
			nil, nil,
		),
	}
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t, newFixture(), syncer.Options{})
	ctx := context.Background()

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.PublicFetched)
	assert.Equal(t, 1, report.CorporationFetched)
	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 3, report.Created)
	assert.Empty(t, report.SourceErrors)
	assert.Empty(t, report.Review, "courier contracts with unknown items are not flagged")

	require.Len(t, report.Contracts, 3)
	assert.Equal(t, int64(300), report.Contracts[0].ContractID, "ordered by contract ID")
	paladin := report.Contracts[2]
	assert.Equal(t, int64(222262092), paladin.ContractID)
	assert.Equal(t, "BPO Paladin Blueprint", paladin.Title)
	require.Len(t, paladin.Items, 1)
	assert.Equal(t, models.ClassBPO, paladin.Items[0].Classification)

	cached, err := h.cache.Get(ctx, 222262092)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Len(t, cached.Items, 1)
	courier, err := h.cache.Get(ctx, 300)
	require.NoError(t, err)
	assert.Nil(t, courier, "contracts with unknown items are not cached")

	run := h.pipeline.Tracker().Get(report.RunID)
	require.NotNil(t, run)
	snap := run.Snapshot()
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, PhaseDone, snap.Phase)
	assert.True(t, run.Done())
}

func TestRunUnchangedIsNoOp(t *testing.T) {
	h := newHarness(t, newFixture(), syncer.Options{})
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	itemCalls := h.api.itemCalls
	h.srv.ResetCounts()

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	assert.Equal(t, 2, report.CacheHits)
	assert.Equal(t, 1, report.Resolved, "the uncached courier is expanded again")
	assert.Equal(t, 3, report.Unchanged)
	assert.Zero(t, report.Created+report.Updated)
	assert.Zero(t, h.srv.Writes())
	assert.Equal(t, itemCalls, h.api.itemCalls, "cached contracts do not refetch items")
}

func TestRunStatusChangeReexpandsFromCachedItems(t *testing.T) {
	api := newFixture()
	h := newHarness(t, api, syncer.Options{})
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	itemCalls := api.itemCalls

	api.mu.Lock()
	api.corp[0].Status = models.StatusInProgress
	api.mu.Unlock()
	h.srv.ResetCounts()

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reexpanded)
	assert.Equal(t, 1, report.CacheHits)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, h.srv.Writes())
	assert.Equal(t, itemCalls, api.itemCalls)

	cached, err := h.cache.Get(ctx, 400)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, models.StatusInProgress, cached.Resolved.Status)
}

func TestRunReexpandsAfterTypeNameResolves(t *testing.T) {
	api := newFixture()
	names := fakeNames{34: "Tritanium", jita: testNames[jita]}
	h := newHarnessWithNames(t, api, names, syncer.Options{})
	ctx := context.Background()

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	first := report.Contracts[2]
	require.Equal(t, int64(222262092), first.ContractID)
	assert.Equal(t, "Type #29050 x-1", first.Title)
	itemCalls := api.itemCalls

	names[29050] = "Paladin Blueprint"
	h.srv.ResetCounts()

	report, err = h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	paladin := report.Contracts[2]
	assert.Equal(t, "BPO Paladin Blueprint", paladin.Title)
	require.Len(t, paladin.Items, 1)
	assert.Equal(t, models.ClassBPO, paladin.Items[0].Classification)
	assert.Equal(t, 1, report.Reexpanded)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, itemCalls, api.itemCalls, "re-expanded from cached items")

	cached, err := h.cache.Get(ctx, 222262092)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Resolved.NamesResolved())
}

func TestRunReexpandsWhenCorporationListingAppears(t *testing.T) {
	api := newFixture()
	h := newHarness(t, api, syncer.Options{})
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	itemCalls := api.itemCalls

	private := contract(222262092, models.ContractTypeItemExchange, models.SourceCorporation)
	private.AssigneeID = 90000002
	api.mu.Lock()
	api.corp = append(api.corp, private)
	api.mu.Unlock()

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	paladin := report.Contracts[2]
	assert.Equal(t, models.SourceCorporation, paladin.Source)
	assert.Equal(t, int64(90000002), paladin.AssigneeID)
	assert.Equal(t, "BPO Paladin Blueprint", paladin.Title)
	assert.Equal(t, 1, report.Reexpanded)
	assert.Equal(t, itemCalls, api.itemCalls)
}

func TestRunTerminalCacheIsReadOnly(t *testing.T) {
	api := newFixture()
	h := newHarness(t, api, syncer.Options{})
	ctx := context.Background()

	finished := contract(400, models.ContractTypeItemExchange, models.SourceCorporation)
	finished.Status = models.StatusFinished
	rc := expander.New(testNames, nil, nil).Expand(ctx, finished, models.KnownItems(api.items[400]))
	require.NoError(t, h.cache.Put(ctx, models.CacheEntry{Resolved: rc, Items: api.items[400]}))

	report, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: Sources{Corporations: testSources.Corporations}, SkipSync: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.CacheHits)
	assert.Zero(t, report.Reexpanded)
	require.Len(t, report.Contracts, 1)
	assert.Equal(t, models.StatusFinished, report.Contracts[0].Status)
}

func TestRunPartialSourceFailure(t *testing.T) {
	api := newFixture()
	api.publicErr = &esi.HTTPError{StatusCode: 500}
	h := newHarness(t, api, syncer.Options{})

	report, err := h.pipeline.Run(context.Background(), nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	require.Len(t, report.SourceErrors, 1)
	assert.Equal(t, models.SourcePublic, report.SourceErrors[0].Source)
	assert.Equal(t, int64(theForge), report.SourceErrors[0].ID)
	assert.Equal(t, 1, report.Fetched)
}

func TestRunFatalWhenEverySourceFails(t *testing.T) {
	api := newFixture()
	api.publicErr = &esi.HTTPError{StatusCode: 502}
	h := newHarness(t, api, syncer.Options{})

	report, err := h.pipeline.Run(context.Background(), nil, RunOptions{Sources: Sources{Regions: []int64{theForge}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFatal)
	require.NotNil(t, report)
	assert.Len(t, report.SourceErrors, 1)

	snap := h.pipeline.Tracker().Get(report.RunID).Snapshot()
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Error)
}

func TestRunNoSources(t *testing.T) {
	h := newHarness(t, newFixture(), syncer.Options{})
	report, err := h.pipeline.Run(context.Background(), nil, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, h.api.listCalls)
}

func TestRunSkipSync(t *testing.T) {
	h := newHarness(t, newFixture(), syncer.Options{})
	report, err := h.pipeline.Run(context.Background(), nil, RunOptions{Sources: testSources, SkipSync: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Resolved)
	assert.Zero(t, h.srv.Writes())
	assert.Empty(t, h.srv.Posts("contract"))
}

func TestPruneStale(t *testing.T) {
	h := newHarness(t, newFixture(), syncer.Options{})
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, nil, RunOptions{Sources: testSources})
	require.NoError(t, err)
	gone := h.srv.Seed("contract", wordpress.PostInput{Title: "old", Slug: "contract-12345"})
	require.NoError(t, h.cache.Put(ctx, models.CacheEntry{Resolved: models.ResolvedContract{ContractID: 12345}}))

	res, err := h.pipeline.PruneStale(ctx, testSources)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	for _, p := range h.srv.Posts("contract") {
		assert.NotEqual(t, gone, p.ID)
	}
	entry, err := h.cache.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPruneStaleRefusesIncompleteFetch(t *testing.T) {
	api := newFixture()
	h := newHarness(t, api, syncer.Options{})
	ctx := context.Background()
	h.srv.Seed("contract", wordpress.PostInput{Title: "old", Slug: "contract-12345"})

	api.publicErr = errors.New("connection reset")
	_, err := h.pipeline.PruneStale(ctx, testSources)
	assert.ErrorIs(t, err, ErrIncompleteFetch)
	assert.Len(t, h.srv.Posts("contract"), 1)
}

func TestCleanupWithoutSyncer(t *testing.T) {
	p := NewPipeline(nil, nil, contractcache.OpenFile(t.TempDir(), nil), nil, nil, nil)
	_, err := p.CleanupDuplicates(context.Background())
	assert.ErrorIs(t, err, ErrNoSyncer)
	_, err = p.PruneStale(context.Background(), testSources)
	assert.ErrorIs(t, err, ErrNoSyncer)
}
