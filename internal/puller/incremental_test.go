package puller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlake/ingestcore/internal/metadata"
)

// fakeMetaStore implements metadata.Store with everything kept in
// memory; only the methods incremental/backfill actually touch carry
// real behavior, the rest are no-ops.
type fakeMetaStore struct {
	mu sync.Mutex

	ingestionState map[string]*metadata.IngestionState
	statusCalls    []metadata.IngestionStatus

	backfillJobs map[int64]*metadata.BackfillJob
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{
		ingestionState: map[string]*metadata.IngestionState{},
		backfillJobs:   map[int64]*metadata.BackfillJob{},
	}
}

func stateKey(sourceID int64, index string) string {
	return index
}

func (s *fakeMetaStore) FetchEnabledSources(context.Context) ([]metadata.Source, error) { return nil, nil }
func (s *fakeMetaStore) FetchPullerConfig(context.Context) (*metadata.PullerConfig, error) {
	return nil, nil
}
func (s *fakeMetaStore) FetchBackfillJob(_ context.Context, sourceID int64) (*metadata.BackfillJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.backfillJobs {
		if j.SourceID == sourceID && j.Status.Active() {
			return j, nil
		}
	}
	return nil, nil
}
func (s *fakeMetaStore) FetchBackfillJobByID(_ context.Context, jobID int64) (*metadata.BackfillJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backfillJobs[jobID], nil
}
func (s *fakeMetaStore) SetBackfillStatus(_ context.Context, jobID int64, status metadata.BackfillStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfillJobs[jobID].Status = status
	s.backfillJobs[jobID].LastError = lastError
	return nil
}
func (s *fakeMetaStore) UpdateBackfillCheckpoint(_ context.Context, jobID int64, indexName *string, lastTS *time.Time, lastSortJSON []any, lastID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.backfillJobs[jobID]
	job.LastIndexName = indexName
	job.LastTS = lastTS
	job.LastSortJSON = lastSortJSON
	job.LastID = lastID
	return nil
}
func (s *fakeMetaStore) UpsertWorkerHeartbeat(context.Context, string, string, string, map[string]any) error {
	return nil
}
func (s *fakeMetaStore) FetchIngestionState(_ context.Context, sourceID int64, indexName string) (*metadata.IngestionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestionState[stateKey(sourceID, indexName)], nil
}
func (s *fakeMetaStore) UpsertIngestionState(_ context.Context, sourceID int64, indexName string, lastTS time.Time, lastSortJSON []any, lastID *string, status metadata.IngestionStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestionState[stateKey(sourceID, indexName)] = &metadata.IngestionState{
		SourceID: sourceID, IndexName: indexName, LastTS: &lastTS,
		LastSortJSON: lastSortJSON, LastID: lastID, Status: status, LastError: lastError,
	}
	return nil
}
func (s *fakeMetaStore) SetIngestionStatus(_ context.Context, sourceID int64, indexName string, status metadata.IngestionStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls = append(s.statusCalls, status)
	if st, ok := s.ingestionState[stateKey(sourceID, indexName)]; ok {
		st.Status = status
		st.LastError = lastError
	}
	return nil
}
func (s *fakeMetaStore) FetchEnabledProjects(context.Context) ([]metadata.Project, error) {
	return nil, nil
}
func (s *fakeMetaStore) FetchFieldRegistry(context.Context) ([]metadata.FieldRegistryRow, error) {
	return nil, nil
}
func (s *fakeMetaStore) FetchBronzeEventTables(context.Context) ([]metadata.BronzeEventTable, error) {
	return nil, nil
}
func (s *fakeMetaStore) FetchBronzeEventFields(context.Context) ([]metadata.BronzeEventField, error) {
	return nil, nil
}

var _ metadata.Store = (*fakeMetaStore)(nil)

func sampleSource() metadata.Source {
	return metadata.Source{
		SourceID:     1,
		ProjectID:    "acme",
		BaseURL:      "https://search.example.com",
		AuthType:     metadata.AuthNone,
		IndexPattern: "logs-*",
		TimeField:    "@timestamp",
	}
}

func TestRunIncrementalFreshStateUsesNowMinusOverlap(t *testing.T) {
	store := newFakeMetaStore()
	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	eff := resolveEffective(baseConfig(), nil)
	err := runIncremental(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), "logs-2026.01.01", eff)
	require.NoError(t, err)

	assert.Len(t, wh.rows, 1)
	assert.Contains(t, store.statusCalls, metadata.StatusIdle)

	require.NotEmpty(t, up.searchArgs)
	must := up.searchArgs[0]["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	window := must[0].(map[string]any)["range"].(map[string]any)["@timestamp"].(map[string]any)
	gte, err := time.Parse("2006-01-02T15:04:05.000Z", window["gte"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), gte, time.Minute)
}

func TestRunIncrementalZeroOverlapResumesWithSearchAfter(t *testing.T) {
	store := newFakeMetaStore()
	lastTS := time.Now().Add(-time.Hour)
	store.ingestionState[stateKey(1, "logs-2026.01.01")] = &metadata.IngestionState{
		SourceID: 1, IndexName: "logs-2026.01.01", LastTS: &lastTS, LastSortJSON: []any{1.0, "x"},
	}
	up := &fakeUpstream{}
	wh := &fakeWarehouseInserter{}

	base := baseConfig()
	base.OverlapMinutes = 0
	eff := resolveEffective(base, nil)

	err := runIncremental(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), "logs-2026.01.01", eff)
	require.NoError(t, err)
	require.NotEmpty(t, up.searchArgs)
	assert.Equal(t, []any{1.0, "x"}, up.searchArgs[0]["search_after"])
}

func TestRunIncrementalRecordsErrorStatusOnFailure(t *testing.T) {
	store := newFakeMetaStore()
	up := &failingUpstream{err: assert.AnError}
	wh := &fakeWarehouseInserter{}

	eff := resolveEffective(baseConfig(), nil)
	err := runIncremental(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), "logs-2026.01.01", eff)
	require.Error(t, err)
	assert.Contains(t, store.statusCalls, metadata.StatusError)
}

type failingUpstream struct {
	err error
}

func (f *failingUpstream) ListIndices(context.Context, string) ([]string, error) { return nil, nil }
func (f *failingUpstream) OpenPIT(context.Context, string) (string, error)       { return "pit", nil }
func (f *failingUpstream) ClosePIT(context.Context, string) error                { return nil }
func (f *failingUpstream) Search(context.Context, map[string]any, string) (map[string]any, error) {
	return nil, f.err
}
