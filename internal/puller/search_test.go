package puller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	mu         sync.Mutex
	pages      []map[string]any
	pageIdx    int
	pitErr     error
	closedPIT  []string
	openedPIT  []string
	searchArgs []map[string]any
}

func (f *fakeUpstream) ListIndices(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeUpstream) OpenPIT(_ context.Context, index string) (string, error) {
	if f.pitErr != nil {
		return "", f.pitErr
	}
	f.openedPIT = append(f.openedPIT, index)
	return "pit-token", nil
}

func (f *fakeUpstream) ClosePIT(_ context.Context, id string) error {
	f.closedPIT = append(f.closedPIT, id)
	return nil
}

func (f *fakeUpstream) Search(_ context.Context, body map[string]any, _ string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchArgs = append(f.searchArgs, body)
	if f.pageIdx >= len(f.pages) {
		return map[string]any{"hits": map[string]any{"hits": []any{}}}, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

type fakeWarehouseInserter struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (f *fakeWarehouseInserter) InsertRows(_ context.Context, db, table string, rows []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func hitPage(hits ...map[string]any) map[string]any {
	raw := make([]any, len(hits))
	for i, h := range hits {
		raw[i] = h
	}
	return map[string]any{"hits": map[string]any{"hits": raw}}
}

func sampleHit(id string, ts string, sort ...any) map[string]any {
	return map[string]any{
		"_id":     id,
		"_index":  "logs-2026.01.01",
		"sort":    sort,
		"_source": map[string]any{"@timestamp": ts},
	}
}

func TestRunSearchLoopInsertsAndCheckpoints(t *testing.T) {
	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	var checkpoints int
	err := runSearchLoop(context.Background(), searchLoopParams{
		Upstream:    up,
		Warehouse:   wh,
		Logger:      logrus.NewEntry(logrus.New()),
		Index:       "logs-2026.01.01",
		TimeField:   "@timestamp",
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now(),
		BatchSize:   100,
		BronzeDB:    "acme_bronze",
		SourceIDStr: "1",
		Checkpoint: func(ctx context.Context, sortJSON []any, lastTS time.Time, lastID string) error {
			checkpoints++
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, wh.rows, 1)
	assert.Equal(t, 1, checkpoints)
	assert.Len(t, up.closedPIT, 1)
}

func TestRunSearchLoopFallsBackWithoutPIT(t *testing.T) {
	up := &fakeUpstream{pitErr: assert.AnError, pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	err := runSearchLoop(context.Background(), searchLoopParams{
		Upstream:    up,
		Warehouse:   wh,
		Logger:      logrus.NewEntry(logrus.New()),
		Index:       "logs",
		TimeField:   "@timestamp",
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now(),
		BatchSize:   100,
		BronzeDB:    "acme_bronze",
		SourceIDStr: "1",
	})
	require.NoError(t, err)
	assert.Empty(t, up.closedPIT)
	assert.Contains(t, up.searchArgs[0], "query")
	_, hasPIT := up.searchArgs[0]["pit"]
	assert.False(t, hasPIT)
}

func TestRunSearchLoopStopsOnCancellation(t *testing.T) {
	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	err := runSearchLoop(context.Background(), searchLoopParams{
		Upstream:    up,
		Warehouse:   wh,
		Logger:      logrus.NewEntry(logrus.New()),
		Index:       "logs",
		TimeField:   "@timestamp",
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now(),
		BatchSize:   100,
		BronzeDB:    "acme_bronze",
		SourceIDStr: "1",
		Cancelled: func(context.Context) (bool, error) {
			return true, nil
		},
	})
	require.ErrorIs(t, err, ErrBackfillCancelled)
	assert.Empty(t, wh.rows)
}

func TestBuildSearchBodyIncludesSearchAfter(t *testing.T) {
	body := buildSearchBody("@timestamp", nil, time.Now().Add(-time.Hour), time.Now(), 50, []any{1.0, "x"})
	assert.Equal(t, []any{1.0, "x"}, body["search_after"])
	assert.Equal(t, 50, body["size"])
}

func TestBuildSearchBodyMergesQueryFilter(t *testing.T) {
	filter := map[string]any{"term": map[string]any{"event.dataset": "suricata"}}
	body := buildSearchBody("@timestamp", filter, time.Now().Add(-time.Hour), time.Now(), 50, nil)
	query := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	assert.Len(t, query, 2)
}

func TestParseQueryFilterNilWhenEmpty(t *testing.T) {
	filter, err := parseQueryFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, filter)
}

func TestParseQueryFilterDecodesJSON(t *testing.T) {
	raw := `{"term": {"event.dataset": "suricata"}}`
	filter, err := parseQueryFilter(&raw)
	require.NoError(t, err)
	assert.Equal(t, "suricata", filter["term"].(map[string]any)["event.dataset"])
}
