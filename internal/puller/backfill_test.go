package puller

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventlake/ingestcore/internal/metadata"
)

func TestRunBackfillPendingTransitionsToRunningThenCompleted(t *testing.T) {
	store := newFakeMetaStore()
	job := &metadata.BackfillJob{JobID: 1, SourceID: 1, StartTS: time.Now().Add(-24 * time.Hour), EndTS: time.Now(), Status: metadata.BackfillPending}
	store.backfillJobs[1] = job

	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	err := runBackfill(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), job, []string{"logs-2026.01.01"}, 100)
	require.NoError(t, err)
	assert.Equal(t, metadata.BackfillCompleted, store.backfillJobs[1].Status)
}

func TestRunBackfillNoIndicesCompletesImmediately(t *testing.T) {
	store := newFakeMetaStore()
	job := &metadata.BackfillJob{JobID: 2, SourceID: 1, Status: metadata.BackfillRunning}
	store.backfillJobs[2] = job

	up := &fakeUpstream{}
	wh := &fakeWarehouseInserter{}

	err := runBackfill(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), job, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, metadata.BackfillCompleted, store.backfillJobs[2].Status)
}

func TestRunBackfillSkipsIndicesBeforeResumePoint(t *testing.T) {
	store := newFakeMetaStore()
	resumeIdx := "logs-2026.01.02"
	job := &metadata.BackfillJob{
		JobID: 3, SourceID: 1, StartTS: time.Now().Add(-24 * time.Hour), EndTS: time.Now(),
		Status: metadata.BackfillRunning, LastIndexName: &resumeIdx,
	}
	store.backfillJobs[3] = job

	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-02T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	err := runBackfill(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(),
		job, []string{"logs-2026.01.01", "logs-2026.01.02", "logs-2026.01.03"}, 100)
	require.NoError(t, err)
	assert.Equal(t, metadata.BackfillCompleted, store.backfillJobs[3].Status)
	assert.Equal(t, []string{"logs-2026.01.02", "logs-2026.01.03"}, up.openedPIT)
}

func TestRunBackfillFailsJobOnSearchError(t *testing.T) {
	store := newFakeMetaStore()
	job := &metadata.BackfillJob{JobID: 4, SourceID: 1, StartTS: time.Now().Add(-time.Hour), EndTS: time.Now(), Status: metadata.BackfillRunning}
	store.backfillJobs[4] = job

	up := &failingUpstream{err: assert.AnError}
	wh := &fakeWarehouseInserter{}

	err := runBackfill(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), job, []string{"logs-2026.01.01"}, 100)
	require.Error(t, err)
	assert.Equal(t, metadata.BackfillFailed, store.backfillJobs[4].Status)
}

func TestRunBackfillStopsWithoutMutationWhenCancelled(t *testing.T) {
	store := newFakeMetaStore()
	job := &metadata.BackfillJob{JobID: 5, SourceID: 1, StartTS: time.Now().Add(-time.Hour), EndTS: time.Now(), Status: metadata.BackfillCancelled}
	store.backfillJobs[5] = job

	up := &fakeUpstream{pages: []map[string]any{
		hitPage(sampleHit("1", "2026-01-01T00:00:00.000Z", 1.0, "1")),
	}}
	wh := &fakeWarehouseInserter{}

	err := runBackfill(context.Background(), store, up, wh, logrus.NewEntry(logrus.New()), sampleSource(), job, []string{"logs-2026.01.01", "logs-2026.01.02"}, 100)
	require.NoError(t, err)
	assert.Equal(t, metadata.BackfillCancelled, store.backfillJobs[5].Status)
}
