// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package puller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventlake/ingestcore/internal/metadata"
)

// runBackfill drives one active backfill job for a source to
// completion or cancellation (spec.md §4.4.2). Index discovery, the
// resume cursor, and per-index windows are all derived from the job
// row; the search loop itself is identical to incremental tailing.
func runBackfill(
	ctx context.Context,
	store metadata.Store,
	up upstreamClient,
	wh warehouseClient,
	logger *logrus.Entry,
	source metadata.Source,
	job *metadata.BackfillJob,
	indices []string,
	batchSize int,
) error {
	if job.Status == metadata.BackfillPending {
		if err := store.SetBackfillStatus(ctx, job.JobID, metadata.BackfillRunning, nil); err != nil {
			return errors.Wrap(ErrMetadataUnavailable, err.Error())
		}
		job.Status = metadata.BackfillRunning
	}

	sorted := append([]string(nil), indices...)
	sort.Strings(sorted)

	if len(sorted) == 0 {
		return store.SetBackfillStatus(ctx, job.JobID, metadata.BackfillCompleted, nil)
	}

	filter, err := parseQueryFilter(source.QueryFilterJSON)
	if err != nil {
		return failBackfill(ctx, store, job.JobID, err)
	}

	throttle := time.Duration(job.ThrottleSeconds * float64(time.Second))

	sourceIDStr := fmt.Sprintf("%d", source.SourceID)
	bronzeDB := source.ProjectID + "_bronze"

	resumeIndex := ""
	if job.LastIndexName != nil {
		resumeIndex = *job.LastIndexName
	}

	for pos := 0; pos < len(sorted); pos++ {
		index := sorted[pos]
		if resumeIndex != "" && index < resumeIndex {
			continue
		}

		active, err := backfillStillActive(ctx, store, job.JobID)
		if err != nil {
			return failBackfill(ctx, store, job.JobID, err)
		}
		if !active {
			return nil
		}

		windowStart := job.StartTS
		var searchAfter []any
		if index == resumeIndex {
			if job.LastTS != nil {
				windowStart = *job.LastTS
			}
			searchAfter = job.LastSortJSON
		}

		idx := index
		runErr := runSearchLoop(ctx, searchLoopParams{
			Upstream:    up,
			Warehouse:   wh,
			Logger:      logger,
			Index:       idx,
			TimeField:   source.TimeField,
			QueryFilter: filter,
			WindowStart: windowStart,
			WindowEnd:   job.EndTS,
			SearchAfter: searchAfter,
			BatchSize:   batchSize,
			BronzeDB:    bronzeDB,
			SourceIDStr: sourceIDStr,
			Throttle:    throttle,
			Checkpoint: func(ctx context.Context, sortJSON []any, lastTS time.Time, lastID string) error {
				return store.UpdateBackfillCheckpoint(ctx, job.JobID, &idx, &lastTS, sortJSON, &lastID)
			},
			Cancelled: func(ctx context.Context) (bool, error) {
				return backfillCancelled(ctx, store, job.JobID)
			},
		})

		if runErr != nil {
			if errors.Is(runErr, ErrBackfillCancelled) {
				return nil
			}
			return failBackfill(ctx, store, job.JobID, runErr)
		}

		// Advance the checkpoint to the next index (or leave it on the
		// last one if this was the final index) and clear the
		// intra-index resume pointer, so a later resume skips every
		// index strictly before the next one instead of redoing the
		// one that just finished.
		next := idx
		if pos+1 < len(sorted) {
			next = sorted[pos+1]
		}
		if err := store.UpdateBackfillCheckpoint(ctx, job.JobID, &next, nil, nil, nil); err != nil {
			return failBackfill(ctx, store, job.JobID, err)
		}
		job.LastTS, job.LastSortJSON, job.LastID = nil, nil, nil
		resumeIndex = next
	}

	active, err := backfillStillActive(ctx, store, job.JobID)
	if err != nil {
		return failBackfill(ctx, store, job.JobID, err)
	}
	if !active {
		return nil
	}
	return store.SetBackfillStatus(ctx, job.JobID, metadata.BackfillCompleted, nil)
}

func backfillStillActive(ctx context.Context, store metadata.Store, jobID int64) (bool, error) {
	job, err := store.FetchBackfillJobByID(ctx, jobID)
	if err != nil {
		return false, errors.Wrap(ErrMetadataUnavailable, err.Error())
	}
	if job == nil {
		return false, nil
	}
	return job.Status.Active(), nil
}

func backfillCancelled(ctx context.Context, store metadata.Store, jobID int64) (bool, error) {
	active, err := backfillStillActive(ctx, store, jobID)
	if err != nil {
		return false, err
	}
	return !active, nil
}

func failBackfill(ctx context.Context, store metadata.Store, jobID int64, cause error) error {
	msg := cause.Error()
	if err := store.SetBackfillStatus(ctx, jobID, metadata.BackfillFailed, &msg); err != nil {
		return errors.Wrap(err, "recording backfill failure")
	}
	return cause
}
