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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventlake/ingestcore/internal/metadata"
)

// runIncremental tails one discovered index for a source (spec.md
// §4.4.1). It derives the [start, now] window from ingestion_state,
// drives the shared search loop, and records the resulting status.
func runIncremental(
	ctx context.Context,
	store metadata.Store,
	up upstreamClient,
	wh warehouseClient,
	logger *logrus.Entry,
	source metadata.Source,
	index string,
	eff Effective,
) error {
	state, err := store.FetchIngestionState(ctx, source.SourceID, index)
	if err != nil {
		return errors.Wrap(ErrMetadataUnavailable, err.Error())
	}

	now := time.Now().UTC()
	overlap := time.Duration(eff.OverlapMinutes) * time.Minute

	var start time.Time
	var searchAfter []any
	if state != nil && state.LastTS != nil {
		start = state.LastTS.Add(-overlap)
		if eff.OverlapMinutes == 0 {
			searchAfter = state.LastSortJSON
		}
	} else {
		start = now.Add(-overlap)
	}

	filter, err := parseQueryFilter(source.QueryFilterJSON)
	if err != nil {
		return err
	}

	sourceIDStr := fmt.Sprintf("%d", source.SourceID)
	bronzeDB := source.ProjectID + "_bronze"

	runErr := runSearchLoop(ctx, searchLoopParams{
		Upstream:    up,
		Warehouse:   wh,
		Logger:      logger,
		Index:       index,
		TimeField:   source.TimeField,
		QueryFilter: filter,
		WindowStart: start,
		WindowEnd:   now,
		SearchAfter: searchAfter,
		BatchSize:   eff.BatchSize,
		BronzeDB:    bronzeDB,
		SourceIDStr: sourceIDStr,
		Throttle:    eff.RateLimit,
		Checkpoint: func(ctx context.Context, sortJSON []any, lastTS time.Time, lastID string) error {
			return store.UpsertIngestionState(ctx, source.SourceID, index, lastTS, sortJSON, &lastID, metadata.StatusRunning, nil)
		},
	})

	if runErr != nil {
		msg := runErr.Error()
		if setErr := store.SetIngestionStatus(ctx, source.SourceID, index, metadata.StatusError, &msg); setErr != nil {
			logger.WithError(setErr).Warn("failed to record ingestion error status")
		}
		return runErr
	}

	if setErr := store.SetIngestionStatus(ctx, source.SourceID, index, metadata.StatusIdle, nil); setErr != nil {
		logger.WithError(setErr).Warn("failed to record ingestion idle status")
	}
	return nil
}
