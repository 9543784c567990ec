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
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eventlake/ingestcore/internal/metrics"
	"github.com/eventlake/ingestcore/internal/tscodec"
)

// upstreamClient is the subset of internal/upstream.Client the search
// loop needs; narrowed so tests can supply a fake.
type upstreamClient interface {
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	OpenPIT(ctx context.Context, index string) (string, error)
	ClosePIT(ctx context.Context, id string) error
	Search(ctx context.Context, body map[string]any, index string) (map[string]any, error)
}

// warehouseClient is the subset of internal/warehouse.Client the search
// loop needs to land rows.
type warehouseClient interface {
	InsertRows(ctx context.Context, db, table string, rows []map[string]any) error
}

// checkpointFunc persists a batch's progress: the last hit's sort
// values, event_ts, and _id. Incremental tailing upserts
// ingestion_state; backfill upserts the job's checkpoint columns.
type checkpointFunc func(ctx context.Context, sortJSON []any, lastTS time.Time, lastID string) error

// cancelledFunc reports whether the caller has asked the search loop to
// stop before issuing another batch. Backfill uses this to observe
// operator cancellation; incremental tailing passes none.
type cancelledFunc func(ctx context.Context) (bool, error)

// searchLoopParams bundles one paged-search-loop invocation (spec.md
// §4.4.3), shared verbatim by incremental tailing and backfill.
type searchLoopParams struct {
	Upstream     upstreamClient
	Warehouse    warehouseClient
	Logger       *logrus.Entry
	Index        string
	TimeField    string
	QueryFilter  map[string]any
	WindowStart  time.Time
	WindowEnd    time.Time
	SearchAfter  []any
	BatchSize    int
	BronzeDB     string
	SourceIDStr  string
	Throttle     time.Duration
	Checkpoint   checkpointFunc
	Cancelled    cancelledFunc
}

// runSearchLoop pages through Index between WindowStart and WindowEnd,
// inserting mapped rows into <BronzeDB>.os_events_raw and invoking
// Checkpoint after every non-empty batch. It returns when a page comes
// back empty, when Cancelled reports true, or on the first
// unrecoverable error.
func runSearchLoop(ctx context.Context, p searchLoopParams) error {
	pit, pitErr := p.Upstream.OpenPIT(ctx, p.Index)
	usingPIT := pitErr == nil
	if pitErr != nil {
		p.Logger.WithError(pitErr).Warn("could not open point-in-time, falling back to per-request index")
	}
	defer func() {
		if usingPIT {
			if err := p.Upstream.ClosePIT(context.Background(), pit); err != nil {
				p.Logger.WithError(err).Warn("failed to close point-in-time")
			}
		}
	}()

	searchAfter := p.SearchAfter

	var throttle *rate.Limiter
	if p.Throttle > 0 {
		throttle = rate.NewLimiter(rate.Every(p.Throttle), 1)
	}

	for {
		if p.Cancelled != nil {
			stop, err := p.Cancelled(ctx)
			if err != nil {
				return err
			}
			if stop {
				return ErrBackfillCancelled
			}
		}

		body := buildSearchBody(p.TimeField, p.QueryFilter, p.WindowStart, p.WindowEnd, p.BatchSize, searchAfter)
		if usingPIT {
			body["pit"] = map[string]any{"id": pit, "keep_alive": "1m"}
		}

		started := time.Now()
		result, err := p.Upstream.Search(ctx, body, p.Index)
		if err != nil {
			return errors.Wrap(err, "searching upstream")
		}

		hits := extractHits(result)
		if len(hits) == 0 {
			return nil
		}

		rows := make([]map[string]any, 0, len(hits))
		now := time.Now()
		for _, raw := range hits {
			row, ok := mapHit(raw, p.TimeField, p.SourceIDStr, now)
			if !ok {
				p.Logger.WithField("index", p.Index).Warn("skipping hit with no parseable timestamp")
				continue
			}
			rows = append(rows, row)
		}

		if len(rows) > 0 {
			if err := p.Warehouse.InsertRows(ctx, p.BronzeDB, "os_events_raw", rows); err != nil {
				metrics.BatchErrors.WithLabelValues(p.SourceIDStr, p.Index).Inc()
				return errors.Wrap(ErrWarehouseTransient, err.Error())
			}
			metrics.BatchRows.WithLabelValues(p.SourceIDStr, p.Index).Add(float64(len(rows)))
		}
		metrics.BatchDurations.WithLabelValues(p.SourceIDStr, p.Index).Observe(time.Since(started).Seconds())

		last := hits[len(hits)-1]
		lastHit := decodeHit(last)
		lastTS, ok := tscodec.Parse(lastHit.Source[p.TimeField])
		if !ok && len(lastHit.Sort) > 0 {
			lastTS, _ = tscodec.Parse(lastHit.Sort[0])
		}
		searchAfter = sortValues(last)

		if p.Checkpoint != nil {
			if err := p.Checkpoint(ctx, searchAfter, lastTS, lastHit.ID); err != nil {
				return errors.Wrap(err, "persisting checkpoint")
			}
		}

		if throttle != nil {
			if err := throttle.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// buildSearchBody renders the request body described in spec.md §4.4.3.
func buildSearchBody(timeField string, filter map[string]any, start, end time.Time, size int, searchAfter []any) map[string]any {
	rangeClause := map[string]any{
		timeField: map[string]any{
			"gte": tscodec.FormatUpstream(start),
			"lte": tscodec.FormatUpstream(end),
		},
	}
	must := []any{map[string]any{"range": rangeClause}}
	if len(filter) > 0 {
		must = append(must, filter)
	}

	body := map[string]any{
		"size": size,
		"sort": []any{
			map[string]any{timeField: "asc"},
			map[string]any{"_id": "asc"},
		},
		"track_total_hits": false,
		"query": map[string]any{
			"bool": map[string]any{"must": must},
		},
	}
	if len(searchAfter) > 0 {
		body["search_after"] = searchAfter
	}
	return body
}

// extractHits pulls the hits.hits array out of a raw search response,
// tolerating a missing or malformed shape by returning no hits.
func extractHits(result map[string]any) []map[string]any {
	hitsField, ok := result["hits"].(map[string]any)
	if !ok {
		return nil
	}
	rawHits, ok := hitsField["hits"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(rawHits))
	for _, h := range rawHits {
		if m, ok := h.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// parseQueryFilter decodes a source's optional query_filter_json column
// into the map merged into every search's bool/must clause.
func parseQueryFilter(raw *string) (map[string]any, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil, errors.Wrap(err, "parsing query_filter_json")
	}
	return out, nil
}
