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
	"encoding/json"
	"time"

	"github.com/eventlake/ingestcore/internal/tscodec"
)

// hit mirrors the subset of an OpenSearch hit document this package
// reads. _source is left as a raw map so unknown fields round-trip
// into the row's raw column untouched.
type hit struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index"`
	Sort   []any          `json:"sort"`
	Source map[string]any `json:"_source"`
}

func decodeHit(raw map[string]any) hit {
	h := hit{}
	if v, ok := raw["_id"].(string); ok {
		h.ID = v
	}
	if v, ok := raw["_index"].(string); ok {
		h.Index = v
	}
	if v, ok := raw["sort"].([]any); ok {
		h.Sort = v
	}
	if v, ok := raw["_source"].(map[string]any); ok {
		h.Source = v
	}
	return h
}

// mapHit converts one search hit into a warehouse row (spec.md §4.4.4).
// The second return value is false when the hit carries no parseable
// timestamp from either _source[timeField] or sort[0]; the caller skips
// such hits with a warning rather than failing the batch.
func mapHit(raw map[string]any, timeField, sourceID string, now time.Time) (map[string]any, bool) {
	h := decodeHit(raw)

	eventTS, ok := tscodec.Parse(h.Source[timeField])
	if !ok && len(h.Sort) > 0 {
		eventTS, ok = tscodec.Parse(h.Sort[0])
	}
	if !ok {
		return nil, false
	}

	eventID := h.ID
	if eventID == "" {
		if v, ok := h.Source["event_id"].(string); ok {
			eventID = v
		}
	}

	rawJSON, err := json.Marshal(h.Source)
	if err != nil {
		return nil, false
	}

	row := map[string]any{
		"event_id":     eventID,
		"event_ts":     tscodec.FormatWarehouse(eventTS),
		"index_name":   h.Index,
		"source_id":    sourceID,
		"raw":          string(rawJSON),
		"ingested_at":  tscodec.FormatWarehouse(now),
		"extras":       map[string]string{"_index": h.Index},
	}
	return row, true
}

// sortValues returns a hit's raw sort array, used to advance
// search_after and to persist checkpoints.
func sortValues(raw map[string]any) []any {
	return decodeHit(raw).Sort
}
