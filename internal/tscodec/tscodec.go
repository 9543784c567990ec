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

// Package tscodec parses and formats the timestamp shapes the upstream
// and metadata store hand us: numeric epoch values, ISO-8601 strings,
// and Mongo-style {"$date": ...} wrappers. Everything is normalized to
// UTC with millisecond precision.
package tscodec

import (
	"encoding/json"
	"time"
)

// epochMillisThreshold is the boundary the original heuristic uses to
// tell epoch seconds from epoch milliseconds: any value larger than
// this is assumed to already be in milliseconds.
const epochMillisThreshold = 1e11

// Parse converts value into a UTC time.Time. It accepts nil (returns
// false), numbers (int/int64/float64, epoch seconds or milliseconds per
// the >1e11 heuristic), strings (ISO-8601/RFC3339), and
// map[string]any{"$date": ...} wrappers, recursing once into the $date
// value.
func Parse(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return parseEpoch(v), true
	case float32:
		return parseEpoch(float64(v)), true
	case int:
		return parseEpoch(float64(v)), true
	case int64:
		return parseEpoch(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return parseEpoch(f), true
	case string:
		return parseString(v)
	case map[string]any:
		if d, ok := v["$date"]; ok {
			return Parse(d)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func parseEpoch(v float64) time.Time {
	if v > epochMillisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	ns := int64((v - float64(int64(v))) * 1e9)
	return time.Unix(int64(v), ns).UTC()
}

func parseString(v string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatUpstream renders t the way the upstream search engine expects a
// range query literal: "2006-01-02T15:04:05.000Z".
func FormatUpstream(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z")
}

// FormatWarehouse renders t for a DateTime64(3) warehouse literal:
// "2006-01-02 15:04:05.000".
func FormatWarehouse(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02 15:04:05.000")
}
