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
	"time"

	"github.com/eventlake/ingestcore/internal/config"
	"github.com/eventlake/ingestcore/internal/metadata"
)

// Effective is the per-cycle configuration: the process's startup
// Config, overlaid field-by-field with any non-nil value from the
// metadata.PullerConfig singleton, then clamped to each field's
// minimum (spec.md §4.4 step 1).
type Effective struct {
	PollInterval   time.Duration
	OverlapMinutes int
	BatchSize      int
	MaxRetries     int
	BackoffBase    time.Duration
	RateLimit      time.Duration
	OpenSearchTimeout time.Duration
	ClickHouseTimeout time.Duration
	VerifySSL      bool
}

// OverlapMinutes of zero is a valid, supported configuration — it
// disables the re-read window entirely and switches incremental
// tailing onto search_after-based resume (see resolveWindow). It is
// not a misconfiguration to be rejected; operators with upstream
// clusters that never index documents out of order use it.
func resolveEffective(base config.Config, override *metadata.PullerConfig) Effective {
	eff := Effective{
		PollInterval:      time.Duration(base.PollIntervalSeconds) * time.Second,
		OverlapMinutes:    base.OverlapMinutes,
		BatchSize:         base.BatchSize,
		MaxRetries:        base.MaxRetries,
		BackoffBase:       durationFromSeconds(base.BackoffBaseSeconds),
		RateLimit:         durationFromSeconds(base.RateLimitSeconds),
		OpenSearchTimeout: time.Duration(base.OpenSearchTimeoutSecs) * time.Second,
		ClickHouseTimeout: time.Duration(base.ClickHouseTimeoutSecs) * time.Second,
		VerifySSL:         base.OpenSearchVerifySSL,
	}

	if override != nil {
		if override.PollIntervalSeconds != nil {
			eff.PollInterval = time.Duration(*override.PollIntervalSeconds) * time.Second
		}
		if override.OverlapMinutes != nil {
			eff.OverlapMinutes = *override.OverlapMinutes
		}
		if override.BatchSize != nil {
			eff.BatchSize = *override.BatchSize
		}
		if override.MaxRetries != nil {
			eff.MaxRetries = *override.MaxRetries
		}
		if override.BackoffBaseSeconds != nil {
			eff.BackoffBase = durationFromSeconds(*override.BackoffBaseSeconds)
		}
		if override.RateLimitSeconds != nil {
			eff.RateLimit = durationFromSeconds(*override.RateLimitSeconds)
		}
		if override.OpenSearchTimeoutSecs != nil {
			eff.OpenSearchTimeout = time.Duration(*override.OpenSearchTimeoutSecs) * time.Second
		}
		if override.ClickHouseTimeoutSecs != nil {
			eff.ClickHouseTimeout = time.Duration(*override.ClickHouseTimeoutSecs) * time.Second
		}
		if override.OpenSearchVerifySSL != nil {
			eff.VerifySSL = *override.OpenSearchVerifySSL
		}
	}

	return clampMinimums(eff)
}

func clampMinimums(eff Effective) Effective {
	if eff.PollInterval < time.Second {
		eff.PollInterval = time.Second
	}
	if eff.BatchSize < 1 {
		eff.BatchSize = 1
	}
	if eff.OverlapMinutes < 0 {
		eff.OverlapMinutes = 0
	}
	if eff.MaxRetries < 0 {
		eff.MaxRetries = 0
	}
	if eff.BackoffBase < 0 {
		eff.BackoffBase = 0
	}
	if eff.RateLimit < 0 {
		eff.RateLimit = 0
	}
	return eff
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Snapshot renders eff as the heartbeat "details" payload (spec.md
// §4.4 step 2: "a snapshot of the effective config").
func (eff Effective) Snapshot() map[string]any {
	return map[string]any{
		"poll_interval_seconds":      eff.PollInterval.Seconds(),
		"overlap_minutes":            eff.OverlapMinutes,
		"batch_size":                 eff.BatchSize,
		"max_retries":                eff.MaxRetries,
		"backoff_base_seconds":       eff.BackoffBase.Seconds(),
		"rate_limit_seconds":         eff.RateLimit.Seconds(),
		"opensearch_timeout_seconds": eff.OpenSearchTimeout.Seconds(),
		"clickhouse_timeout_seconds": eff.ClickHouseTimeout.Seconds(),
		"opensearch_verify_ssl":      eff.VerifySSL,
	}
}
