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

// Package metrics holds the shared prometheus collectors for both
// binaries: cycle/batch/row counts on the puller side, DDL statement
// counts on the migrator side.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets covers sub-millisecond to multi-minute operations:
// individual HTTP calls up through a full backfill batch.
var LatencyBuckets = []float64{
	.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// SourceLabels identifies one (source, index) pair across counters.
var SourceLabels = []string{"source_id", "index_name"}

// ProjectLabels identifies one project across migrator counters.
var ProjectLabels = []string{"project_id"}

var (
	CycleDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "puller_cycle_duration_seconds",
		Help:    "the length of time a full puller cycle took across all sources",
		Buckets: LatencyBuckets,
	})
	CycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puller_cycle_errors_total",
		Help: "the number of cycles that logged at least one source failure",
	})

	BatchDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "puller_batch_duration_seconds",
		Help:    "the length of time a single search-and-insert batch took",
		Buckets: LatencyBuckets,
	}, SourceLabels)
	BatchRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puller_batch_rows_total",
		Help: "the number of rows inserted into the warehouse",
	}, SourceLabels)
	BatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puller_batch_errors_total",
		Help: "the number of batches that failed after retries were exhausted",
	}, SourceLabels)

	UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puller_upstream_retries_total",
		Help: "the number of retry attempts issued against the upstream client",
	})
	WarehouseRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puller_warehouse_retries_total",
		Help: "the number of retry attempts issued against the warehouse client",
	})

	BackfillJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "puller_backfill_jobs_active",
		Help: "the number of backfill jobs currently pending or running",
	})

	MigratorApplyDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "migrator_apply_duration_seconds",
		Help:    "the length of time a full schema migrator apply run took",
		Buckets: LatencyBuckets,
	})
	MigratorStatements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_statements_total",
		Help: "the number of DDL statements applied per project",
	}, ProjectLabels)
	MigratorStatementErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_statement_errors_total",
		Help: "the number of DDL statements that failed to apply",
	}, ProjectLabels)
)
