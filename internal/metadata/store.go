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

package metadata

import (
	"context"
	"time"
)

// Store is the full gateway surface the puller and migrator need. It is
// an interface so tests can swap in an in-memory fake instead of a real
// Postgres instance, the same seam the teacher's internal/types
// interfaces (Appliers, Stagers, Watchers) are built around.
type Store interface {
	FetchEnabledSources(ctx context.Context) ([]Source, error)
	FetchPullerConfig(ctx context.Context) (*PullerConfig, error)
	FetchBackfillJob(ctx context.Context, sourceID int64) (*BackfillJob, error)
	FetchBackfillJobByID(ctx context.Context, jobID int64) (*BackfillJob, error)
	SetBackfillStatus(ctx context.Context, jobID int64, status BackfillStatus, lastError *string) error
	UpdateBackfillCheckpoint(ctx context.Context, jobID int64, indexName *string, lastTS *time.Time, lastSortJSON []any, lastID *string) error
	UpsertWorkerHeartbeat(ctx context.Context, workerID, workerType, status string, details map[string]any) error
	FetchIngestionState(ctx context.Context, sourceID int64, indexName string) (*IngestionState, error)
	UpsertIngestionState(ctx context.Context, sourceID int64, indexName string, lastTS time.Time, lastSortJSON []any, lastID *string, status IngestionStatus, lastError *string) error
	SetIngestionStatus(ctx context.Context, sourceID int64, indexName string, status IngestionStatus, lastError *string) error

	FetchEnabledProjects(ctx context.Context) ([]Project, error)
	FetchFieldRegistry(ctx context.Context) ([]FieldRegistryRow, error)
	FetchBronzeEventTables(ctx context.Context) ([]BronzeEventTable, error)
	FetchBronzeEventFields(ctx context.Context) ([]BronzeEventField, error)
}
