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

// Package metadata is the typed gateway over the nine metadata.* tables
// described in spec.md §3 and §6. All reads and writes are autocommit,
// plain SQL with positional parameters over pgx — no long transactions.
package metadata

import "time"

// Project is metadata.projects.
type Project struct {
	ProjectID string
	Timezone  string
	Enabled   bool
}

// AuthType enumerates source.auth_type.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
	AuthBearer AuthType = "bearer"
)

// Source is metadata.opensearch_sources joined with its project's
// timezone, matching the original's PgStore.fetch_sources join.
type Source struct {
	SourceID        int64
	ProjectID       string
	BaseURL         string
	AuthType        AuthType
	Username        *string
	SecretRef       *string
	SecretEnc       []byte
	IndexPattern    string
	TimeField       string
	QueryFilterJSON *string
	Enabled         bool
	ProjectTimezone string
}

// IngestionStatus enumerates ingestion_state.status and the
// incremental-tail-observed half of a source's lifecycle.
type IngestionStatus string

const (
	StatusIdle    IngestionStatus = "idle"
	StatusRunning IngestionStatus = "running"
	StatusError   IngestionStatus = "error"
)

// IngestionState is metadata.ingestion_state, keyed by
// (source_id, index_name).
type IngestionState struct {
	SourceID     int64
	IndexName    string
	LastTS       *time.Time
	LastSortJSON []any
	LastID       *string
	Status       IngestionStatus
	LastError    *string
}

// BackfillStatus enumerates backfill_jobs.status.
type BackfillStatus string

const (
	BackfillPending   BackfillStatus = "pending"
	BackfillRunning   BackfillStatus = "running"
	BackfillCompleted BackfillStatus = "completed"
	BackfillFailed    BackfillStatus = "failed"
	BackfillCancelled BackfillStatus = "cancelled"
)

// Active reports whether a backfill job in this status is still
// claimable/resumable by the puller.
func (s BackfillStatus) Active() bool {
	return s == BackfillPending || s == BackfillRunning
}

// BackfillJob is metadata.backfill_jobs.
type BackfillJob struct {
	JobID           int64
	SourceID        int64
	StartTS         time.Time
	EndTS           time.Time
	ThrottleSeconds float64
	Status          BackfillStatus
	LastError       *string
	LastIndexName   *string
	LastTS          *time.Time
	LastSortJSON    []any
	LastID          *string
}

// PullerConfig is the singleton metadata.opensearch_puller_config row.
type PullerConfig struct {
	PollIntervalSeconds   *int
	OverlapMinutes        *int
	BatchSize             *int
	MaxRetries            *int
	BackoffBaseSeconds    *float64
	RateLimitSeconds      *float64
	OpenSearchTimeoutSecs *int
	ClickHouseTimeoutSecs *int
	OpenSearchVerifySSL   *bool
}

// BronzeEventTable is metadata.bronze_event_tables: a declared parsing
// table within one or all enabled projects.
type BronzeEventTable struct {
	TableID   int64
	ProjectID *string // nil = all enabled projects
	Dataset   string
	TableName string
	Enabled   bool
}

// BronzeEventField is one column of a BronzeEventTable.
type BronzeEventField struct {
	FieldID    int64
	TableID    int64
	ColumnName string
	ColumnType string
	JSONPath   string
	Ordinal    int
	Enabled    bool
}

// FieldRegistryLayer enumerates field_registry.layer.
type FieldRegistryLayer string

const (
	LayerBronze  FieldRegistryLayer = "bronze"
	LayerGoldFct FieldRegistryLayer = "gold_fact"
	LayerGoldDim FieldRegistryLayer = "gold_dim"
)

// FieldRegistryMode enumerates field_registry.mode.
type FieldRegistryMode string

const (
	ModeAlias        FieldRegistryMode = "ALIAS"
	ModeMaterialized FieldRegistryMode = "MATERIALIZED"
)

// FieldRegistryRow is metadata.field_registry: a derived column to be
// added to an existing warehouse table.
type FieldRegistryRow struct {
	FieldID       int64
	ProjectID     *string // nil = global, applies to every enabled project
	Dataset       string
	Layer         FieldRegistryLayer
	TableName     string // optionally "db.table"
	ColumnName    string
	ColumnType    string
	ExpressionSQL *string
	Mode          FieldRegistryMode
	Enabled       bool
}

// WorkerHeartbeat is metadata.worker_heartbeats, keyed by worker_id.
type WorkerHeartbeat struct {
	WorkerID   string
	WorkerType string
	LastSeen   time.Time
	Status     string
	Details    map[string]any
}
