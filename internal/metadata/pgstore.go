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
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgStore is the pgx-backed implementation of Store. Connections are
// autocommit; there is no application-level locking or long-lived
// transaction, matching spec.md §5 "Shared resources".
type PgStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// Open creates a connection pool against dsn. The caller is responsible
// for calling Close when done.
func Open(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening metadata store")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging metadata store")
	}
	return &PgStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PgStore) Close() { s.pool.Close() }

func sortJSONToSlice(raw []byte) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decoding last_sort_json")
	}
	return out, nil
}

func sliceToSortJSON(v []any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

// FetchEnabledSources implements Store.
func (s *PgStore) FetchEnabledSources(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.source_id, s.project_id, s.base_url, s.auth_type, s.username,
		       s.secret_ref, s.secret_enc, s.index_pattern, s.time_field,
		       s.query_filter_json, s.enabled, p.timezone
		FROM metadata.opensearch_sources s
		JOIN metadata.projects p ON p.project_id = s.project_id
		WHERE s.enabled = TRUE AND p.enabled = TRUE
		ORDER BY s.source_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching sources")
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(
			&src.SourceID, &src.ProjectID, &src.BaseURL, &src.AuthType, &src.Username,
			&src.SecretRef, &src.SecretEnc, &src.IndexPattern, &src.TimeField,
			&src.QueryFilterJSON, &src.Enabled, &src.ProjectTimezone,
		); err != nil {
			return nil, errors.Wrap(err, "scanning source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// FetchPullerConfig implements Store.
func (s *PgStore) FetchPullerConfig(ctx context.Context) (*PullerConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT poll_interval_seconds, overlap_minutes, batch_size, max_retries,
		       backoff_base_seconds, rate_limit_seconds, opensearch_timeout_seconds,
		       clickhouse_timeout_seconds, opensearch_verify_ssl
		FROM metadata.opensearch_puller_config
		ORDER BY updated_at DESC
		LIMIT 1
	`)
	var cfg PullerConfig
	err := row.Scan(
		&cfg.PollIntervalSeconds, &cfg.OverlapMinutes, &cfg.BatchSize, &cfg.MaxRetries,
		&cfg.BackoffBaseSeconds, &cfg.RateLimitSeconds, &cfg.OpenSearchTimeoutSecs,
		&cfg.ClickHouseTimeoutSecs, &cfg.OpenSearchVerifySSL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching puller config")
	}
	return &cfg, nil
}

// FetchBackfillJob implements Store: the single pending/running job for
// a source, oldest first.
func (s *PgStore) FetchBackfillJob(ctx context.Context, sourceID int64) (*BackfillJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, source_id, start_ts, end_ts, throttle_seconds, status,
		       last_error, last_index_name, last_ts, last_sort_json, last_id
		FROM metadata.backfill_jobs
		WHERE source_id = $1 AND status IN ('pending', 'running')
		ORDER BY created_at ASC
		LIMIT 1
	`, sourceID)
	return scanBackfillJob(row)
}

// FetchBackfillJobByID implements Store.
func (s *PgStore) FetchBackfillJobByID(ctx context.Context, jobID int64) (*BackfillJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, source_id, start_ts, end_ts, throttle_seconds, status,
		       last_error, last_index_name, last_ts, last_sort_json, last_id
		FROM metadata.backfill_jobs
		WHERE job_id = $1
	`, jobID)
	return scanBackfillJob(row)
}

func scanBackfillJob(row pgx.Row) (*BackfillJob, error) {
	var job BackfillJob
	var sortRaw []byte
	err := row.Scan(
		&job.JobID, &job.SourceID, &job.StartTS, &job.EndTS, &job.ThrottleSeconds, &job.Status,
		&job.LastError, &job.LastIndexName, &job.LastTS, &sortRaw, &job.LastID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning backfill job")
	}
	job.LastSortJSON, err = sortJSONToSlice(sortRaw)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SetBackfillStatus implements Store.
func (s *PgStore) SetBackfillStatus(ctx context.Context, jobID int64, status BackfillStatus, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE metadata.backfill_jobs
		SET status = $1, last_error = $2, updated_at = now()
		WHERE job_id = $3
	`, status, lastError, jobID)
	return errors.Wrap(err, "setting backfill status")
}

// UpdateBackfillCheckpoint implements Store.
func (s *PgStore) UpdateBackfillCheckpoint(
	ctx context.Context, jobID int64, indexName *string, lastTS *time.Time, lastSortJSON []any, lastID *string,
) error {
	sortRaw, err := sliceToSortJSON(lastSortJSON)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE metadata.backfill_jobs
		SET last_index_name = $1, last_ts = $2, last_sort_json = $3, last_id = $4, updated_at = now()
		WHERE job_id = $5
	`, indexName, lastTS, sortRaw, lastID, jobID)
	return errors.Wrap(err, "updating backfill checkpoint")
}

// UpsertWorkerHeartbeat implements Store.
func (s *PgStore) UpsertWorkerHeartbeat(ctx context.Context, workerID, workerType, status string, details map[string]any) error {
	detailsRaw, err := json.Marshal(details)
	if err != nil {
		return errors.Wrap(err, "encoding heartbeat details")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO metadata.worker_heartbeats (worker_id, worker_type, last_seen, status, details)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (worker_id) DO UPDATE SET
		  last_seen = now(), status = EXCLUDED.status, details = EXCLUDED.details
	`, workerID, workerType, status, detailsRaw)
	return errors.Wrap(err, "upserting worker heartbeat")
}

// FetchIngestionState implements Store.
func (s *PgStore) FetchIngestionState(ctx context.Context, sourceID int64, indexName string) (*IngestionState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_ts, last_sort_json, last_id, status, last_error
		FROM metadata.ingestion_state
		WHERE source_id = $1 AND index_name = $2
	`, sourceID, indexName)

	var st IngestionState
	st.SourceID, st.IndexName = sourceID, indexName
	var sortRaw []byte
	err := row.Scan(&st.LastTS, &sortRaw, &st.LastID, &st.Status, &st.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching ingestion state")
	}
	st.LastSortJSON, err = sortJSONToSlice(sortRaw)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertIngestionState implements Store.
func (s *PgStore) UpsertIngestionState(
	ctx context.Context, sourceID int64, indexName string, lastTS time.Time,
	lastSortJSON []any, lastID *string, status IngestionStatus, lastError *string,
) error {
	sortRaw, err := sliceToSortJSON(lastSortJSON)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO metadata.ingestion_state
		  (source_id, index_name, last_ts, last_sort_json, last_id, status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (source_id, index_name) DO UPDATE SET
		  last_ts = EXCLUDED.last_ts, last_sort_json = EXCLUDED.last_sort_json,
		  last_id = EXCLUDED.last_id, status = EXCLUDED.status,
		  last_error = EXCLUDED.last_error, updated_at = now()
	`, sourceID, indexName, lastTS, sortRaw, lastID, status, lastError)
	return errors.Wrap(err, "upserting ingestion state")
}

// SetIngestionStatus implements Store.
func (s *PgStore) SetIngestionStatus(ctx context.Context, sourceID int64, indexName string, status IngestionStatus, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE metadata.ingestion_state
		SET status = $1, last_error = $2, updated_at = now()
		WHERE source_id = $3 AND index_name = $4
	`, status, lastError, sourceID, indexName)
	return errors.Wrap(err, "setting ingestion status")
}

// FetchEnabledProjects implements Store.
func (s *PgStore) FetchEnabledProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_id, timezone, enabled
		FROM metadata.projects
		WHERE enabled = TRUE
		ORDER BY project_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching projects")
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ProjectID, &p.Timezone, &p.Enabled); err != nil {
			return nil, errors.Wrap(err, "scanning project")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FetchFieldRegistry implements Store.
func (s *PgStore) FetchFieldRegistry(ctx context.Context) ([]FieldRegistryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT field_id, project_id, dataset, layer, table_name, column_name,
		       column_type, expression_sql, mode
		FROM metadata.field_registry
		WHERE enabled = TRUE
		ORDER BY field_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching field registry")
	}
	defer rows.Close()

	var out []FieldRegistryRow
	for rows.Next() {
		var r FieldRegistryRow
		r.Enabled = true
		if err := rows.Scan(
			&r.FieldID, &r.ProjectID, &r.Dataset, &r.Layer, &r.TableName, &r.ColumnName,
			&r.ColumnType, &r.ExpressionSQL, &r.Mode,
		); err != nil {
			return nil, errors.Wrap(err, "scanning field registry row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchBronzeEventTables implements Store.
func (s *PgStore) FetchBronzeEventTables(ctx context.Context) ([]BronzeEventTable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_id, project_id, dataset, table_name, enabled
		FROM metadata.bronze_event_tables
		WHERE enabled = TRUE
		ORDER BY table_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching bronze event tables")
	}
	defer rows.Close()

	var out []BronzeEventTable
	for rows.Next() {
		var t BronzeEventTable
		if err := rows.Scan(&t.TableID, &t.ProjectID, &t.Dataset, &t.TableName, &t.Enabled); err != nil {
			return nil, errors.Wrap(err, "scanning bronze event table")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FetchBronzeEventFields implements Store.
func (s *PgStore) FetchBronzeEventFields(ctx context.Context) ([]BronzeEventField, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT field_id, table_id, column_name, column_type, json_path, enabled, ordinal
		FROM metadata.bronze_event_fields
		WHERE enabled = TRUE
		ORDER BY table_id, ordinal, column_name
	`)
	if err != nil {
		return nil, errors.Wrap(err, "fetching bronze event fields")
	}
	defer rows.Close()

	var out []BronzeEventField
	for rows.Next() {
		var f BronzeEventField
		if err := rows.Scan(&f.FieldID, &f.TableID, &f.ColumnName, &f.ColumnType, &f.JSONPath, &f.Enabled, &f.Ordinal); err != nil {
			return nil, errors.Wrap(err, "scanning bronze event field")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
