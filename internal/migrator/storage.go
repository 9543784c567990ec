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

package migrator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/eventlake/ingestcore/internal/ident"
)

// WarehouseClient is the subset of internal/warehouse.Client this
// package needs; narrowed to an interface so tests can supply a fake.
type WarehouseClient interface {
	Exec(ctx context.Context, statement string, body []byte) ([]byte, error)
	TableExists(ctx context.Context, db, table string) (bool, error)
}

var legacyBronzeTables = []string{
	"suricata_events_raw",
	"wazuh_events_raw",
	"zeek_events_raw",
}

// EnsureDefaultBronzeColumns patches the three legacy, pre-per-project
// parsing tables living in the root `bronze` database with the `raw`
// and `extras` columns every bronze table now carries (spec.md §4.5
// step 2). Tables that don't exist are skipped, not created.
func EnsureDefaultBronzeColumns(ctx context.Context, wh WarehouseClient) error {
	for _, table := range legacyBronzeTables {
		exists, err := wh.TableExists(ctx, "bronze", table)
		if err != nil {
			return errors.Wrapf(err, "checking legacy table %s", table)
		}
		if !exists {
			continue
		}
		quoted, err := ident.Quote(table)
		if err != nil {
			return err
		}
		statement := "ALTER TABLE bronze." + quoted +
			" ADD COLUMN IF NOT EXISTS raw String, " +
			"ADD COLUMN IF NOT EXISTS extras Map(String, String) DEFAULT map()"
		if _, err := wh.Exec(ctx, statement, nil); err != nil {
			return errors.Wrapf(ErrWarehouseSemantic, "patching legacy table %s: %v", table, err)
		}
	}
	return nil
}

// EnsureProjectStorage creates `<project>_bronze`, `<project>_gold`,
// and the raw landing table `os_events_raw` if they don't already
// exist (spec.md §4.5 step 3). Both the migrator and the puller call
// this — the puller for each source on every cycle, before writing to
// per-project storage — so it lives here as the single source of the
// raw table's schema.
func EnsureProjectStorage(ctx context.Context, wh WarehouseClient, projectID string) error {
	if err := ident.Guard(projectID); err != nil {
		return err
	}
	bronzeDB, err := ident.Quote(projectID + "_bronze")
	if err != nil {
		return err
	}
	goldDB, err := ident.Quote(projectID + "_gold")
	if err != nil {
		return err
	}

	if _, err := wh.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+bronzeDB, nil); err != nil {
		return errors.Wrap(err, "creating bronze database")
	}
	if _, err := wh.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+goldDB, nil); err != nil {
		return errors.Wrap(err, "creating gold database")
	}

	rawTable := bronzeDB + ".`os_events_raw`"
	statement := "CREATE TABLE IF NOT EXISTS " + rawTable + ` (
  event_id String,
  event_ts DateTime64(3),
  index_name String,
  source_id String,
  raw String,
  ingested_at DateTime64(3),
  extras Map(String, String) DEFAULT map()
)
ENGINE = MergeTree
PARTITION BY toDate(event_ts)
ORDER BY (source_id, toDate(event_ts), event_ts, event_id)`
	if _, err := wh.Exec(ctx, statement, nil); err != nil {
		return errors.Wrap(err, "creating raw landing table")
	}
	return nil
}
