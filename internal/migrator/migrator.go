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
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eventlake/ingestcore/internal/ident"
	"github.com/eventlake/ingestcore/internal/metadata"
	"github.com/eventlake/ingestcore/internal/metrics"
)

func recordOutcomeMetric(projectID string, o Outcome) {
	switch o.Status {
	case "applied":
		metrics.MigratorStatements.WithLabelValues(projectID).Inc()
	case "error":
		metrics.MigratorStatementErrors.WithLabelValues(projectID).Inc()
	}
}

// Outcome records the result of applying one DDL unit: a bronze
// parsing table + its continuous view, or one field-registry column.
type Outcome struct {
	Table  string
	Column string
	Status string // "applied", "skipped", or "error"
	Error  string
}

// Migrator applies schema metadata to the warehouse.
type Migrator struct {
	Store     metadata.Store
	Warehouse WarehouseClient
	Logger    *logrus.Logger
}

// New builds a Migrator. logger may be nil, in which case a default
// logrus logger is used.
func New(store metadata.Store, wh WarehouseClient, logger *logrus.Logger) *Migrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Migrator{Store: store, Warehouse: wh, Logger: logger}
}

// Apply runs the full schema migration (spec.md §4.5 steps 1-5).
// collect=false raises on the first DDL failure; collect=true gathers
// an Outcome per row and never raises for a per-row failure, matching
// the original apply_schema's collect_results parameter.
func (m *Migrator) Apply(ctx context.Context, collect bool) ([]Outcome, error) {
	started := time.Now()
	defer func() { metrics.MigratorApplyDurations.Observe(time.Since(started).Seconds()) }()

	projects, err := m.Store.FetchEnabledProjects(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrMetadataUnavailable, err.Error())
	}
	fieldRows, err := m.Store.FetchFieldRegistry(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrMetadataUnavailable, err.Error())
	}
	bronzeTables, err := m.Store.FetchBronzeEventTables(ctx)
	if err != nil {
		m.Logger.WithError(err).Warn("bronze parsing tables not available")
		bronzeTables = nil
	}
	bronzeFields, err := m.Store.FetchBronzeEventFields(ctx)
	if err != nil {
		m.Logger.WithError(err).Warn("bronze parsing fields not available")
		bronzeFields = nil
	}

	projectIDs := make([]string, 0, len(projects))
	for _, p := range projects {
		projectIDs = append(projectIDs, p.ProjectID)
	}
	m.Logger.WithField("count", len(projectIDs)).Info("found enabled projects")

	if err := EnsureDefaultBronzeColumns(ctx, m.Warehouse); err != nil {
		return nil, err
	}

	fieldsByTable := make(map[int64][]metadata.BronzeEventField, len(bronzeFields))
	for _, f := range bronzeFields {
		fieldsByTable[f.TableID] = append(fieldsByTable[f.TableID], f)
	}

	// Each goroutine owns its own slot; no shared mutable state, so
	// results can be concatenated back in input order after Wait.
	perProject := make([][]Outcome, len(projectIDs))

	g, _ := errgroup.WithContext(ctx)
	for i, projectID := range projectIDs {
		i, projectID := i, projectID
		g.Go(func() error {
			if err := EnsureProjectStorage(ctx, m.Warehouse, projectID); err != nil {
				return errors.Wrapf(err, "ensuring storage for project %s", projectID)
			}

			var mine []Outcome

			tableResults, err := m.applyBronzeTablesForProject(ctx, projectID, bronzeTables, fieldsByTable, collect)
			if err != nil {
				return err
			}
			for _, o := range tableResults {
				mine = append(mine, o)
				recordOutcomeMetric(projectID, o)
			}

			fieldResults, err := m.applyFieldRegistryForProject(ctx, projectID, fieldRows, collect)
			if err != nil {
				return err
			}
			for _, o := range fieldResults {
				mine = append(mine, o)
				recordOutcomeMetric(projectID, o)
			}

			perProject[i] = mine
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !collect {
		return nil, nil
	}
	var outcomes []Outcome
	for _, results := range perProject {
		outcomes = append(outcomes, results...)
	}
	return outcomes, nil
}

func targetsProject(rowProjectID *string, projectID string) bool {
	return rowProjectID == nil || *rowProjectID == projectID
}

func (m *Migrator) applyBronzeTablesForProject(
	ctx context.Context, projectID string,
	tables []metadata.BronzeEventTable, fieldsByTable map[int64][]metadata.BronzeEventField,
	collect bool,
) ([]Outcome, error) {
	var out []Outcome
	bronzeDB := projectID + "_bronze"

	for _, table := range tables {
		if !targetsProject(table.ProjectID, projectID) {
			continue
		}
		cols := fieldsByTable[table.TableID]
		if len(cols) == 0 {
			if collect {
				out = append(out, Outcome{Table: table.TableName, Status: "skipped", Error: "no columns configured"})
			}
			continue
		}

		o, err := m.applyOneBronzeTable(ctx, bronzeDB, table, cols)
		if err != nil {
			if !collect {
				return nil, err
			}
			out = append(out, Outcome{
				Table:  bronzeDB + "." + table.TableName,
				Status: "error",
				Error:  err.Error(),
			})
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Migrator) applyOneBronzeTable(ctx context.Context, bronzeDB string, table metadata.BronzeEventTable, cols []metadata.BronzeEventField) (Outcome, error) {
	if err := ident.Guard(table.TableName); err != nil {
		return Outcome{}, err
	}
	dbQuoted, err := ident.Quote(bronzeDB)
	if err != nil {
		return Outcome{}, err
	}
	tableQuoted, err := ident.Quote(table.TableName)
	if err != nil {
		return Outcome{}, err
	}
	qualified := dbQuoted + "." + tableQuoted

	sorted := append([]metadata.BronzeEventField(nil), cols...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ordinal != sorted[j].Ordinal {
			return sorted[i].Ordinal < sorted[j].Ordinal
		}
		return sorted[i].ColumnName < sorted[j].ColumnName
	})

	hasEventTS, hasEventID := false, false
	colDefs := make([]string, 0, len(sorted))
	for _, c := range sorted {
		colQuoted, err := ident.Quote(c.ColumnName)
		if err != nil {
			return Outcome{}, err
		}
		colDefs = append(colDefs, colQuoted+" "+c.ColumnType)
		if c.ColumnName == "event_ts" {
			hasEventTS = true
		}
		if c.ColumnName == "event_id" {
			hasEventID = true
		}
	}
	if !hasEventTS {
		return Outcome{}, errors.New("event_ts column is required for bronze tables")
	}

	orderBy := "event_ts"
	if hasEventID {
		orderBy = "event_ts, event_id"
	}
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n)\nENGINE = MergeTree\nPARTITION BY toDate(event_ts)\nORDER BY (%s)",
		qualified, joinCols(colDefs), orderBy,
	)
	if _, err := m.Warehouse.Exec(ctx, create, nil); err != nil {
		return Outcome{}, errors.Wrap(ErrWarehouseSemantic, err.Error())
	}

	for _, c := range sorted {
		colQuoted, _ := ident.Quote(c.ColumnName)
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", qualified, colQuoted, c.ColumnType)
		if _, err := m.Warehouse.Exec(ctx, alter, nil); err != nil {
			return Outcome{}, errors.Wrap(ErrWarehouseSemantic, err.Error())
		}
	}

	selectExprs := make([]string, 0, len(sorted))
	for _, c := range sorted {
		expr, err := buildColumnExpr(c.ColumnType, c.JSONPath)
		if err != nil {
			return Outcome{}, err
		}
		colQuoted, _ := ident.Quote(c.ColumnName)
		selectExprs = append(selectExprs, expr+" AS "+colQuoted)
	}
	sourceTable := dbQuoted + ".`os_events_raw`"
	mvQuoted, err := ident.Quote(table.TableName + "_mv")
	if err != nil {
		return Outcome{}, err
	}
	mvTable := dbQuoted + "." + mvQuoted

	if _, err := m.Warehouse.Exec(ctx, "DROP TABLE IF EXISTS "+mvTable, nil); err != nil {
		return Outcome{}, errors.Wrap(ErrWarehouseSemantic, err.Error())
	}
	createView := fmt.Sprintf(
		"CREATE MATERIALIZED VIEW %s\nTO %s\nAS\nSELECT\n  %s\nFROM %s\nWHERE %s",
		mvTable, qualified, joinCols(selectExprs), sourceTable, datasetFilter(table.Dataset),
	)
	if _, err := m.Warehouse.Exec(ctx, createView, nil); err != nil {
		return Outcome{}, errors.Wrap(ErrWarehouseSemantic, err.Error())
	}

	return Outcome{Table: bronzeDB + "." + table.TableName, Status: "applied"}, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ",\n  "
		}
		out += c
	}
	return out
}

func (m *Migrator) applyFieldRegistryForProject(ctx context.Context, projectID string, rows []metadata.FieldRegistryRow, collect bool) ([]Outcome, error) {
	var out []Outcome
	for _, row := range rows {
		if !targetsProject(row.ProjectID, projectID) {
			continue
		}

		var dbSuffix string
		switch row.Layer {
		case metadata.LayerBronze:
			dbSuffix = "_bronze"
		case metadata.LayerGoldFct, metadata.LayerGoldDim, "gold":
			dbSuffix = "_gold"
		default:
			m.Logger.WithField("field_id", row.FieldID).Warnf("skipping field: unknown layer %s", row.Layer)
			if collect {
				out = append(out, Outcome{Status: "skipped", Error: fmt.Sprintf("unknown layer %s", row.Layer)})
			}
			continue
		}

		o, err := m.applyOneFieldRow(ctx, projectID+dbSuffix, row)
		if err != nil {
			if !collect {
				return nil, err
			}
			out = append(out, Outcome{Table: o.Table, Column: row.ColumnName, Status: "error", Error: err.Error()})
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Migrator) applyOneFieldRow(ctx context.Context, targetDB string, row metadata.FieldRegistryRow) (Outcome, error) {
	table, err := qualifyTable(targetDB, row.TableName)
	if err != nil {
		return Outcome{}, err
	}
	column, err := ident.Quote(row.ColumnName)
	if err != nil {
		return Outcome{}, err
	}

	var statement string
	if row.ExpressionSQL != nil && *row.ExpressionSQL != "" {
		mode := row.Mode
		if mode != metadata.ModeAlias && mode != metadata.ModeMaterialized {
			mode = metadata.ModeAlias
		}
		statement = fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s %s %s",
			table, column, row.ColumnType, mode, *row.ExpressionSQL)
	} else {
		statement = fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, row.ColumnType)
	}

	m.Logger.WithFields(logrus.Fields{"field_id": row.FieldID, "table": table}).Info("applying field")
	if _, err := m.Warehouse.Exec(ctx, statement, nil); err != nil {
		return Outcome{Table: table}, errors.Wrap(ErrWarehouseSemantic, err.Error())
	}
	return Outcome{Table: table, Column: row.ColumnName, Status: "applied"}, nil
}

func qualifyTable(defaultDB, tableName string) (string, error) {
	return ident.QualifiedQuote(defaultDB, tableName)
}
