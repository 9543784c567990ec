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

// Package migrator applies idempotent ClickHouse-class DDL from
// Postgres metadata: project storage, legacy bronze columns, bronze
// parsing tables with their continuous materialized views, and
// field-registry derived columns. See spec.md §4.5.
package migrator

import "github.com/pkg/errors"

// ErrWarehouseSemantic wraps a DDL statement rejected by the warehouse.
var ErrWarehouseSemantic = errors.New("warehouse rejected statement")

// ErrMetadataUnavailable wraps a failed read of project/field-registry
// metadata that apply cannot proceed without.
var ErrMetadataUnavailable = errors.New("metadata store unavailable")
