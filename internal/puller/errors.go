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

import "github.com/pkg/errors"

// ErrUpstreamTransient covers network failures, 5xx, and timeouts
// talking to the upstream search cluster.
var ErrUpstreamTransient = errors.New("upstream transient failure")

// ErrUpstreamSemantic covers non-2xx, non-5xx responses from the
// upstream cluster; never retried.
var ErrUpstreamSemantic = errors.New("upstream semantic failure")

// ErrWarehouseTransient covers network failures, 5xx, and timeouts
// talking to the warehouse.
var ErrWarehouseTransient = errors.New("warehouse transient failure")

// ErrWarehouseSemantic covers non-2xx, non-5xx responses from the
// warehouse; never retried.
var ErrWarehouseSemantic = errors.New("warehouse semantic failure")

// ErrMetadataUnavailable is returned when the metadata store cannot be
// reached for a read the cycle needs.
var ErrMetadataUnavailable = errors.New("metadata store unavailable")

// ErrSecretUnresolvable names the unresolvable-secret error kind. No
// code path returns or logs it: when a source's secret can't be
// resolved, buildUpstreamClient logs a plain warning and the source
// proceeds with anonymous headers (spec.md §4.4.5).
var ErrSecretUnresolvable = errors.New("secret could not be resolved")

// ErrBackfillCancelled marks a backfill loop exit because the job's
// status moved out of pending/running underneath it.
var ErrBackfillCancelled = errors.New("backfill job no longer active")

// ErrTimestampUnparseable marks a hit with neither a parseable
// _source[time_field] nor a parseable sort[0] value.
var ErrTimestampUnparseable = errors.New("hit has no parseable timestamp")
