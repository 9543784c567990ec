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

import "strings"

// datasetFilter compiles the WHERE predicate for a parsing table's
// continuous view (spec.md §4.5.3). suricata/wazuh/zeek get
// hand-written admission rules matching field naming quirks upstream
// product teams use; any other non-empty dataset falls back to a
// generic comparison against event.dataset/module/provider. An empty
// dataset admits every row.
func datasetFilter(dataset string) string {
	key := strings.ToLower(strings.TrimSpace(dataset))
	switch key {
	case "suricata":
		return "JSONHas(raw, 'suricata') " +
			"OR JSON_VALUE(raw, '$.event.module') = 'suricata' " +
			"OR JSON_VALUE(raw, '$.event.provider') = 'suricata'"
	case "wazuh":
		return "JSON_VALUE(raw, '$.event.provider') = 'wazuh' " +
			"OR JSONHas(raw, 'wazuh')"
	case "zeek":
		return "JSONHas(raw, 'zeek') " +
			"OR JSON_VALUE(raw, '$.event.module') = 'zeek' " +
			"OR JSON_VALUE(raw, '$.event.provider') = 'zeek'"
	case "":
		return "1 = 1"
	default:
		safe := escapeLiteral(key)
		return "JSON_VALUE(raw, '$.event.dataset') = '" + safe + "' " +
			"OR JSON_VALUE(raw, '$.event.module') = '" + safe + "' " +
			"OR JSON_VALUE(raw, '$.event.provider') = '" + safe + "'"
	}
}

func escapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
