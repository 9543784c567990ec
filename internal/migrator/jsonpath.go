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
	"fmt"
	"strings"

	"github.com/eventlake/ingestcore/internal/ident"
)

// splitPaths turns a json_path cell — a newline- or comma-separated
// list — into its component path strings, dropping blanks.
func splitPaths(value string) []string {
	var parts []string
	for _, line := range strings.Split(value, "\n") {
		for _, chunk := range strings.Split(line, ",") {
			item := strings.TrimSpace(chunk)
			if item != "" {
				parts = append(parts, item)
			}
		}
	}
	return parts
}

func normalizeJSONPath(path string) string {
	switch {
	case strings.HasPrefix(path, "$"):
		return path
	case strings.HasPrefix(path, "@"):
		return fmt.Sprintf(`$."%s"`, path)
	default:
		return "$." + path
	}
}

func unwrapNullable(columnType string) string {
	t := strings.TrimSpace(columnType)
	if strings.HasPrefix(t, "Nullable(") && strings.HasSuffix(t, ")") {
		return strings.TrimSpace(t[len("Nullable(") : len(t)-1])
	}
	return t
}

func buildJSONExtractPath(path string) []string {
	if strings.HasPrefix(path, "$") {
		path = path[1:]
	}
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(path, ".") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func arrayExtractExpr(path, columnType string) string {
	parts := buildJSONExtractPath(path)
	if len(parts) == 0 {
		return fmt.Sprintf("CAST([] AS %s)", columnType)
	}
	if len(parts) == 1 {
		return fmt.Sprintf("JSONExtract(raw, '%s', '%s')", parts[0], columnType)
	}
	expr := fmt.Sprintf("JSONExtractRaw(raw, '%s')", parts[0])
	for _, part := range parts[1 : len(parts)-1] {
		expr = fmt.Sprintf("JSONExtractRaw(%s, '%s')", expr, part)
	}
	return fmt.Sprintf("JSONExtract(%s, '%s', '%s')", expr, parts[len(parts)-1], columnType)
}

func coerceExpression(expr, baseType string) string {
	if baseType == "" {
		return expr
	}
	switch {
	case strings.HasPrefix(baseType, "DateTime64"), strings.HasPrefix(baseType, "DateTime"):
		return fmt.Sprintf("parseDateTime64BestEffortOrNull(%s)", expr)
	case strings.HasPrefix(baseType, "IPv6"):
		return fmt.Sprintf("toIPv6OrNull(%s)", expr)
	case strings.HasPrefix(baseType, "UInt"):
		bits := baseType[len("UInt"):]
		if isDigits(bits) {
			return fmt.Sprintf("toUInt%sOrNull(%s)", bits, expr)
		}
		return fmt.Sprintf("toUInt64OrNull(%s)", expr)
	case strings.HasPrefix(baseType, "Int"):
		bits := baseType[len("Int"):]
		if isDigits(bits) {
			return fmt.Sprintf("toInt%sOrNull(%s)", bits, expr)
		}
		return fmt.Sprintf("toInt64OrNull(%s)", expr)
	case strings.HasPrefix(baseType, "Float"):
		return fmt.Sprintf("toFloat64OrNull(%s)", expr)
	default:
		return fmt.Sprintf("nullIf(%s, '')", expr)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func buildValueExpr(path, columnType string) string {
	baseType := unwrapNullable(columnType)
	if strings.HasPrefix(path, "epoch_ms:") {
		rest := strings.TrimSpace(strings.TrimPrefix(path, "epoch_ms:"))
		jsonPath := normalizeJSONPath(rest)
		return fmt.Sprintf("fromUnixTimestamp64Milli(toInt64OrNull(JSON_VALUE(raw, '%s')))", jsonPath)
	}
	jsonPath := normalizeJSONPath(path)
	return coerceExpression(fmt.Sprintf("JSON_VALUE(raw, '%s')", jsonPath), baseType)
}

// buildColumnExpr compiles one field registry / bronze field's
// json_path cell into a single SQL expression that yields columnType,
// implementing the fallback-chain, array-vs-scalar, and
// source-column (`__`-prefixed) rules of spec.md §4.5.2.
func buildColumnExpr(columnType, jsonPath string) (string, error) {
	paths := splitPaths(jsonPath)
	if len(paths) == 0 {
		return fmt.Sprintf("CAST(NULL AS %s)", columnType), nil
	}
	baseType := unwrapNullable(columnType)

	if strings.HasPrefix(baseType, "Array(") {
		exprs := make([]string, 0, len(paths))
		for _, path := range paths {
			if strings.HasPrefix(path, "__") {
				sourceCol := path[2:]
				if err := ident.Guard(sourceCol); err != nil {
					return "", err
				}
				exprs = append(exprs, sourceCol)
				continue
			}
			exprs = append(exprs, arrayExtractExpr(path, baseType))
		}
		combined := exprs[0]
		for _, expr := range exprs[1:] {
			combined = fmt.Sprintf("ifNull(%s, %s)", combined, expr)
		}
		return fmt.Sprintf("ifNull(%s, [])", combined), nil
	}

	exprs := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.HasPrefix(path, "__") {
			sourceCol := path[2:]
			if err := ident.Guard(sourceCol); err != nil {
				return "", err
			}
			exprs = append(exprs, sourceCol)
			continue
		}
		exprs = append(exprs, buildValueExpr(path, columnType))
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return fmt.Sprintf("coalesce(%s)", strings.Join(exprs, ", ")), nil
}
