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

// Package ident guards names that will be interpolated into warehouse
// SQL statements. The warehouse protocol has no placeholder syntax for
// identifiers, so every database, table, and column name that reaches a
// statement string must pass through Guard or Quote first.
package ident

import (
	"regexp"

	"github.com/pkg/errors"
)

var safe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrInvalid is wrapped by Guard when a name fails the identifier
// pattern.
var ErrInvalid = errors.New("invalid identifier")

// Guard returns an error wrapping ErrInvalid if name is empty or
// contains any byte outside [A-Za-z0-9_].
func Guard(name string) error {
	if name == "" || !safe.MatchString(name) {
		return errors.Wrapf(ErrInvalid, "%q", name)
	}
	return nil
}

// Quote guards name and, if valid, returns it wrapped in backticks for
// direct interpolation into a warehouse statement.
func Quote(name string) (string, error) {
	if err := Guard(name); err != nil {
		return "", err
	}
	return "`" + name + "`", nil
}

// QualifiedQuote guards and quotes a "db.table"-shaped name, splitting
// on the first '.'. If name has no '.', it is treated as a bare table
// name within defaultDB.
func QualifiedQuote(defaultDB, name string) (string, error) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			db, table := name[:i], name[i+1:]
			qdb, err := Quote(db)
			if err != nil {
				return "", err
			}
			qtable, err := Quote(table)
			if err != nil {
				return "", err
			}
			return qdb + "." + qtable, nil
		}
	}
	qdb, err := Quote(defaultDB)
	if err != nil {
		return "", err
	}
	qtable, err := Quote(name)
	if err != nil {
		return "", err
	}
	return qdb + "." + qtable, nil
}
