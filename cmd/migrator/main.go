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

// Command migrator applies the metadata-driven schema described in
// spec.md §4.5: bronze parsing tables/views and field-registry columns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventlake/ingestcore/internal/config"
	"github.com/eventlake/ingestcore/internal/wiring"
)

var rootCmd = &cobra.Command{
	Use:           "migrator",
	Short:         "Apply metadata-driven warehouse schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply bronze tables, views, and field-registry columns for every enabled project",
	RunE:  runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrator:", err)
		os.Exit(1)
	}
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	fixture, cleanup, err := wiring.ProvideMigratorFixture(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	outcomes, err := fixture.Migrator.Apply(ctx, true)
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		line := fmt.Sprintf("%-8s %s", o.Status, o.Table)
		if o.Column != "" {
			line += "." + o.Column
		}
		if o.Status == "error" {
			line += ": " + o.Error
			failed++
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	fixture.Logger.WithField("count", len(outcomes)).WithField("failed", failed).Info("apply finished")

	if failed > 0 {
		return fmt.Errorf("%d of %d DDL units failed, see output above", failed, len(outcomes))
	}
	return nil
}
