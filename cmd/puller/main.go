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

// Command puller runs the incremental/backfill ingestion loop
// described in spec.md §4.4. It takes no flags; every setting comes
// from the environment (see internal/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/eventlake/ingestcore/internal/config"
	"github.com/eventlake/ingestcore/internal/wiring"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "puller:", err)
		os.Exit(1)
	}

	sc := wiring.Background()

	fixture, cleanup, err := wiring.ProvidePullerFixture(sc.Context, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "puller:", err)
		os.Exit(1)
	}
	defer cleanup()

	fixture.Logger.WithField("worker_id", cfg.WorkerID).Info("starting puller loop")

	sc.Go(func(ctx context.Context) error {
		if err := fixture.Engine.RunLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := sc.Wait(); err != nil {
		fixture.Logger.WithError(err).Error("puller exited with error")
		os.Exit(1)
	}
}
