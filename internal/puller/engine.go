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

// Package puller drives every enabled source through incremental
// tailing or backfill, one cycle per tick (spec.md §4.4).
package puller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eventlake/ingestcore/internal/config"
	"github.com/eventlake/ingestcore/internal/metadata"
	"github.com/eventlake/ingestcore/internal/metrics"
	"github.com/eventlake/ingestcore/internal/migrator"
	"github.com/eventlake/ingestcore/internal/secret"
	"github.com/eventlake/ingestcore/internal/upstream"
	"github.com/eventlake/ingestcore/internal/warehouse"
)

// Engine owns one puller process's lifecycle: resolving effective
// config each cycle, discovering sources, and dispatching each one to
// incremental tailing or backfill.
type Engine struct {
	Store         metadata.Store
	Warehouse     *warehouse.Client
	Base          config.Config
	Logger        *logrus.Logger
	SecretKey     []byte
	newUpstream   func(upstream.Config) upstreamClient
}

// NewEngine builds an Engine from startup config. The warehouse client
// is constructed once, since its endpoint never varies per source;
// upstream clients are constructed per source inside each cycle.
func NewEngine(store metadata.Store, base config.Config, logger *logrus.Logger, processSecret string) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	wh := warehouse.New(warehouse.Config{
		URL:         base.ClickHouseURL,
		Timeout:     time.Duration(base.ClickHouseTimeoutSecs) * time.Second,
		MaxRetries:  base.MaxRetries,
		BackoffBase: durationFromSeconds(base.BackoffBaseSeconds),
	})
	return &Engine{
		Store:     store,
		Warehouse: wh,
		Base:      base,
		Logger:    logger,
		SecretKey: secret.DeriveKey(processSecret),
		newUpstream: func(cfg upstream.Config) upstreamClient {
			return upstream.New(cfg)
		},
	}
}

// RunLoop repeats RunOnce every eff.PollInterval until ctx is
// cancelled. A failed cycle is logged; the loop does not exit.
func (e *Engine) RunLoop(ctx context.Context) error {
	for {
		interval, err := e.RunOnce(ctx)
		if err != nil {
			e.Logger.WithError(err).Error("puller cycle failed")
			metrics.CycleErrors.Inc()
		}
		if interval <= 0 {
			interval = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce drives a single cycle (spec.md §4.4 steps 1-4) and returns
// the poll interval to wait before the next one.
func (e *Engine) RunOnce(ctx context.Context) (time.Duration, error) {
	started := time.Now()
	defer func() { metrics.CycleDurations.Observe(time.Since(started).Seconds()) }()

	override, err := e.Store.FetchPullerConfig(ctx)
	if err != nil {
		// The previous cycle's overrides are not kept: a failed read
		// falls back to the startup config alone.
		e.Logger.WithError(err).Warn("puller_config unavailable, using startup config without overrides")
		override = nil
	}
	eff := resolveEffective(e.Base, override)

	if err := e.Store.UpsertWorkerHeartbeat(ctx, e.Base.WorkerID, "puller", "running", eff.Snapshot()); err != nil {
		e.Logger.WithError(err).Warn("failed to write running heartbeat")
	}

	sources, err := e.Store.FetchEnabledSources(ctx)
	if err != nil {
		e.Logger.WithError(err).Error("failed to load enabled sources")
		return eff.PollInterval, err
	}

	if err := migrator.EnsureDefaultBronzeColumns(ctx, e.Warehouse); err != nil {
		e.Logger.WithError(err).Error("failed to patch legacy bronze tables")
		return eff.PollInterval, err
	}

	var firstErr error
	for _, source := range sources {
		if err := e.processSource(ctx, source, eff); err != nil {
			e.Logger.WithError(err).WithField("source_id", source.SourceID).Error("source processing failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := e.Store.UpsertWorkerHeartbeat(ctx, e.Base.WorkerID, "puller", "idle", eff.Snapshot()); err != nil {
		e.Logger.WithError(err).Warn("failed to write idle heartbeat")
	}

	return eff.PollInterval, firstErr
}

func (e *Engine) processSource(ctx context.Context, source metadata.Source, eff Effective) error {
	if err := migrator.EnsureProjectStorage(ctx, e.Warehouse, source.ProjectID); err != nil {
		return err
	}

	up := e.buildUpstreamClient(source, eff)
	logger := e.Logger.WithFields(logrus.Fields{"source_id": source.SourceID, "project_id": source.ProjectID})

	job, err := e.Store.FetchBackfillJob(ctx, source.SourceID)
	if err != nil {
		return err
	}
	if job != nil && job.Status.Active() {
		indices, err := up.ListIndices(ctx, source.IndexPattern)
		if err != nil {
			return err
		}
		metrics.BackfillJobsActive.Inc()
		defer metrics.BackfillJobsActive.Dec()
		return runBackfill(ctx, e.Store, up, e.Warehouse, logger, source, job, indices, eff.BatchSize)
	}

	indices, err := up.ListIndices(ctx, source.IndexPattern)
	if err != nil {
		return err
	}

	var lastErr error
	for _, index := range indices {
		if err := runIncremental(ctx, e.Store, up, e.Warehouse, logger, source, index, eff); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *Engine) buildUpstreamClient(source metadata.Source, eff Effective) upstreamClient {
	username := ""
	if source.Username != nil {
		username = *source.Username
	}
	secretValue, ok := secret.Resolve(secret.Source{Ref: source.SecretRef, Enc: source.SecretEnc}, e.SecretKey)
	if !ok {
		e.Logger.WithField("source_id", source.SourceID).Warn("secret could not be resolved, proceeding with anonymous headers")
	}
	return e.newUpstream(upstream.Config{
		BaseURL:     source.BaseURL,
		Auth:        upstream.AuthMode(source.AuthType),
		Username:    username,
		Secret:      secretValue,
		Timeout:     eff.OpenSearchTimeout,
		VerifySSL:   eff.VerifySSL,
		MaxRetries:  eff.MaxRetries,
		BackoffBase: eff.BackoffBase,
	})
}
