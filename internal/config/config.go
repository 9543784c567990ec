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

// Package config loads the environment variables both binaries start
// from (spec.md §6 "Configuration"). The puller config row read each
// cycle overlays these at runtime; see internal/puller.Effective.
package config

import (
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Config is the startup environment for both cmd/puller and
// cmd/migrator. Only PostgresDSN and ClickHouseURL are required; every
// other field has a built-in default.
type Config struct {
	PostgresDSN    string
	ClickHouseURL  string
	LogLevel       string
	WorkerID       string

	BatchSize             int
	OverlapMinutes        int
	PollIntervalSeconds   int
	MaxRetries            int
	BackoffBaseSeconds    float64
	RateLimitSeconds      float64
	OpenSearchVerifySSL   bool
	OpenSearchTimeoutSecs int
	ClickHouseTimeoutSecs int
}

// FromEnv loads Config from the process environment, applying the
// defaults spec.md leaves implicit for anything not set.
func FromEnv() (Config, error) {
	cfg := Config{
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		ClickHouseURL:         os.Getenv("CLICKHOUSE_HTTP_URL"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		WorkerID:              workerID(),
		BatchSize:             envInt("BATCH_SIZE", 500),
		OverlapMinutes:        envInt("OVERLAP_MINUTES", 10),
		PollIntervalSeconds:   envInt("POLL_INTERVAL_SECONDS", 30),
		MaxRetries:            envInt("MAX_RETRIES", 5),
		BackoffBaseSeconds:    envFloat("BACKOFF_BASE_SECONDS", 1.0),
		RateLimitSeconds:      envFloat("RATE_LIMIT_SECONDS", 0.0),
		OpenSearchVerifySSL:   envBool("OPENSEARCH_VERIFY_SSL", true),
		OpenSearchTimeoutSecs: envInt("OPENSEARCH_TIMEOUT_SECONDS", 30),
		ClickHouseTimeoutSecs: envInt("CLICKHOUSE_TIMEOUT_SECONDS", 30),
	}
	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required")
	}
	if cfg.ClickHouseURL == "" {
		return Config{}, errors.New("CLICKHOUSE_HTTP_URL is required")
	}
	return cfg, nil
}

func workerID() string {
	if v := os.Getenv("WORKER_ID"); v != "" {
		return v
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	return "puller-" + uuid.NewString()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
