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

// Package warehouse is a REST client for a ClickHouse-class warehouse:
// statement execution and row insertion. See spec.md §4.3.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/eventlake/ingestcore/internal/ident"
	"github.com/eventlake/ingestcore/internal/metrics"
)

// ErrTransient wraps failures eligible for retry: transport errors and
// 5xx responses.
var ErrTransient = errors.New("warehouse transient error")

// ErrSemantic wraps non-2xx, non-5xx responses: these are not retried.
var ErrSemantic = errors.New("warehouse semantic error")

// ErrExhausted is returned when max retries are consumed without success.
var ErrExhausted = errors.New("warehouse retries exhausted")

// Config binds the warehouse HTTP endpoint.
type Config struct {
	URL         string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// Client posts SQL statements to a single ClickHouse-class endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) backoffPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BackoffBase
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	if c.cfg.MaxRetries <= 0 {
		return backoff.WithMaxRetries(eb, 0)
	}
	return backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries))
}

// Exec posts statement as the query parameter with an optional request
// body, retrying transient failures.
func (c *Client) Exec(ctx context.Context, statement string, body []byte) ([]byte, error) {
	var out []byte

	op := func() error {
		req, err := c.buildRequest(ctx, statement, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(ErrTransient, err.Error())
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(ErrTransient, err.Error())
		}
		if resp.StatusCode >= 500 {
			return errors.Wrapf(ErrTransient, "status %d: %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(errors.Wrapf(ErrSemantic, "status %d: %s", resp.StatusCode, string(b)))
		}
		out = b
		return nil
	}

	notify := func(error, time.Duration) { metrics.WarehouseRetries.Inc() }
	if err := backoff.RetryNotify(op, c.backoffPolicy(), notify); err != nil {
		if errors.Is(err, ErrSemantic) {
			return nil, err
		}
		return nil, errors.Wrap(ErrExhausted, err.Error())
	}
	return out, nil
}

func (c *Client) buildRequest(ctx context.Context, statement string, body []byte) (*http.Request, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing warehouse url")
	}
	q := u.Query()
	q.Set("query", statement)
	u.RawQuery = q.Encode()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, u.String(), reader)
}

// TableExists runs an `EXISTS TABLE` style check and parses the scalar
// response.
func (c *Client) TableExists(ctx context.Context, db, table string) (bool, error) {
	dbQuoted, err := ident.Quote(db)
	if err != nil {
		return false, err
	}
	tableQuoted, err := ident.Quote(table)
	if err != nil {
		return false, err
	}
	out, err := c.Exec(ctx, "EXISTS TABLE "+dbQuoted+"."+tableQuoted, nil)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "1", nil
}

// InsertRows concatenates rows as one JSON document per line and posts
// `INSERT INTO <db>.<table> FORMAT JSONEachRow` with that body.
func (c *Client) InsertRows(ctx context.Context, db, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	dbQuoted, err := ident.Quote(db)
	if err != nil {
		return err
	}
	tableQuoted, err := ident.Quote(table)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, "encoding row")
		}
	}

	statement := "INSERT INTO " + dbQuoted + "." + tableQuoted + " FORMAT JSONEachRow"
	_, err = c.Exec(ctx, statement, buf.Bytes())
	return err
}
