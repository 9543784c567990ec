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

// Package upstream is a REST client for an OpenSearch-class search
// cluster: index discovery, point-in-time tokens, and paginated search.
// See spec.md §4.2.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/eventlake/ingestcore/internal/metrics"
)

// AuthMode enumerates the supported credential schemes.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBasic  AuthMode = "basic"
	AuthAPIKey AuthMode = "api_key"
	AuthBearer AuthMode = "bearer"
)

// ErrTransient wraps failures eligible for retry: transport errors and
// 5xx responses.
var ErrTransient = errors.New("upstream transient error")

// ErrSemantic wraps non-2xx, non-5xx responses: these are not retried.
var ErrSemantic = errors.New("upstream semantic error")

// ErrExhausted is returned when max retries are consumed without success.
var ErrExhausted = errors.New("upstream retries exhausted")

// Config binds one source's connection parameters.
type Config struct {
	BaseURL           string
	Auth              AuthMode
	Username          string
	Secret            string
	Timeout           time.Duration
	VerifySSL         bool
	MaxRetries        int
	BackoffBase       time.Duration
}

// Client is a thin, retrying REST client over one upstream base URL.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client from cfg. A dedicated *http.Client is created so
// TLS verification and timeout are scoped per source.
func New(cfg Config) *Client {
	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.cfg.Auth {
	case AuthBasic:
		req.SetBasicAuth(c.cfg.Username, c.cfg.Secret)
	case AuthAPIKey:
		req.Header.Set("Authorization", "ApiKey "+c.cfg.Secret)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.cfg.Secret)
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

// do executes req, retrying transient failures per the configured
// backoff policy. buildReq is invoked once per attempt so requests with
// a body get a fresh reader on every retry. A non-nil acceptStatus
// callback lets the caller treat a particular status code (e.g. 404 on
// list_indices) as success.
func (c *Client) do(ctx context.Context, buildReq func() (*http.Request, error), acceptStatus func(int) bool) (*http.Response, []byte, error) {
	var resp *http.Response
	var body []byte

	op := func() error {
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(ErrTransient, err.Error())
		}
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return errors.Wrap(ErrTransient, err.Error())
		}
		if acceptStatus != nil && acceptStatus(r.StatusCode) {
			resp, body = r, b
			return nil
		}
		if r.StatusCode >= 500 {
			return errors.Wrapf(ErrTransient, "status %d", r.StatusCode)
		}
		if r.StatusCode >= 300 {
			resp, body = r, b
			return backoff.Permanent(errors.Wrapf(ErrSemantic, "status %d: %s", r.StatusCode, string(b)))
		}
		resp, body = r, b
		return nil
	}

	err := backoff.RetryNotify(op, c.backoffPolicy(), func(error, time.Duration) {
		metrics.UpstreamRetries.Inc()
	})
	if err != nil {
		if errors.Is(err, ErrSemantic) {
			return resp, body, err
		}
		return nil, nil, errors.Wrap(ErrExhausted, err.Error())
	}
	return resp, body, nil
}

type indexEntry struct {
	Index  string `json:"index"`
	Status string `json:"status"`
}

// ListIndices returns the sorted, de-duplicated set of open indices
// matching pattern. A 404 from the cluster (no matching indices) is
// treated as an empty result, not an error.
func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	u := fmt.Sprintf("%s/_cat/indices/%s?format=json&h=index,status", c.cfg.BaseURL, url.PathEscape(pattern))
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building list_indices request")
		}
		c.applyAuth(req)
		return req, nil
	}

	resp, body, err := c.do(ctx, build, func(code int) bool { return code == 404 })
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 404 {
		return nil, nil
	}

	var entries []indexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding list_indices response")
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Status == "close" {
			continue
		}
		seen[e.Index] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Strings(out)
	return out, nil
}

type pitResponse struct {
	ID string `json:"id"`
}

// OpenPIT requests a point-in-time token for index with a 1-minute
// keep-alive. Returns an error on failure; the caller falls back to
// index-scoped search.
func (c *Client) OpenPIT(ctx context.Context, index string) (string, error) {
	u := fmt.Sprintf("%s/%s/_pit?keep_alive=1m", c.cfg.BaseURL, url.PathEscape(index))
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building open_pit request")
		}
		c.applyAuth(req)
		return req, nil
	}

	_, body, err := c.do(ctx, build, nil)
	if err != nil {
		return "", err
	}
	var pit pitResponse
	if err := json.Unmarshal(body, &pit); err != nil {
		return "", errors.Wrap(err, "decoding open_pit response")
	}
	return pit.ID, nil
}

// ClosePIT releases a point-in-time token. Best-effort: failures are
// returned to the caller for logging, never meant to abort a loop.
func (c *Client) ClosePIT(ctx context.Context, id string) error {
	payload, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return errors.Wrap(err, "encoding close_pit body")
	}
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/_pit", bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "building close_pit request")
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)
		return req, nil
	}

	_, _, err = c.do(ctx, build, nil)
	return err
}

// Search issues a raw search body. When body carries a "pit" key, index
// is ignored and the request goes to the cluster-wide _search endpoint;
// otherwise it is scoped to index.
func (c *Client) Search(ctx context.Context, body map[string]any, index string) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding search body")
	}

	target := c.cfg.BaseURL + "/_search"
	if _, pit := body["pit"]; !pit {
		target = fmt.Sprintf("%s/%s/_search", c.cfg.BaseURL, url.PathEscape(index))
	}

	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "building search request")
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)
		return req, nil
	}

	_, respBody, err := c.do(ctx, build, nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.Wrap(err, "decoding search response")
	}
	return out, nil
}
