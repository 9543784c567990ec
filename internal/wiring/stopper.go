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

// Package wiring composes the puller and migrator binaries' dependency
// graphs by hand, in the shape a Wire-generated wire_gen.go would take,
// and carries a small goroutine-lifecycle helper in the same idiom as
// the teacher's internal/util/stopper (whose own source wasn't part of
// this package's retrieval pack, only its call sites in stdpool).
package wiring

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Context wraps a context.Context with a WaitGroup-backed Go/Stop
// pair, so main can launch long-running goroutines and wait for a
// clean shutdown on SIGINT/SIGTERM.
type Context struct {
	context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
}

// Background builds a Context that cancels on SIGINT or SIGTERM.
func Background() *Context {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &Context{Context: ctx, cancel: cancel}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return sc
}

// Go launches fn in its own goroutine. If fn returns a non-nil error,
// the Context is cancelled and the error is recorded; Wait returns the
// first such error seen.
func (c *Context) Go(fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.Context); err != nil {
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
			c.cancel()
		}
	}()
}

// Stopping returns a channel closed once the Context has been
// cancelled, either by a signal or by a Go'd function's error.
func (c *Context) Stopping() <-chan struct{} {
	return c.Context.Done()
}

// Stop cancels the Context directly, for callers that decide to shut
// down without a signal or a failing goroutine.
func (c *Context) Stop() {
	c.cancel()
}

// Wait blocks until every goroutine launched with Go has returned, and
// reports the first error any of them returned.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}
