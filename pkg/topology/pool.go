// Copyright 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package topology

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Invoke and InvokeWait after Close.
var ErrPoolClosed = errors.New("shard pool closed")

const shardQueueDepth = 128

// Pool runs submitted tasks on a fixed set of shard goroutines. Tasks
// submitted to the same shard execute in order, one at a time; tasks on
// different shards run concurrently and never wait on each other.
type Pool struct {
	shards []chan task
	quit   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type task struct {
	fn   func(context.Context)
	done chan struct{}
}

// NewPool starts n shard workers. n is clamped to at least 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		shards: make([]chan task, n),
		quit:   make(chan struct{}),
	}
	for i := range p.shards {
		ch := make(chan task, shardQueueDepth)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.run(ch)
	}
	return p
}

func (p *Pool) run(ch chan task) {
	defer p.wg.Done()
	for {
		select {
		case t := <-ch:
			t.run()
		case <-p.quit:
			// Run whatever was queued before shutdown, then exit.
			for {
				select {
				case t := <-ch:
					t.run()
				default:
					return
				}
			}
		}
	}
}

func (t task) run() {
	t.fn(context.Background())
	if t.done != nil {
		close(t.done)
	}
}

// Invoke queues fn on the given shard and returns without waiting for it
// to run. Out-of-range shards map to shard 0.
func (p *Pool) Invoke(shard int, fn func(context.Context)) error {
	return p.submit(shard, task{fn: fn})
}

// InvokeWait queues fn on the given shard and blocks until it has run or
// ctx is done. fn still runs to completion even if ctx expires first.
func (p *Pool) InvokeWait(ctx context.Context, shard int, fn func(context.Context)) error {
	done := make(chan struct{})
	if err := p.submit(shard, task{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit enqueues a task without holding the pool lock across the channel
// send: a full shard queue blocks only submitters to that shard, never the
// other shards or Close.
func (p *Pool) submit(shard int, t task) error {
	if shard < 0 || shard >= len(p.shards) {
		shard = 0
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	ch := p.shards[shard]
	p.mu.Unlock()

	select {
	case ch <- t:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops accepting tasks, unblocks submitters waiting on full shard
// queues, drains already-queued tasks, and waits for the workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()
	p.wg.Wait()
}
