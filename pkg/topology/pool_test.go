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
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSerializesPerShard(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	var running int32
	var overlap int32
	for i := 0; i < 20; i++ {
		err := p.Invoke(0, func(context.Context) {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
	}
	if err := p.InvokeWait(context.Background(), 0, func(context.Context) {}); err != nil {
		t.Fatalf("InvokeWait: %v", err)
	}
	if atomic.LoadInt32(&overlap) != 0 {
		t.Fatalf("tasks on one shard overlapped")
	}
}

func TestPoolInvokeWaitHonorsContext(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	block := make(chan struct{})
	if err := p.Invoke(0, func(context.Context) { <-block }); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.InvokeWait(ctx, 0, func(context.Context) {})
	if err == nil {
		t.Fatalf("expected context error while shard busy")
	}
	close(block)
}

func TestPoolFullShardDoesNotBlockOtherShards(t *testing.T) {
	p := NewPool(2)

	gate := make(chan struct{})
	busy := make(chan struct{})
	if err := p.Invoke(0, func(context.Context) {
		close(busy)
		<-gate
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	<-busy

	// Fill shard 0's queue, then park one more submitter behind it.
	for i := 0; i < shardQueueDepth; i++ {
		if err := p.Invoke(0, func(context.Context) {}); err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
	}
	overflow := make(chan error, 1)
	go func() {
		overflow <- p.Invoke(0, func(context.Context) {})
	}()

	ran := make(chan struct{})
	if err := p.Invoke(1, func(context.Context) { close(ran) }); err != nil {
		t.Fatalf("Invoke shard 1: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("task on idle shard never ran while another shard's queue was full")
	}

	// Close must not wait on the stuck submitter; it gets ErrPoolClosed.
	close(gate)
	p.Close()
	select {
	case err := <-overflow:
		if err != nil && err != ErrPoolClosed {
			t.Fatalf("overflow submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submitter stuck on full shard queue was never released by Close")
	}
}

func TestPoolClose(t *testing.T) {
	p := NewPool(2)
	p.Close()
	if err := p.Invoke(0, func(context.Context) {}); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	// double close is a no-op
	p.Close()
}
