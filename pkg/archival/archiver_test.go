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

package archival

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestArchiverIdleOnEmptyPartition(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	store := NewMemoryObjectStore()
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		arch.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool {
		return arch.Progress().State == StateIdle
	}, "archiver did not go idle")

	p := arch.Progress()
	if p.Successes != 0 || p.Failures != 0 || p.UploadedTo != 0 {
		t.Fatalf("empty partition produced activity: %+v", p)
	}
	objects, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("empty partition uploaded %d objects", len(objects))
	}

	cancel()
	<-done
}

func TestArchiverUploadsAndResumesAfterFailures(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)

	store := NewMemoryObjectStore()
	store.FailNextUploads(2, errors.New("s3 503"))
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return arch.Progress().UploadedTo == 100
	}, "segment never uploaded")

	p := arch.Progress()
	if p.Failures != 2 {
		t.Fatalf("failures = %d, want 2", p.Failures)
	}
	if p.Successes != 1 {
		t.Fatalf("successes = %d, want 1", p.Successes)
	}

	data, err := store.Download(context.Background(), ManifestKey(ntp))
	if err != nil {
		t.Fatalf("manifest not persisted: %v", err)
	}
	manifest, err := DecodeManifest(data)
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.UploadedTo() != 100 {
		t.Fatalf("durable UploadedTo = %d, want 100", manifest.UploadedTo())
	}
	if _, err := store.Download(context.Background(), SegmentKey(ntp, 0, 100)); err != nil {
		t.Fatalf("segment object missing: %v", err)
	}
}

func TestArchiverDoesNotAdvanceWhileFailing(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)

	store := NewMemoryObjectStore()
	store.FailNextUploads(1_000_000, errors.New("s3 down"))
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return arch.Progress().Failures >= 3
	}, "uploads never attempted")

	p := arch.Progress()
	if p.UploadedTo != 0 {
		t.Fatalf("marker advanced past failed range: %d", p.UploadedTo)
	}
	if p.Pending != 100 {
		t.Fatalf("pending = %d, want 100", p.Pending)
	}
}

func TestUploadBackoffDoublesToCeilingAndResets(t *testing.T) {
	bo := newUploadBackoff(Config{InitialBackoff: time.Second, MaxBackoff: 8 * time.Second})
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Fatalf("wait %d = %v, want %v", i, got, w)
		}
	}
	bo.Reset()
	if got := bo.NextBackOff(); got != time.Second {
		t.Fatalf("wait after reset = %v, want %v", got, time.Second)
	}
}

func TestArchiverBackoffGrowsWhileFailing(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)

	store := NewMemoryObjectStore()
	store.FailNextUploads(1_000_000, errors.New("s3 down"))
	cfg := Config{InitialBackoff: 20 * time.Millisecond, MaxBackoff: 80 * time.Millisecond}
	arch := NewArchiver(ntp, log, store, nil, testLogger(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	// Sample the advertised wait per failure count while the store keeps
	// failing. Each failure n sleeps for its wait, so polling catches it.
	waits := make(map[uint64]time.Duration)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p := arch.Progress()
		if p.State == StateBackoff && p.Backoff > 0 {
			waits[p.Failures] = p.Backoff
		}
		if p.Failures >= 6 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	var seen []time.Duration
	for f := uint64(1); f <= 6; f++ {
		if w, ok := waits[f]; ok {
			seen = append(seen, w)
		}
	}
	if len(seen) < 3 {
		t.Fatalf("observed too few backoff waits: %v", waits)
	}
	atCeiling := 0
	for i, w := range seen {
		if i > 0 && w < seen[i-1] {
			t.Fatalf("backoff shrank across consecutive failures: %v", seen)
		}
		if w > cfg.MaxBackoff {
			t.Fatalf("backoff %v exceeded ceiling %v", w, cfg.MaxBackoff)
		}
		if w == cfg.MaxBackoff {
			atCeiling++
		}
	}
	if atCeiling < 2 {
		t.Fatalf("backoff never held at the ceiling: %v", seen)
	}

	// A success clears the advertised wait.
	store.FailNextUploads(0, nil)
	waitFor(t, 2*time.Second, func() bool {
		return arch.Progress().UploadedTo == 100
	}, "upload never succeeded after failures cleared")
	if got := arch.Progress().Backoff; got != 0 {
		t.Fatalf("backoff after success = %v, want 0", got)
	}
}

func TestArchiverWakesOnAppend(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	store := NewMemoryObjectStore()
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return arch.Progress().State == StateIdle
	}, "archiver did not go idle")

	log.Append([]byte("seg-a"), 50)
	waitFor(t, time.Second, func() bool {
		return arch.Progress().UploadedTo == 50
	}, "append did not wake the loop")
}

func TestArchiverRecordsGap(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)
	log.Append([]byte("seg-b"), 100)

	// The first segment is gone before the loop ever starts.
	log.TruncateBefore(100)

	store := NewMemoryObjectStore()
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return arch.Progress().UploadedTo == 200
	}, "surviving segment never uploaded")

	p := arch.Progress()
	if len(p.Gaps) != 1 {
		t.Fatalf("gaps = %v, want exactly one", p.Gaps)
	}
	if p.Gaps[0].Base != 0 || p.Gaps[0].End != 100 {
		t.Fatalf("gap range = %+v, want [0,100)", p.Gaps[0])
	}
}

func TestArchiverRecordsGapWhenNoSegmentsSurvive(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)

	// Retention removed every local segment; the high-watermark still says
	// 100 offsets exist.
	log.TruncateBefore(100)

	store := NewMemoryObjectStore()
	arch := NewArchiver(ntp, log, store, nil, testLogger(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return arch.Progress().UploadedTo == 100
	}, "marker never advanced past the truncated range")

	p := arch.Progress()
	if len(p.Gaps) != 1 || p.Gaps[0].Base != 0 || p.Gaps[0].End != 100 {
		t.Fatalf("gaps = %v, want [0,100)", p.Gaps)
	}
	if p.Pending != 0 {
		t.Fatalf("pending = %d, want 0", p.Pending)
	}
	waitFor(t, time.Second, func() bool {
		return arch.Progress().State == StateIdle
	}, "archiver did not go idle after recording the gap")
}

func TestArchiverResumesFromManifest(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	prior := NewManifest(ntp)
	prior.Upsert(SegmentEntry{Base: 0, End: 100, Key: SegmentKey(ntp, 0, 100)})

	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)
	log.Append([]byte("seg-b"), 100)

	store := NewMemoryObjectStore()
	arch := NewArchiver(ntp, log, store, prior, testLogger(), fastConfig())

	if got := arch.Progress().UploadedTo; got != 100 {
		t.Fatalf("resume offset = %d, want 100", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return arch.Progress().UploadedTo == 200
	}, "did not resume past restored marker")

	if _, err := store.Download(context.Background(), SegmentKey(ntp, 0, 100)); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("already-archived segment was re-uploaded")
	}
}

func TestServiceEnableDisableAndProgress(t *testing.T) {
	store := NewMemoryObjectStore()
	svc := NewService(store, testLogger(), fastConfig())
	defer svc.Close()

	ntp := cluster.NewPartitionID("orders", 0)
	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 100)

	if err := svc.Enable(context.Background(), ntp, log); err != nil {
		t.Fatalf("enable: %v", err)
	}
	// Second enable is a no-op.
	if err := svc.Enable(context.Background(), ntp, log); err != nil {
		t.Fatalf("re-enable: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		p, err := svc.Progress(ntp)
		return err == nil && p.UploadedTo == 100
	}, "service never uploaded the segment")

	data, err := store.Download(context.Background(), TopicManifestKey("kafka", "orders"))
	if err != nil {
		t.Fatalf("topic manifest missing: %v", err)
	}
	if string(data) == "" {
		t.Fatalf("topic manifest empty")
	}

	if err := svc.Disable(ntp); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := svc.Progress(ntp); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("progress after disable = %v, want not found", err)
	}
	if err := svc.Disable(ntp); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("second disable = %v, want not found", err)
	}
}

func TestServiceRejectsNonLogNamespace(t *testing.T) {
	svc := NewService(NewMemoryObjectStore(), testLogger(), fastConfig())
	defer svc.Close()

	ntp := cluster.PartitionID{Namespace: "internal", Topic: "controller", Partition: 0}
	err := svc.Enable(context.Background(), ntp, NewMemoryLog())
	if !errors.Is(err, cluster.ErrInvalidRequest) {
		t.Fatalf("enable = %v, want invalid request", err)
	}
}

func TestServiceRestoresDurableProgress(t *testing.T) {
	store := NewMemoryObjectStore()
	ntp := cluster.NewPartitionID("orders", 2)

	prior := NewManifest(ntp)
	prior.Upsert(SegmentEntry{Base: 0, End: 150, Key: SegmentKey(ntp, 0, 150)})
	data, err := prior.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.UploadManifest(context.Background(), ManifestKey(ntp), data); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	svc := NewService(store, testLogger(), fastConfig())
	defer svc.Close()

	log := NewMemoryLog()
	log.Append([]byte("seg-a"), 150)
	if err := svc.Enable(context.Background(), ntp, log); err != nil {
		t.Fatalf("enable: %v", err)
	}

	p, err := svc.Progress(ntp)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.UploadedTo != 150 {
		t.Fatalf("restored marker = %d, want 150", p.UploadedTo)
	}
}
