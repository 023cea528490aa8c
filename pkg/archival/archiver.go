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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/novatechflow/strata/pkg/cluster"
)

// State describes what an archiver is doing right now.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// OffsetRange is a half-open range of offsets [Base, End).
type OffsetRange struct {
	Base int64 `json:"base_offset"`
	End  int64 `json:"end_offset"`
}

// Progress is a point-in-time snapshot of one partition's upload state.
type Progress struct {
	Partition  cluster.PartitionID
	UploadedTo int64
	Pending    int64
	Gaps       []OffsetRange
	State      State
	Backoff    time.Duration
	Successes  uint64
	Failures   uint64
}

// Config tunes the upload loop.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

var errManifestUpload = errors.New("manifest upload failed")

// Archiver runs the perpetual upload loop for one partition: read the next
// local segment past the uploaded marker, upload it, record it in the
// manifest, and persist the manifest. Failed ranges are retried with
// exponential backoff and never skipped; ranges lost to retention are
// recorded as gaps before the loop moves on.
type Archiver struct {
	ntp    cluster.PartitionID
	log    LogSource
	store  ObjectStore
	logger *slog.Logger
	cfg    Config

	mu          sync.Mutex
	manifest    *Manifest
	uploadedTo  int64
	gaps        []OffsetRange
	state       State
	backoffWait time.Duration
	successes   uint64
	failures    uint64
}

// NewArchiver builds an archiver resuming from the given manifest. A nil
// manifest starts the partition from offset zero.
func NewArchiver(ntp cluster.PartitionID, log LogSource, store ObjectStore, manifest *Manifest, logger *slog.Logger, cfg Config) *Archiver {
	if manifest == nil {
		manifest = NewManifest(ntp)
	}
	return &Archiver{
		ntp:        ntp,
		log:        log,
		store:      store,
		logger:     logger.With("partition", ntp.String()),
		cfg:        cfg.withDefaults(),
		manifest:   manifest,
		uploadedTo: manifest.UploadedTo(),
	}
}

// Run drives the upload loop until ctx is cancelled. Cancellation is honored
// at iteration boundaries: an upload already in flight finishes or fails
// before the loop exits.
func (a *Archiver) Run(ctx context.Context) {
	bo := newUploadBackoff(a.cfg)

	for {
		if ctx.Err() != nil {
			return
		}
		numReconciliations.Inc()

		progressed, err := a.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			a.setState(StateBackoff, wait)
			if errors.Is(err, errManifestUpload) {
				manifestBackoff.Inc()
			} else {
				uploadBackoff.Inc()
			}
			a.logger.Warn("upload failed, backing off", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		if progressed {
			bo.Reset()
			continue
		}

		a.setState(StateIdle, 0)
		select {
		case <-ctx.Done():
			return
		case <-a.log.Notify():
		}
	}
}

// newUploadBackoff builds the retry schedule for failed uploads: the wait
// doubles on every consecutive failure from InitialBackoff up to MaxBackoff,
// holds there, and Reset returns it to InitialBackoff after a success.
func newUploadBackoff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// iterate performs one reconciliation pass. It reports whether any offsets
// were uploaded; a false result with nil error means the loop is caught up.
func (a *Archiver) iterate(ctx context.Context) (bool, error) {
	a.mu.Lock()
	from := a.uploadedTo
	a.mu.Unlock()

	hw := a.log.HighWatermark()
	ntpPending.With(ntpLabelValues(a.ntp)).Set(float64(hw - from))
	if from >= hw {
		return false, nil
	}
	a.setState(StateUploading, 0)

	seg, err := a.log.ReadRange(ctx, from)
	if err != nil {
		a.recordFailure()
		return false, fmt.Errorf("read range from %d: %w", from, err)
	}
	if seg == nil {
		// Offsets below the high-watermark exist but no segment holds them:
		// retention removed everything local. Record the hole and move on
		// rather than reporting idle with offsets still pending.
		a.recordGap(from, hw)
		a.mu.Lock()
		a.uploadedTo = hw
		a.mu.Unlock()
		return true, nil
	}
	if seg.Base > from {
		a.recordGap(from, seg.Base)
	}

	key := SegmentKey(a.ntp, seg.Base, seg.End)
	if err := a.store.UploadSegment(ctx, key, seg.Bytes); err != nil {
		a.recordFailure()
		failedUploads.Inc()
		return false, fmt.Errorf("upload segment %s: %w", key, err)
	}

	a.mu.Lock()
	a.manifest.Upsert(SegmentEntry{
		Base:       seg.Base,
		End:        seg.End,
		Key:        key,
		Size:       int64(len(seg.Bytes)),
		UploadedAt: time.Now().UTC(),
	})
	data, err := a.manifest.Encode()
	a.mu.Unlock()
	if err != nil {
		a.recordFailure()
		return false, err
	}
	if err := a.store.UploadManifest(ctx, ManifestKey(a.ntp), data); err != nil {
		a.recordFailure()
		return false, fmt.Errorf("%w: %v", errManifestUpload, err)
	}
	partitionManifestUploads.Inc()

	successfulUploads.Inc()
	ntpUploaded.With(ntpLabelValues(a.ntp)).Add(float64(seg.End - seg.Base))

	a.mu.Lock()
	a.uploadedTo = seg.End
	a.successes++
	a.mu.Unlock()
	a.logger.Debug("segment archived", "base", seg.Base, "end", seg.End, "key", key)
	return true, nil
}

// recordGap notes offsets lost to retention before they could be uploaded.
// A retried iteration observes the same gap again; it is recorded once.
func (a *Archiver) recordGap(from, to int64) {
	gap := OffsetRange{Base: from, End: to}
	a.mu.Lock()
	if n := len(a.gaps); n > 0 && a.gaps[n-1] == gap {
		a.mu.Unlock()
		return
	}
	a.gaps = append(a.gaps, gap)
	a.mu.Unlock()

	numGaps.Inc()
	ntpMissing.With(ntpLabelValues(a.ntp)).Add(float64(to - from))
	a.logger.Warn("offset gap detected", "base", from, "end", to)
}

func (a *Archiver) recordFailure() {
	a.mu.Lock()
	a.failures++
	a.mu.Unlock()
}

func (a *Archiver) setState(s State, wait time.Duration) {
	a.mu.Lock()
	a.state = s
	a.backoffWait = wait
	a.mu.Unlock()
}

// Progress returns a snapshot of the archiver's state.
func (a *Archiver) Progress() Progress {
	hw := a.log.HighWatermark()
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := hw - a.uploadedTo
	if pending < 0 {
		pending = 0
	}
	return Progress{
		Partition:  a.ntp,
		UploadedTo: a.uploadedTo,
		Pending:    pending,
		Gaps:       append([]OffsetRange(nil), a.gaps...),
		State:      a.state,
		Backoff:    a.backoffWait,
		Successes:  a.successes,
		Failures:   a.failures,
	}
}

// Manifest returns a deep copy of the current manifest.
func (a *Archiver) Manifest() *Manifest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := &Manifest{
		Namespace: a.manifest.Namespace,
		Topic:     a.manifest.Topic,
		Partition: a.manifest.Partition,
		Segments:  append([]SegmentEntry(nil), a.manifest.Segments...),
	}
	return out
}
