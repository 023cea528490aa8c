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
	"sync"
)

// ErrGapDetected reports that the local log no longer holds the requested
// offset: retention removed it before the uploader could read it.
var ErrGapDetected = errors.New("log gap detected")

// SegmentData is one readable chunk of the local log covering [Base, End).
type SegmentData struct {
	Base  int64
	End   int64
	Bytes []byte
}

// LogSource is the local partition log the upload reconciler reads from.
type LogSource interface {
	// HighWatermark returns the offset one past the last committed record.
	HighWatermark() int64
	// ReadRange returns the first segment containing or following the given
	// offset, or nil when no such segment exists yet. A returned segment with
	// Base greater than the requested offset means retention removed the
	// offsets in between. Returns ErrGapDetected when the log cannot resolve
	// the next readable segment at all.
	ReadRange(ctx context.Context, base int64) (*SegmentData, error)
	// Notify returns a channel that receives a signal when new records are
	// committed. Signals may be coalesced.
	Notify() <-chan struct{}
}

// MemoryLog is an in-memory LogSource for development and testing.
type MemoryLog struct {
	mu       sync.Mutex
	segments []SegmentData
	hw       int64
	notify   chan struct{}

	readErr error
}

// NewMemoryLog returns an empty in-memory log starting at offset 0.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{notify: make(chan struct{}, 1)}
}

// Append commits one segment of count records and signals waiters.
func (l *MemoryLog) Append(body []byte, count int64) {
	l.mu.Lock()
	seg := SegmentData{
		Base:  l.hw,
		End:   l.hw + count,
		Bytes: append([]byte(nil), body...),
	}
	l.segments = append(l.segments, seg)
	l.hw = seg.End
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// TruncateBefore drops segments that end at or before the given offset,
// simulating retention removing data.
func (l *MemoryLog) TruncateBefore(offset int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.segments[:0]
	for _, seg := range l.segments {
		if seg.End > offset {
			kept = append(kept, seg)
		}
	}
	l.segments = kept
}

// SetReadError makes subsequent ReadRange calls fail with err until cleared.
func (l *MemoryLog) SetReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

func (l *MemoryLog) HighWatermark() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hw
}

func (l *MemoryLog) ReadRange(ctx context.Context, base int64) (*SegmentData, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	for _, seg := range l.segments {
		if seg.End > base {
			out := SegmentData{Base: seg.Base, End: seg.End, Bytes: append([]byte(nil), seg.Bytes...)}
			return &out, nil
		}
	}
	return nil, nil
}

func (l *MemoryLog) Notify() <-chan struct{} {
	return l.notify
}
