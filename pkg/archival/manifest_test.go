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
	"testing"
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
)

func TestManifestUpsertReplacesSameRange(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 0)
	m := NewManifest(ntp)

	first := SegmentEntry{Base: 0, End: 100, Key: "a", Size: 10, UploadedAt: time.Unix(1, 0)}
	if replaced := m.Upsert(first); replaced {
		t.Fatalf("first upsert reported replacement")
	}
	retry := SegmentEntry{Base: 0, End: 100, Key: "a", Size: 10, UploadedAt: time.Unix(2, 0)}
	if replaced := m.Upsert(retry); !replaced {
		t.Fatalf("retried range was appended instead of replaced")
	}
	if len(m.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(m.Segments))
	}
	if !m.Segments[0].UploadedAt.Equal(retry.UploadedAt) {
		t.Fatalf("retry did not overwrite entry")
	}
}

func TestManifestUploadedToStopsAtHole(t *testing.T) {
	m := NewManifest(cluster.NewPartitionID("orders", 0))
	m.Upsert(SegmentEntry{Base: 0, End: 100})
	m.Upsert(SegmentEntry{Base: 100, End: 250})
	m.Upsert(SegmentEntry{Base: 400, End: 500})

	if got := m.UploadedTo(); got != 250 {
		t.Fatalf("UploadedTo = %d, want 250", got)
	}

	m.Upsert(SegmentEntry{Base: 250, End: 400})
	if got := m.UploadedTo(); got != 500 {
		t.Fatalf("UploadedTo after filling hole = %d, want 500", got)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 3)
	m := NewManifest(ntp)
	m.Upsert(SegmentEntry{Base: 0, End: 100, Key: SegmentKey(ntp, 0, 100), Size: 42, UploadedAt: time.Unix(10, 0).UTC()})

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeManifest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Topic != "orders" || decoded.Partition != 3 {
		t.Fatalf("decoded identity mismatch: %+v", decoded)
	}
	if decoded.UploadedTo() != 100 {
		t.Fatalf("decoded UploadedTo = %d, want 100", decoded.UploadedTo())
	}
}

func TestObjectKeys(t *testing.T) {
	ntp := cluster.NewPartitionID("orders", 7)
	if got := ManifestKey(ntp); got != "kafka/orders/7/manifest.json" {
		t.Fatalf("manifest key = %q", got)
	}
	if got := TopicManifestKey("kafka", "orders"); got != "kafka/orders/topic-manifest.json" {
		t.Fatalf("topic manifest key = %q", got)
	}
	if got := SegmentKey(ntp, 0, 100); got != "kafka/orders/7/segment-00000000000000000000-00000000000000000100.seg" {
		t.Fatalf("segment key = %q", got)
	}
}
