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
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
)

// SegmentEntry records one uploaded segment. Base is inclusive, End is
// exclusive: the segment covers offsets [Base, End).
type SegmentEntry struct {
	Base       int64     `json:"base_offset"`
	End        int64     `json:"end_offset"`
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Manifest is the durable record of uploaded segments for one partition.
// Entries are keyed by offset range, so re-recording a range after a
// retried upload replaces the previous entry instead of appending a
// duplicate.
type Manifest struct {
	Namespace string         `json:"namespace"`
	Topic     string         `json:"topic"`
	Partition int32          `json:"partition"`
	Segments  []SegmentEntry `json:"segments"`
}

// NewManifest returns an empty manifest for the given partition.
func NewManifest(ntp cluster.PartitionID) *Manifest {
	return &Manifest{
		Namespace: ntp.Namespace,
		Topic:     ntp.Topic,
		Partition: ntp.Partition,
	}
}

// Upsert records a segment, replacing any existing entry covering the same
// offset range. Entries stay sorted by base offset. Returns true when an
// existing entry was replaced.
func (m *Manifest) Upsert(entry SegmentEntry) bool {
	for i, seg := range m.Segments {
		if seg.Base == entry.Base && seg.End == entry.End {
			m.Segments[i] = entry
			return true
		}
	}
	m.Segments = append(m.Segments, entry)
	sort.Slice(m.Segments, func(i, j int) bool { return m.Segments[i].Base < m.Segments[j].Base })
	return false
}

// UploadedTo returns the first offset not yet covered by a contiguous run of
// segments starting at the oldest recorded entry. Segments beyond a hole do
// not advance the marker.
func (m *Manifest) UploadedTo() int64 {
	if len(m.Segments) == 0 {
		return 0
	}
	next := m.Segments[0].End
	for _, seg := range m.Segments[1:] {
		if seg.Base > next {
			break
		}
		if seg.End > next {
			next = seg.End
		}
	}
	return next
}

// Encode serializes the manifest as JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest %s/%s/%d: %w", m.Namespace, m.Topic, m.Partition, err)
	}
	return data, nil
}

// DecodeManifest parses a serialized manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// TopicManifest lists the partitions of a topic currently under archival.
type TopicManifest struct {
	Namespace  string  `json:"namespace"`
	Topic      string  `json:"topic"`
	Partitions []int32 `json:"partitions"`
}

// Encode serializes the topic manifest as JSON.
func (t *TopicManifest) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode topic manifest %s/%s: %w", t.Namespace, t.Topic, err)
	}
	return data, nil
}

// ManifestKey returns the object key for a partition manifest.
func ManifestKey(ntp cluster.PartitionID) string {
	return fmt.Sprintf("%s/%s/%d/manifest.json", ntp.Namespace, ntp.Topic, ntp.Partition)
}

// TopicManifestKey returns the object key for a topic manifest.
func TopicManifestKey(namespace, topic string) string {
	return fmt.Sprintf("%s/%s/topic-manifest.json", namespace, topic)
}

// SegmentKey returns the object key for a segment covering [base, end).
func SegmentKey(ntp cluster.PartitionID, base, end int64) string {
	return fmt.Sprintf("%s/%s/%d/segment-%020d-%020d.seg", ntp.Namespace, ntp.Topic, ntp.Partition, base, end)
}
