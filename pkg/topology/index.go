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
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Entry binds a partition to its consensus group and owning execution shard.
type Entry struct {
	Partition cluster.PartitionID
	Group     cluster.GroupID
	Shard     int
}

// Index is the process-local mapping from partition to consensus group and
// owning shard. Lookups are read-heavy; the whole index is rebuilt on
// membership change rather than edited in place.
type Index struct {
	mu         sync.RWMutex
	byPart     map[cluster.PartitionID]Entry
	byGroup    map[cluster.GroupID]Entry
	shardCount int
}

// NewIndex builds an empty index routing onto shardCount execution shards.
func NewIndex(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Index{
		byPart:     make(map[cluster.PartitionID]Entry),
		byGroup:    make(map[cluster.GroupID]Entry),
		shardCount: shardCount,
	}
}

// Rebuild swaps the index contents atomically. Entries with an out-of-range
// shard are re-homed by hashing the partition onto a valid shard.
func (i *Index) Rebuild(entries []Entry) {
	byPart := make(map[cluster.PartitionID]Entry, len(entries))
	byGroup := make(map[cluster.GroupID]Entry, len(entries))
	for _, e := range entries {
		if e.Shard < 0 || e.Shard >= i.shardCount {
			e.Shard = i.HomeShard(e.Partition)
		}
		byPart[e.Partition] = e
		byGroup[e.Group] = e
	}
	i.mu.Lock()
	i.byPart = byPart
	i.byGroup = byGroup
	i.mu.Unlock()
}

// Add registers a single partition, used when a topic is created after the
// last full rebuild.
func (i *Index) Add(e Entry) {
	if e.Shard < 0 || e.Shard >= i.shardCount {
		e.Shard = i.HomeShard(e.Partition)
	}
	i.mu.Lock()
	i.byPart[e.Partition] = e
	i.byGroup[e.Group] = e
	i.mu.Unlock()
}

// Remove drops a partition from the index.
func (i *Index) Remove(ntp cluster.PartitionID) {
	i.mu.Lock()
	if e, ok := i.byPart[ntp]; ok {
		delete(i.byPart, ntp)
		delete(i.byGroup, e.Group)
	}
	i.mu.Unlock()
}

// Lookup resolves a partition to its entry.
func (i *Index) Lookup(ntp cluster.PartitionID) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.byPart[ntp]
	return e, ok
}

// LookupGroup resolves a consensus group to its entry.
func (i *Index) LookupGroup(group cluster.GroupID) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.byGroup[group]
	return e, ok
}

// Partitions returns a snapshot of every indexed entry.
func (i *Index) Partitions() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Entry, 0, len(i.byPart))
	for _, e := range i.byPart {
		out = append(out, e)
	}
	return out
}

// HomeShard deterministically assigns a partition to a shard. Used when an
// entry does not carry an explicit shard placement.
func (i *Index) HomeShard(ntp cluster.PartitionID) int {
	h := uint32(2166136261)
	for _, b := range []byte(ntp.Namespace) {
		h = (h ^ uint32(b)) * 16777619
	}
	for _, b := range []byte(ntp.Topic) {
		h = (h ^ uint32(b)) * 16777619
	}
	h = (h ^ uint32(ntp.Partition)) * 16777619
	return int(h % uint32(i.shardCount))
}

// ShardCount returns the number of execution shards the index routes onto.
func (i *Index) ShardCount() int {
	return i.shardCount
}
