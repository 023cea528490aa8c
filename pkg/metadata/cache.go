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

package metadata

import (
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Broker describes one cluster member as seen by the control plane.
type Broker struct {
	NodeID int32  `json:"node_id"`
	Host   string `json:"host"`
	Port   int32  `json:"port"`
	Cores  uint32 `json:"cores"`
}

// AssignmentEvent is broadcast after an assignment has been published.
type AssignmentEvent struct {
	Partition  cluster.PartitionID
	Assignment cluster.ReplicaAssignment
}

// Cache is the node-local, read-mostly view of broker membership and
// per-partition replica assignments. Writes go through a single publisher
// (the placement reconciler); every read returns a fully formed clone, so a
// reader can never observe a partially applied assignment.
type Cache struct {
	mu          sync.RWMutex
	brokers     []Broker
	assignments map[cluster.PartitionID]cluster.ReplicaAssignment
	subs        []chan AssignmentEvent
}

// NewCache builds an empty cache.
func NewCache() *Cache {
	return &Cache{assignments: make(map[cluster.PartitionID]cluster.ReplicaAssignment)}
}

// RebuildBrokers swaps the broker membership list atomically.
func (c *Cache) RebuildBrokers(brokers []Broker) {
	cloned := make([]Broker, len(brokers))
	copy(cloned, brokers)
	c.mu.Lock()
	c.brokers = cloned
	c.mu.Unlock()
}

// Brokers returns a snapshot of the membership list.
func (c *Cache) Brokers() []Broker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Broker, len(c.brokers))
	copy(out, c.brokers)
	return out
}

// ContainsNode reports whether node id is a known cluster member.
func (c *Cache) ContainsNode(nodeID int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.brokers {
		if b.NodeID == nodeID {
			return true
		}
	}
	return false
}

// PublishAssignment replaces the assignment for a partition and then
// broadcasts the new value to subscribers. Publish-then-broadcast: by the
// time a subscriber wakes, a fresh read already returns the new set.
func (c *Cache) PublishAssignment(ntp cluster.PartitionID, assignment cluster.ReplicaAssignment) {
	cloned := assignment.Clone()
	c.mu.Lock()
	c.assignments[ntp] = cloned
	subs := make([]chan AssignmentEvent, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	ev := AssignmentEvent{Partition: ntp, Assignment: cloned.Clone()}
	for _, sub := range subs {
		select {
		case sub <- ev:
		default:
			// slow subscriber, drop rather than stall the publisher
		}
	}
}

// DropPartition removes a deleted partition's assignment.
func (c *Cache) DropPartition(ntp cluster.PartitionID) {
	c.mu.Lock()
	delete(c.assignments, ntp)
	c.mu.Unlock()
}

// Assignment returns a clone of the current assignment for a partition.
func (c *Cache) Assignment(ntp cluster.PartitionID) (cluster.ReplicaAssignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assignments[ntp]
	if !ok {
		return cluster.ReplicaAssignment{}, false
	}
	return a.Clone(), true
}

// Assignments returns a clone of every known assignment.
func (c *Cache) Assignments() map[cluster.PartitionID]cluster.ReplicaAssignment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[cluster.PartitionID]cluster.ReplicaAssignment, len(c.assignments))
	for ntp, a := range c.assignments {
		out[ntp] = a.Clone()
	}
	return out
}

// Subscribe registers for assignment broadcasts. The returned channel is
// buffered; events are dropped rather than blocking the publisher.
func (c *Cache) Subscribe() <-chan AssignmentEvent {
	ch := make(chan AssignmentEvent, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}
