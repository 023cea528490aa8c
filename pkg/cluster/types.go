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

package cluster

import "fmt"

// LogNamespace is the namespace that holds replicated log partitions. Control
// operations against any other namespace are rejected.
const LogNamespace = "kafka"

// PartitionID identifies one replicated log: namespace, topic, and partition
// index. It is immutable for the lifetime of the partition.
type PartitionID struct {
	Namespace string
	Topic     string
	Partition int32
}

// NewPartitionID builds a PartitionID in the log-storage namespace.
func NewPartitionID(topic string, partition int32) PartitionID {
	return PartitionID{Namespace: LogNamespace, Topic: topic, Partition: partition}
}

func (p PartitionID) String() string {
	return fmt.Sprintf("%s/%s/%d", p.Namespace, p.Topic, p.Partition)
}

// GroupID identifies a consensus group. A group is bound 1:1 to a PartitionID
// for the partition's lifetime and survives leadership changes.
type GroupID int64

// BrokerShard is one replica placement: a node and the execution core on that
// node which owns the replica.
type BrokerShard struct {
	NodeID int32  `json:"node_id"`
	Core   uint32 `json:"core"`
}

func (b BrokerShard) String() string {
	return fmt.Sprintf("{node %d, core %d}", b.NodeID, b.Core)
}

// ReplicaAssignment is the full replica set for a partition with its current
// leader. Assignments are replaced wholesale, never edited element-wise, so a
// reader can never observe a half-applied set.
type ReplicaAssignment struct {
	Replicas []BrokerShard `json:"replicas"`
	Leader   int32         `json:"leader"`
}

// Clone returns a deep copy of the assignment.
func (a ReplicaAssignment) Clone() ReplicaAssignment {
	out := ReplicaAssignment{Leader: a.Leader}
	if len(a.Replicas) > 0 {
		out.Replicas = make([]BrokerShard, len(a.Replicas))
		copy(out.Replicas, a.Replicas)
	}
	return out
}

// ContainsNode reports whether the assignment includes a replica on node id.
func (a ReplicaAssignment) ContainsNode(nodeID int32) bool {
	for _, r := range a.Replicas {
		if r.NodeID == nodeID {
			return true
		}
	}
	return false
}

// Equal reports whether two assignments hold the same replica list in the
// same order.
func (a ReplicaAssignment) Equal(other ReplicaAssignment) bool {
	if len(a.Replicas) != len(other.Replicas) {
		return false
	}
	for i, r := range a.Replicas {
		if r != other.Replicas[i] {
			return false
		}
	}
	return true
}

// SameReplicaSet reports whether two assignments hold the same replicas,
// ignoring order and leader.
func (a ReplicaAssignment) SameReplicaSet(other ReplicaAssignment) bool {
	if len(a.Replicas) != len(other.Replicas) {
		return false
	}
	for _, r := range a.Replicas {
		found := false
		for _, o := range other.Replicas {
			if r == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValidateReplicaSet checks the structural invariants of a desired replica
// set: non-empty and no duplicate node.
func ValidateReplicaSet(replicas []BrokerShard) error {
	if len(replicas) == 0 {
		return fmt.Errorf("%w: replica set is empty", ErrInvalidRequest)
	}
	seen := make(map[int32]struct{}, len(replicas))
	for _, r := range replicas {
		if _, ok := seen[r.NodeID]; ok {
			return fmt.Errorf("%w: duplicate node %d in replica set", ErrInvalidRequest, r.NodeID)
		}
		seen[r.NodeID] = struct{}{}
	}
	return nil
}
