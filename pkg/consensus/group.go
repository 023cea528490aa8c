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

// Package consensus defines the contract the control plane holds against one
// replicated consensus group. The replication protocol itself lives behind
// this interface; the control plane only drives membership and leadership.
package consensus

import (
	"context"
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Group is the handle to one leader-based replicated group.
type Group interface {
	// ID returns the stable group id, bound 1:1 to a partition.
	ID() cluster.GroupID
	// Leader returns the current leader node, if one is elected.
	Leader() (int32, bool)
	// Members returns the current voting member set.
	Members() []cluster.BrokerShard
	// AddLearner starts data transfer to a prospective replica. Adding a
	// node that is already a member or learner is a no-op.
	AddLearner(ctx context.Context, replica cluster.BrokerShard) error
	// LearnerLag reports how far the learner trails the committed log.
	// Members report zero lag.
	LearnerLag(replica cluster.BrokerShard) (int64, error)
	// ChangeConfiguration atomically swaps the voting member set. Learners
	// in the new set are promoted; the swap either applies in full or not
	// at all.
	ChangeConfiguration(ctx context.Context, members []cluster.BrokerShard) error
	// RemoveReplica drops a replica that is no longer in the configuration.
	RemoveReplica(ctx context.Context, replica cluster.BrokerShard) error
	// TransferLeadership hands leadership to target, or to the
	// highest-progress non-leader when target is nil. Resolves once the
	// handoff is confirmed or has definitively failed.
	TransferLeadership(ctx context.Context, target *int32) error
	// FollowerProgress returns the committed progress of every replica,
	// keyed by node id.
	FollowerProgress() map[int32]int64
}

// Registry tracks the live groups hosted by this process.
type Registry struct {
	mu     sync.RWMutex
	groups map[cluster.GroupID]Group
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[cluster.GroupID]Group)}
}

// Register adds or replaces a group handle.
func (r *Registry) Register(g Group) {
	r.mu.Lock()
	r.groups[g.ID()] = g
	r.mu.Unlock()
}

// Get returns the group handle for id.
func (r *Registry) Get(id cluster.GroupID) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// Remove drops a group, e.g. when its partition is deleted.
func (r *Registry) Remove(id cluster.GroupID) {
	r.mu.Lock()
	delete(r.groups, id)
	r.mu.Unlock()
}
