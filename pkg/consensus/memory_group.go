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

package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// MemoryGroupConfig tunes the simulated catch-up behavior.
type MemoryGroupConfig struct {
	// InitialLag is the lag a fresh learner starts with.
	InitialLag int64
	// CatchUpStep is how much lag a learner sheds per LearnerLag poll.
	CatchUpStep int64
}

var defaultMemoryGroupConfig = MemoryGroupConfig{
	InitialLag:  100,
	CatchUpStep: 50,
}

// MemoryGroup is an in-process Group used by tests and local single-binary
// mode. Learners converge a fixed amount per lag poll, and every mutating
// operation can be made to fail for fault-injection tests.
type MemoryGroup struct {
	id  cluster.GroupID
	cfg MemoryGroupConfig

	mu       sync.Mutex
	members  []cluster.BrokerShard
	leader   int32
	elected  bool
	learners map[int32]*learnerState
	progress map[int32]int64

	// fault injection, nil means succeed
	FailAddLearner   error
	FailChangeConfig error
	FailRemove       error
	FailTransfer     error

	// OnConfigChange observes every applied member set, used by tests to
	// assert the group is never under-replicated mid-move.
	OnConfigChange func([]cluster.BrokerShard)
}

type learnerState struct {
	shard cluster.BrokerShard
	lag   int64
}

// NewMemoryGroup builds a group with the given initial members. The first
// member is elected leader.
func NewMemoryGroup(id cluster.GroupID, members []cluster.BrokerShard, cfg *MemoryGroupConfig) *MemoryGroup {
	c := defaultMemoryGroupConfig
	if cfg != nil {
		if cfg.InitialLag > 0 {
			c.InitialLag = cfg.InitialLag
		}
		if cfg.CatchUpStep > 0 {
			c.CatchUpStep = cfg.CatchUpStep
		}
	}
	g := &MemoryGroup{
		id:       id,
		cfg:      c,
		members:  append([]cluster.BrokerShard(nil), members...),
		learners: make(map[int32]*learnerState),
		progress: make(map[int32]int64),
	}
	if len(members) > 0 {
		g.leader = members[0].NodeID
		g.elected = true
	}
	for _, m := range members {
		g.progress[m.NodeID] = 0
	}
	return g
}

// ID implements Group.
func (g *MemoryGroup) ID() cluster.GroupID { return g.id }

// Leader implements Group.
func (g *MemoryGroup) Leader() (int32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leader, g.elected
}

// Members implements Group.
func (g *MemoryGroup) Members() []cluster.BrokerShard {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cluster.BrokerShard(nil), g.members...)
}

// AddLearner implements Group.
func (g *MemoryGroup) AddLearner(ctx context.Context, replica cluster.BrokerShard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailAddLearner != nil {
		return g.FailAddLearner
	}
	if g.isMemberLocked(replica.NodeID) {
		return nil
	}
	if _, ok := g.learners[replica.NodeID]; ok {
		return nil
	}
	g.learners[replica.NodeID] = &learnerState{shard: replica, lag: g.cfg.InitialLag}
	return nil
}

// LearnerLag implements Group.
func (g *MemoryGroup) LearnerLag(replica cluster.BrokerShard) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isMemberLocked(replica.NodeID) {
		return 0, nil
	}
	l, ok := g.learners[replica.NodeID]
	if !ok {
		return 0, fmt.Errorf("%w: node %d is neither member nor learner of group %d", cluster.ErrNotFound, replica.NodeID, g.id)
	}
	lag := l.lag
	l.lag -= g.cfg.CatchUpStep
	if l.lag < 0 {
		l.lag = 0
	}
	return lag, nil
}

// ChangeConfiguration implements Group.
func (g *MemoryGroup) ChangeConfiguration(ctx context.Context, members []cluster.BrokerShard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.FailChangeConfig != nil {
		err := g.FailChangeConfig
		g.mu.Unlock()
		return err
	}
	for _, m := range members {
		if !g.isMemberLocked(m.NodeID) {
			l, ok := g.learners[m.NodeID]
			if !ok {
				g.mu.Unlock()
				return fmt.Errorf("%w: node %d has no replica to promote in group %d", cluster.ErrCoordinationFailure, m.NodeID, g.id)
			}
			if l.lag > 0 {
				g.mu.Unlock()
				return fmt.Errorf("%w: node %d still lags by %d in group %d", cluster.ErrCoordinationFailure, m.NodeID, l.lag, g.id)
			}
		}
	}
	g.members = append([]cluster.BrokerShard(nil), members...)
	for _, m := range members {
		delete(g.learners, m.NodeID)
		if _, ok := g.progress[m.NodeID]; !ok {
			g.progress[m.NodeID] = 0
		}
	}
	if !g.isMemberLocked(g.leader) {
		g.leader = members[0].NodeID
	}
	observer := g.OnConfigChange
	applied := append([]cluster.BrokerShard(nil), g.members...)
	g.mu.Unlock()

	if observer != nil {
		observer(applied)
	}
	return nil
}

// RemoveReplica implements Group.
func (g *MemoryGroup) RemoveReplica(ctx context.Context, replica cluster.BrokerShard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRemove != nil {
		return g.FailRemove
	}
	delete(g.learners, replica.NodeID)
	delete(g.progress, replica.NodeID)
	for i, m := range g.members {
		if m.NodeID == replica.NodeID {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if g.leader == replica.NodeID && len(g.members) > 0 {
		g.leader = g.members[0].NodeID
	}
	return nil
}

// TransferLeadership implements Group.
func (g *MemoryGroup) TransferLeadership(ctx context.Context, target *int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailTransfer != nil {
		return g.FailTransfer
	}
	if target != nil {
		if !g.isMemberLocked(*target) {
			return fmt.Errorf("%w: node %d is not a member of group %d", cluster.ErrInvalidTarget, *target, g.id)
		}
		g.leader = *target
		return nil
	}
	// pick the highest-progress non-leader, lowest node id on ties
	best := g.leader
	var bestProgress int64 = -1
	for _, m := range g.members {
		if m.NodeID == g.leader {
			continue
		}
		p := g.progress[m.NodeID]
		if p > bestProgress || (p == bestProgress && m.NodeID < best) {
			best = m.NodeID
			bestProgress = p
		}
	}
	if best == g.leader {
		return fmt.Errorf("%w: no follower to transfer leadership of group %d to", cluster.ErrCoordinationFailure, g.id)
	}
	g.leader = best
	return nil
}

// FollowerProgress implements Group.
func (g *MemoryGroup) FollowerProgress() map[int32]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int32]int64, len(g.progress))
	for node, p := range g.progress {
		out[node] = p
	}
	return out
}

// SetProgress seeds a replica's committed progress, used by tests and by the
// local runtime when replaying a log.
func (g *MemoryGroup) SetProgress(nodeID int32, progress int64) {
	g.mu.Lock()
	g.progress[nodeID] = progress
	g.mu.Unlock()
}

func (g *MemoryGroup) isMemberLocked(nodeID int32) bool {
	for _, m := range g.members {
		if m.NodeID == nodeID {
			return true
		}
	}
	return false
}
