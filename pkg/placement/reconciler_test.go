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

package placement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novatechflow/strata/pkg/cluster"
	"github.com/novatechflow/strata/pkg/consensus"
	"github.com/novatechflow/strata/pkg/metadata"
	"github.com/novatechflow/strata/pkg/topology"
)

type harness struct {
	cache  *metadata.Cache
	store  *metadata.MemoryStore
	topo   *topology.Index
	pool   *topology.Pool
	groups *consensus.Registry
	group  *consensus.MemoryGroup
	rec    *Reconciler
	ntp    cluster.PartitionID
}

func newHarness(t *testing.T, groupCfg *consensus.MemoryGroupConfig) *harness {
	t.Helper()
	h := &harness{
		cache:  metadata.NewCache(),
		store:  metadata.NewMemoryStore(),
		topo:   topology.NewIndex(2),
		pool:   topology.NewPool(2),
		groups: consensus.NewRegistry(),
		ntp:    cluster.NewPartitionID("orders", 0),
	}
	t.Cleanup(h.pool.Close)

	h.cache.RebuildBrokers([]metadata.Broker{
		{NodeID: 1, Host: "node-1", Cores: 2},
		{NodeID: 2, Host: "node-2", Cores: 2},
		{NodeID: 3, Host: "node-3", Cores: 2},
	})
	initial := cluster.ReplicaAssignment{
		Replicas: []cluster.BrokerShard{{NodeID: 1, Core: 0}, {NodeID: 2, Core: 0}},
		Leader:   1,
	}
	h.cache.PublishAssignment(h.ntp, initial)
	h.group = consensus.NewMemoryGroup(101, initial.Replicas, groupCfg)
	h.groups.Register(h.group)
	h.topo.Rebuild([]topology.Entry{{Partition: h.ntp, Group: 101, Shard: 0}})

	h.rec = NewReconciler(h.cache, h.store, h.topo, h.pool, h.groups, nil, &Config{
		CatchUpPollInterval: 5 * time.Millisecond,
		DefaultTimeout:      5 * time.Second,
	})
	return h
}

func TestRequestMoveConvergesWithoutUnderReplication(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var appliedSets [][]cluster.BrokerShard
	h.group.OnConfigChange = func(members []cluster.BrokerShard) {
		mu.Lock()
		appliedSets = append(appliedSets, members)
		mu.Unlock()
	}

	desired := []cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}}
	err := h.rec.RequestMove(context.Background(), h.ntp, desired, time.Time{})
	require.NoError(t, err)

	state := h.rec.GetReconciliationState(h.ntp)
	require.Equal(t, StatusDone, state.Status)
	require.True(t, state.Observed.SameReplicaSet(cluster.ReplicaAssignment{Replicas: desired}),
		"observed %v, want %v", state.Observed.Replicas, desired)

	// the group config was only ever replaced by full, valid sets
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, appliedSets)
	for _, set := range appliedSets {
		require.GreaterOrEqual(t, len(set), 2, "configuration swap shrank the replica set: %v", set)
	}

	published, ok := h.cache.Assignment(h.ntp)
	require.True(t, ok)
	require.True(t, published.SameReplicaSet(cluster.ReplicaAssignment{Replicas: desired}))
	require.True(t, published.ContainsNode(published.Leader), "leader %d outside published set", published.Leader)

	persisted, err := h.store.LoadAssignments(context.Background())
	require.NoError(t, err)
	require.True(t, persisted[h.ntp].SameReplicaSet(published), "durable assignment diverged from cache")
}

func TestRequestMoveIdempotentWhenConverged(t *testing.T) {
	h := newHarness(t, nil)
	desired := []cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}}
	require.NoError(t, h.rec.RequestMove(context.Background(), h.ntp, desired, time.Time{}))

	// any further group mutation would now fail loudly
	h.group.FailChangeConfig = fmt.Errorf("%w: injected", cluster.ErrCoordinationFailure)
	h.group.FailAddLearner = fmt.Errorf("%w: injected", cluster.ErrCoordinationFailure)

	require.NoError(t, h.rec.RequestMove(context.Background(), h.ntp, desired, time.Time{}),
		"re-requesting the converged set must be a no-op")
	require.Equal(t, StatusDone, h.rec.GetReconciliationState(h.ntp).Status)
}

func TestRequestMoveValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	replicas := []cluster.BrokerShard{{NodeID: 1}, {NodeID: 2}}

	err := h.rec.RequestMove(ctx, cluster.PartitionID{Namespace: "internal", Topic: "orders", Partition: 0}, replicas, time.Time{})
	require.ErrorIs(t, err, cluster.ErrInvalidRequest, "foreign namespace")

	err = h.rec.RequestMove(ctx, h.ntp, nil, time.Time{})
	require.ErrorIs(t, err, cluster.ErrInvalidRequest, "empty replica set")

	err = h.rec.RequestMove(ctx, h.ntp, []cluster.BrokerShard{{NodeID: 2}, {NodeID: 2, Core: 1}}, time.Time{})
	require.ErrorIs(t, err, cluster.ErrInvalidRequest, "duplicate node")

	err = h.rec.RequestMove(ctx, h.ntp, []cluster.BrokerShard{{NodeID: 2}, {NodeID: 42}}, time.Time{})
	require.ErrorIs(t, err, cluster.ErrInvalidRequest, "unknown member")

	err = h.rec.RequestMove(ctx, cluster.NewPartitionID("ghost", 0), replicas, time.Time{})
	require.ErrorIs(t, err, cluster.ErrNotFound, "unknown partition")
}

func TestRequestMoveTimeoutLeavesPreviousAssignment(t *testing.T) {
	h := newHarness(t, &consensus.MemoryGroupConfig{InitialLag: 1 << 40, CatchUpStep: 1})

	desired := []cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}}
	err := h.rec.RequestMove(context.Background(), h.ntp, desired, time.Now().Add(100*time.Millisecond))
	require.ErrorIs(t, err, cluster.ErrTimeout)

	state := h.rec.GetReconciliationState(h.ntp)
	require.Equal(t, StatusError, state.Status)
	require.NotEmpty(t, state.Reason)

	current, ok := h.cache.Assignment(h.ntp)
	require.True(t, ok)
	require.True(t, current.SameReplicaSet(cluster.ReplicaAssignment{
		Replicas: []cluster.BrokerShard{{NodeID: 1, Core: 0}, {NodeID: 2, Core: 0}},
	}), "timeout must leave the previous assignment authoritative, got %v", current.Replicas)
}

func TestRequestMoveCoordinationFailureThenRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.group.FailChangeConfig = fmt.Errorf("%w: configuration change conflict", cluster.ErrCoordinationFailure)

	desired := []cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}}
	err := h.rec.RequestMove(context.Background(), h.ntp, desired, time.Time{})
	require.ErrorIs(t, err, cluster.ErrCoordinationFailure)
	require.Equal(t, StatusError, h.rec.GetReconciliationState(h.ntp).Status)

	current, _ := h.cache.Assignment(h.ntp)
	require.True(t, current.ContainsNode(1), "failed move must not publish a partial replacement")

	// manual retry after the conflict clears
	h.group.FailChangeConfig = nil
	require.NoError(t, h.rec.RequestMove(context.Background(), h.ntp, desired, time.Time{}))
	require.Equal(t, StatusDone, h.rec.GetReconciliationState(h.ntp).Status)
}

func TestRequestMoveRejectsConflictingInFlightMove(t *testing.T) {
	h := newHarness(t, &consensus.MemoryGroupConfig{InitialLag: 1 << 40, CatchUpStep: 1})

	first := []cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}}
	done := make(chan error, 1)
	go func() {
		done <- h.rec.RequestMove(context.Background(), h.ntp, first, time.Now().Add(500*time.Millisecond))
	}()

	require.Eventually(t, func() bool {
		s := h.rec.GetReconciliationState(h.ntp).Status
		return s == StatusPending || s == StatusInProgress
	}, time.Second, 5*time.Millisecond)

	second := []cluster.BrokerShard{{NodeID: 1, Core: 0}, {NodeID: 3, Core: 0}}
	err := h.rec.RequestMove(context.Background(), h.ntp, second, time.Time{})
	require.ErrorIs(t, err, cluster.ErrCoordinationFailure)

	require.ErrorIs(t, <-done, cluster.ErrTimeout)
}

func TestGetReconciliationStateBeforeAnyMove(t *testing.T) {
	h := newHarness(t, nil)

	state := h.rec.GetReconciliationState(h.ntp)
	require.Equal(t, StatusDone, state.Status)
	current, _ := h.cache.Assignment(h.ntp)
	require.True(t, state.Observed.Equal(current))
	require.True(t, state.Desired.Equal(current))

	// unknown partitions are also safe to poll
	ghost := h.rec.GetReconciliationState(cluster.NewPartitionID("ghost", 9))
	require.Equal(t, StatusDone, ghost.Status)
	require.Empty(t, ghost.Observed.Replicas)
}

func TestDiffReplicaSets(t *testing.T) {
	adds, removes := diffReplicaSets(
		[]cluster.BrokerShard{{NodeID: 2, Core: 0}, {NodeID: 3, Core: 1}},
		[]cluster.BrokerShard{{NodeID: 1, Core: 0}, {NodeID: 2, Core: 0}},
	)
	require.Equal(t, []cluster.BrokerShard{{NodeID: 3, Core: 1}}, adds)
	require.Equal(t, []cluster.BrokerShard{{NodeID: 1, Core: 0}}, removes)
}
