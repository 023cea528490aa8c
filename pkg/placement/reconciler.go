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

// Package placement converges the actual replica placement of a partition
// toward an operator-declared desired placement. A move never shrinks the
// in-sync set below the pre-move assignment: new replicas are bootstrapped
// and caught up first, the group configuration is swapped atomically, and
// only then are old replicas removed and the result published.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
	"github.com/novatechflow/strata/pkg/consensus"
	"github.com/novatechflow/strata/pkg/metadata"
	"github.com/novatechflow/strata/pkg/topology"
)

// Config tunes the move protocol.
type Config struct {
	// CatchUpLag is the maximum learner lag considered "caught up" before
	// the configuration swap.
	CatchUpLag int64
	// CatchUpPollInterval is how often learner lag is polled.
	CatchUpPollInterval time.Duration
	// DefaultTimeout applies when RequestMove is given a zero deadline.
	DefaultTimeout time.Duration
}

var defaultConfig = Config{
	CatchUpLag:          0,
	CatchUpPollInterval: 100 * time.Millisecond,
	DefaultTimeout:      10 * time.Second,
}

// Reconciler drives replica-set moves and exposes their convergence state.
type Reconciler struct {
	cache  *metadata.Cache
	store  metadata.Store
	topo   *topology.Index
	pool   *topology.Pool
	groups *consensus.Registry
	logger *slog.Logger
	cfg    Config

	mu     sync.Mutex
	states map[cluster.PartitionID]*ReconciliationState
}

// NewReconciler wires a reconciler against the cluster services.
func NewReconciler(cache *metadata.Cache, store metadata.Store, topo *topology.Index, pool *topology.Pool, groups *consensus.Registry, logger *slog.Logger, cfg *Config) *Reconciler {
	c := defaultConfig
	if cfg != nil {
		if cfg.CatchUpLag > 0 {
			c.CatchUpLag = cfg.CatchUpLag
		}
		if cfg.CatchUpPollInterval > 0 {
			c.CatchUpPollInterval = cfg.CatchUpPollInterval
		}
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cache:  cache,
		store:  store,
		topo:   topo,
		pool:   pool,
		groups: groups,
		logger: logger.With("component", "placement"),
		cfg:    c,
		states: make(map[cluster.PartitionID]*ReconciliationState),
	}
}

// RequestMove replaces the desired replica set of a partition and drives the
// move until it converges, fails, or the deadline passes. The deadline is
// advisory: past it, in-flight work is abandoned from the caller's view but a
// configuration swap that already applied durably is never reversed.
//
// Calling again with the desired set already in place is a no-op returning
// nil. Calling while a move with a different desired set is running fails
// with a coordination error.
func (r *Reconciler) RequestMove(ctx context.Context, ntp cluster.PartitionID, desired []cluster.BrokerShard, deadline time.Time) error {
	if ntp.Namespace != cluster.LogNamespace {
		return fmt.Errorf("%w: unsupported namespace %q", cluster.ErrInvalidRequest, ntp.Namespace)
	}
	if err := cluster.ValidateReplicaSet(desired); err != nil {
		return err
	}
	for _, replica := range desired {
		if !r.cache.ContainsNode(replica.NodeID) {
			return fmt.Errorf("%w: node %d is not a cluster member", cluster.ErrInvalidRequest, replica.NodeID)
		}
	}
	entry, ok := r.topo.Lookup(ntp)
	if !ok {
		return fmt.Errorf("%w: partition %s", cluster.ErrNotFound, ntp)
	}

	observed, _ := r.cache.Assignment(ntp)
	desiredAssignment := cluster.ReplicaAssignment{Replicas: append([]cluster.BrokerShard(nil), desired...)}
	if desiredAssignment.SameReplicaSet(observed) {
		return nil
	}

	r.mu.Lock()
	if st, ok := r.states[ntp]; ok && (st.Status == StatusPending || st.Status == StatusInProgress) {
		same := st.Desired.SameReplicaSet(desiredAssignment)
		r.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("%w: reconciliation of %s already in progress", cluster.ErrCoordinationFailure, ntp)
	}
	r.states[ntp] = &ReconciliationState{
		Partition: ntp,
		Desired:   desiredAssignment.Clone(),
		Observed:  observed.Clone(),
		Status:    StatusPending,
		UpdatedAt: time.Now(),
	}
	r.mu.Unlock()

	movesStarted.Inc()
	movesInFlight.Inc()
	defer movesInFlight.Dec()

	if deadline.IsZero() {
		deadline = time.Now().Add(r.cfg.DefaultTimeout)
	}
	moveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	r.logger.Info("replica move requested",
		"partition", ntp.String(),
		"desired", fmt.Sprintf("%v", desired),
		"observed", fmt.Sprintf("%v", observed.Replicas))

	// The move body runs on the partition's owning shard so it can never
	// interleave with another operation on the same partition.
	errCh := make(chan error, 1)
	submitErr := r.pool.Invoke(entry.Shard, func(context.Context) {
		errCh <- r.executeMove(moveCtx, ntp, entry.Group, desiredAssignment, observed)
	})
	if submitErr != nil {
		r.fail(ntp, submitErr)
		return fmt.Errorf("%w: %v", cluster.ErrCoordinationFailure, submitErr)
	}

	select {
	case err := <-errCh:
		return err
	case <-moveCtx.Done():
		// the shard task keeps running and records its own terminal state
		err := fmt.Errorf("%w: move of %s did not converge before deadline", cluster.ErrTimeout, ntp)
		r.failIfRunning(ntp, err)
		return err
	}
}

func (r *Reconciler) executeMove(ctx context.Context, ntp cluster.PartitionID, groupID cluster.GroupID, desired, previous cluster.ReplicaAssignment) error {
	r.setStatus(ntp, StatusInProgress, "")

	group, ok := r.groups.Get(groupID)
	if !ok {
		err := fmt.Errorf("%w: consensus group %d for %s", cluster.ErrNotFound, groupID, ntp)
		r.fail(ntp, err)
		return err
	}

	adds, removes := diffReplicaSets(desired.Replicas, previous.Replicas)

	for _, replica := range adds {
		if err := group.AddLearner(ctx, replica); err != nil {
			err = r.classify(err, fmt.Sprintf("bootstrap replica %s", replica))
			r.fail(ntp, err)
			return err
		}
	}

	if err := r.waitCaughtUp(ctx, group, adds); err != nil {
		r.fail(ntp, err)
		return err
	}

	if err := group.ChangeConfiguration(ctx, desired.Replicas); err != nil {
		err = r.classify(err, "configuration swap")
		r.fail(ntp, err)
		return err
	}

	// the swap is durable from here on; old replicas go only after it
	for _, replica := range removes {
		if err := group.RemoveReplica(ctx, replica); err != nil {
			err = r.classify(err, fmt.Sprintf("remove replica %s", replica))
			r.fail(ntp, err)
			return err
		}
	}

	leader, _ := group.Leader()
	final := cluster.ReplicaAssignment{Replicas: desired.Clone().Replicas, Leader: leader}
	if err := r.store.SaveAssignment(ctx, ntp, final); err != nil {
		err = fmt.Errorf("%w: persist assignment for %s: %v", cluster.ErrStorageFailure, ntp, err)
		r.fail(ntp, err)
		return err
	}
	r.cache.PublishAssignment(ntp, final)

	r.mu.Lock()
	if st, ok := r.states[ntp]; ok {
		st.Observed = final.Clone()
		st.Status = StatusDone
		st.Reason = ""
		st.UpdatedAt = time.Now()
	}
	r.mu.Unlock()

	movesCompleted.Inc()
	r.logger.Info("replica move converged", "partition", ntp.String(), "replicas", fmt.Sprintf("%v", final.Replicas))
	return nil
}

func (r *Reconciler) waitCaughtUp(ctx context.Context, group consensus.Group, adds []cluster.BrokerShard) error {
	if len(adds) == 0 {
		return nil
	}
	ticker := time.NewTicker(r.cfg.CatchUpPollInterval)
	defer ticker.Stop()
	for {
		allCaughtUp := true
		for _, replica := range adds {
			lag, err := group.LearnerLag(replica)
			if err != nil {
				return r.classify(err, fmt.Sprintf("lag poll %s", replica))
			}
			if lag > r.cfg.CatchUpLag {
				allCaughtUp = false
			}
		}
		if allCaughtUp {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: learners did not catch up", cluster.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// GetReconciliationState returns the convergence record for a partition. It
// never blocks on in-flight work and is defined before any move has been
// requested: the partition then reports done with its current assignment.
func (r *Reconciler) GetReconciliationState(ntp cluster.PartitionID) ReconciliationState {
	r.mu.Lock()
	if st, ok := r.states[ntp]; ok {
		out := st.Clone()
		r.mu.Unlock()
		return out
	}
	r.mu.Unlock()

	current, _ := r.cache.Assignment(ntp)
	return ReconciliationState{
		Partition: ntp,
		Desired:   current.Clone(),
		Observed:  current,
		Status:    StatusDone,
		UpdatedAt: time.Now(),
	}
}

// ForgetPartition drops the reconciliation record of a deleted partition.
func (r *Reconciler) ForgetPartition(ntp cluster.PartitionID) {
	r.mu.Lock()
	delete(r.states, ntp)
	r.mu.Unlock()
}

func (r *Reconciler) setStatus(ntp cluster.PartitionID, status Status, reason string) {
	r.mu.Lock()
	if st, ok := r.states[ntp]; ok {
		st.Status = status
		st.Reason = reason
		st.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
}

func (r *Reconciler) fail(ntp cluster.PartitionID, err error) {
	r.mu.Lock()
	st, ok := r.states[ntp]
	transitioned := ok && st.Status != StatusError
	if transitioned {
		st.Status = StatusError
		st.Reason = err.Error()
		st.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	if transitioned {
		movesFailed.WithLabelValues(reasonLabel(err)).Inc()
		r.logger.Warn("replica move failed", "partition", ntp.String(), "error", err)
	}
}

// failIfRunning records a timeout only when the shard task has not already
// reached a terminal state on its own.
func (r *Reconciler) failIfRunning(ntp cluster.PartitionID, err error) {
	r.mu.Lock()
	st, ok := r.states[ntp]
	running := ok && (st.Status == StatusPending || st.Status == StatusInProgress)
	if running {
		st.Status = StatusError
		st.Reason = err.Error()
		st.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	if running {
		movesFailed.WithLabelValues(reasonLabel(err)).Inc()
		r.logger.Warn("replica move timed out", "partition", ntp.String(), "error", err)
	}
}

func (r *Reconciler) classify(err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s abandoned: %v", cluster.ErrTimeout, op, err)
	case cluster.IsRetryable(err), cluster.IsCallerError(err):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", cluster.ErrCoordinationFailure, op, err)
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, cluster.ErrTimeout):
		return "timeout"
	case errors.Is(err, cluster.ErrStorageFailure):
		return "storage"
	case errors.Is(err, cluster.ErrNotFound):
		return "not_found"
	default:
		return "coordination"
	}
}

// diffReplicaSets returns the replicas to bootstrap (in desired, not in
// previous) and to remove (in previous, not in desired), keyed by node.
func diffReplicaSets(desired, previous []cluster.BrokerShard) (adds, removes []cluster.BrokerShard) {
	prevNodes := make(map[int32]struct{}, len(previous))
	for _, r := range previous {
		prevNodes[r.NodeID] = struct{}{}
	}
	desiredNodes := make(map[int32]struct{}, len(desired))
	for _, r := range desired {
		desiredNodes[r.NodeID] = struct{}{}
		if _, ok := prevNodes[r.NodeID]; !ok {
			adds = append(adds, r)
		}
	}
	for _, r := range previous {
		if _, ok := desiredNodes[r.NodeID]; !ok {
			removes = append(removes, r)
		}
	}
	return adds, removes
}
