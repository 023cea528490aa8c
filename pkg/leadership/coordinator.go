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

// Package leadership executes single-group leadership handoffs. The
// coordinator validates the request, dispatches it to the group's owning
// shard, and reports the outcome verbatim; retry policy belongs to the
// caller.
package leadership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/strata/pkg/cluster"
	"github.com/novatechflow/strata/pkg/consensus"
	"github.com/novatechflow/strata/pkg/topology"
)

var transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "strata_leadership_transfers_total",
	Help: "Leadership transfer attempts labeled by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(transfers)
}

// Coordinator resolves transfer requests against the topology and executes
// them on the owning shard so a transfer never interleaves with another
// operation on the same group, while unrelated groups proceed in parallel.
type Coordinator struct {
	topo   *topology.Index
	pool   *topology.Pool
	groups *consensus.Registry
	logger *slog.Logger
}

// NewCoordinator wires a coordinator.
func NewCoordinator(topo *topology.Index, pool *topology.Pool, groups *consensus.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		topo:   topo,
		pool:   pool,
		groups: groups,
		logger: logger.With("component", "leadership"),
	}
}

// TransferGroup hands leadership of a consensus group to target, or to the
// highest-progress non-leader when target is nil.
func (c *Coordinator) TransferGroup(ctx context.Context, groupID cluster.GroupID, target *int32) error {
	entry, ok := c.topo.LookupGroup(groupID)
	if !ok {
		return fmt.Errorf("%w: consensus group %d", cluster.ErrNotFound, groupID)
	}
	return c.transfer(ctx, entry, target)
}

// TransferPartition hands leadership of the group backing a partition.
func (c *Coordinator) TransferPartition(ctx context.Context, ntp cluster.PartitionID, target *int32) error {
	entry, ok := c.topo.Lookup(ntp)
	if !ok {
		return fmt.Errorf("%w: partition %s", cluster.ErrNotFound, ntp)
	}
	return c.transfer(ctx, entry, target)
}

func (c *Coordinator) transfer(ctx context.Context, entry topology.Entry, target *int32) error {
	group, ok := c.groups.Get(entry.Group)
	if !ok {
		return fmt.Errorf("%w: consensus group %d", cluster.ErrNotFound, entry.Group)
	}
	if target != nil {
		member := false
		for _, m := range group.Members() {
			if m.NodeID == *target {
				member = true
				break
			}
		}
		if !member {
			transfers.WithLabelValues("invalid_target").Inc()
			return fmt.Errorf("%w: node %d is not a member of group %d", cluster.ErrInvalidTarget, *target, entry.Group)
		}
	}

	c.logger.Info("leadership transfer requested",
		"group", int64(entry.Group),
		"partition", entry.Partition.String(),
		"target", targetAttr(target))

	var transferErr error
	err := c.pool.InvokeWait(ctx, entry.Shard, func(ctx context.Context) {
		transferErr = group.TransferLeadership(ctx, target)
	})
	if err != nil {
		transfers.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: transfer of group %d: %v", cluster.ErrTimeout, entry.Group, err)
	}
	if transferErr != nil {
		transfers.WithLabelValues("error").Inc()
		if cluster.IsCallerError(transferErr) || cluster.IsRetryable(transferErr) {
			return transferErr
		}
		return fmt.Errorf("%w: transfer of group %d: %v", cluster.ErrCoordinationFailure, entry.Group, transferErr)
	}
	transfers.WithLabelValues("ok").Inc()
	return nil
}

func targetAttr(target *int32) any {
	if target == nil {
		return "auto"
	}
	return *target
}
