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
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Status is the convergence phase of one reconciliation. Transitions are
// forward-only, except that an errored move may be retried back through
// pending by a new RequestMove.
type Status int

const (
	// StatusPending is recorded before any work has started.
	StatusPending Status = iota
	// StatusInProgress means the move protocol is running.
	StatusInProgress
	// StatusDone means observed equals desired and the result is published.
	StatusDone
	// StatusError means the attempt failed; the previous assignment remains
	// authoritative.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ReconciliationState is the pollable convergence record for one partition.
type ReconciliationState struct {
	Partition cluster.PartitionID
	Desired   cluster.ReplicaAssignment
	Observed  cluster.ReplicaAssignment
	Status    Status
	// Reason carries the failure cause when Status is StatusError.
	Reason    string
	UpdatedAt time.Time
}

// Clone returns a deep copy safe to hand to callers.
func (s ReconciliationState) Clone() ReconciliationState {
	out := s
	out.Desired = s.Desired.Clone()
	out.Observed = s.Observed.Clone()
	return out
}
