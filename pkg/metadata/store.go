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
	"context"
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Store persists replica assignments so they survive process restart.
// ReconciliationState and archival progress are deliberately not stored here;
// they are rebuilt from the durable assignment and manifests on startup.
type Store interface {
	// SaveAssignment durably records the assignment for a partition.
	SaveAssignment(ctx context.Context, ntp cluster.PartitionID, assignment cluster.ReplicaAssignment) error
	// LoadAssignments returns every persisted assignment.
	LoadAssignments(ctx context.Context) (map[cluster.PartitionID]cluster.ReplicaAssignment, error)
	// DeleteAssignment removes the assignment for a deleted partition.
	DeleteAssignment(ctx context.Context, ntp cluster.PartitionID) error
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[cluster.PartitionID]cluster.ReplicaAssignment
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[cluster.PartitionID]cluster.ReplicaAssignment)}
}

// SaveAssignment implements Store.
func (s *MemoryStore) SaveAssignment(ctx context.Context, ntp cluster.PartitionID, assignment cluster.ReplicaAssignment) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	s.assignments[ntp] = assignment.Clone()
	s.mu.Unlock()
	return nil
}

// LoadAssignments implements Store.
func (s *MemoryStore) LoadAssignments(ctx context.Context) (map[cluster.PartitionID]cluster.ReplicaAssignment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[cluster.PartitionID]cluster.ReplicaAssignment, len(s.assignments))
	for ntp, a := range s.assignments {
		out[ntp] = a.Clone()
	}
	return out, nil
}

// DeleteAssignment implements Store.
func (s *MemoryStore) DeleteAssignment(ctx context.Context, ntp cluster.PartitionID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	delete(s.assignments, ntp)
	s.mu.Unlock()
	return nil
}
