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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/strata/pkg/cluster"
)

const assignmentPrefix = "/strata/partitions/"

// EtcdStoreConfig defines how we connect to etcd for assignment persistence.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// EtcdStore persists replica assignments in etcd and keeps a local Cache
// fresh by watching the assignment prefix. Writes go through the placement
// reconciler; the watch only refreshes the read path, so every node converges
// on the published set.
type EtcdStore struct {
	client *clientv3.Client
	cache  *Cache
	cancel context.CancelFunc
}

// NewEtcdStore connects to etcd and starts the assignment watcher. cache may
// be nil when the caller only needs durability.
func NewEtcdStore(ctx context.Context, cache *Cache, cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	store := &EtcdStore{client: cli, cache: cache}
	if cache != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		store.cancel = cancel
		go store.watchAssignments(watchCtx)
	}
	return store, nil
}

// Close stops the watcher and releases the client.
func (s *EtcdStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.client.Close()
}

// SaveAssignment implements Store.
func (s *EtcdStore) SaveAssignment(ctx context.Context, ntp cluster.PartitionID, assignment cluster.ReplicaAssignment) error {
	payload, err := encodeAssignment(assignment)
	if err != nil {
		return err
	}
	putCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.client.Put(putCtx, assignmentKey(ntp), string(payload)); err != nil {
		return fmt.Errorf("%w: put assignment %s: %v", cluster.ErrStorageFailure, ntp, err)
	}
	return nil
}

// LoadAssignments implements Store.
func (s *EtcdStore) LoadAssignments(ctx context.Context) (map[cluster.PartitionID]cluster.ReplicaAssignment, error) {
	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := s.client.Get(getCtx, assignmentPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: list assignments: %v", cluster.ErrStorageFailure, err)
	}
	out := make(map[cluster.PartitionID]cluster.ReplicaAssignment, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ntp, ok := parseAssignmentKey(string(kv.Key))
		if !ok {
			continue
		}
		assignment, err := decodeAssignment(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("decode assignment %s: %w", kv.Key, err)
		}
		out[ntp] = assignment
	}
	return out, nil
}

// DeleteAssignment implements Store.
func (s *EtcdStore) DeleteAssignment(ctx context.Context, ntp cluster.PartitionID) error {
	delCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.client.Delete(delCtx, assignmentKey(ntp)); err != nil {
		return fmt.Errorf("%w: delete assignment %s: %v", cluster.ErrStorageFailure, ntp, err)
	}
	return nil
}

func (s *EtcdStore) watchAssignments(ctx context.Context) {
	watchChan := s.client.Watch(ctx, assignmentPrefix, clientv3.WithPrefix())
	for resp := range watchChan {
		if resp.Err() != nil {
			continue
		}
		for _, ev := range resp.Events {
			ntp, ok := parseAssignmentKey(string(ev.Kv.Key))
			if !ok {
				continue
			}
			switch ev.Type {
			case clientv3.EventTypePut:
				assignment, err := decodeAssignment(ev.Kv.Value)
				if err != nil {
					continue
				}
				s.cache.PublishAssignment(ntp, assignment)
			case clientv3.EventTypeDelete:
				s.cache.DropPartition(ntp)
			}
		}
	}
}

func assignmentKey(ntp cluster.PartitionID) string {
	return fmt.Sprintf("%s%s/%s/%d/assignment", assignmentPrefix, ntp.Namespace, ntp.Topic, ntp.Partition)
}

func parseAssignmentKey(key string) (cluster.PartitionID, bool) {
	if !strings.HasPrefix(key, assignmentPrefix) {
		return cluster.PartitionID{}, false
	}
	parts := strings.Split(strings.TrimPrefix(key, assignmentPrefix), "/")
	if len(parts) != 4 || parts[3] != "assignment" {
		return cluster.PartitionID{}, false
	}
	partition, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return cluster.PartitionID{}, false
	}
	return cluster.PartitionID{Namespace: parts[0], Topic: parts[1], Partition: int32(partition)}, true
}

func encodeAssignment(assignment cluster.ReplicaAssignment) ([]byte, error) {
	return json.Marshal(assignment)
}

func decodeAssignment(data []byte) (cluster.ReplicaAssignment, error) {
	var out cluster.ReplicaAssignment
	if err := json.Unmarshal(data, &out); err != nil {
		return cluster.ReplicaAssignment{}, err
	}
	return out, nil
}
