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

package archival

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/novatechflow/strata/pkg/cluster"
)

// Service owns one upload loop per enabled partition and keeps the topic
// manifests in object storage current as partitions come and go.
type Service struct {
	store  ObjectStore
	logger *slog.Logger
	cfg    Config

	mu         sync.Mutex
	partitions map[cluster.PartitionID]*managedArchiver
	wg         sync.WaitGroup
}

type managedArchiver struct {
	arch   *Archiver
	cancel context.CancelFunc
}

// NewService returns a service with no partitions enabled.
func NewService(store ObjectStore, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:      store,
		logger:     logger.With("component", "archival"),
		cfg:        cfg,
		partitions: make(map[cluster.PartitionID]*managedArchiver),
	}
}

// Enable starts archiving a partition. Progress is restored from the durable
// manifest when one exists, so a restarted node resumes where it left off.
// Enabling an already-archived partition is a no-op.
func (s *Service) Enable(ctx context.Context, ntp cluster.PartitionID, log LogSource) error {
	if ntp.Namespace != cluster.LogNamespace {
		return fmt.Errorf("namespace %q not archivable: %w", ntp.Namespace, cluster.ErrInvalidRequest)
	}

	s.mu.Lock()
	if _, ok := s.partitions[ntp]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	manifest, err := s.restoreManifest(ctx, ntp)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	arch := NewArchiver(ntp, log, s.store, manifest, s.logger, s.cfg)

	s.mu.Lock()
	if _, ok := s.partitions[ntp]; ok {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.partitions[ntp] = &managedArchiver{arch: arch, cancel: cancel}
	s.mu.Unlock()

	startArchiving.Inc()
	numArchived.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		arch.Run(runCtx)
	}()

	if err := s.uploadTopicManifest(ctx, ntp.Namespace, ntp.Topic); err != nil {
		s.logger.Warn("topic manifest upload failed", "topic", ntp.Topic, "error", err)
	}
	s.logger.Info("archival enabled", "partition", ntp.String(), "resume_offset", arch.Progress().UploadedTo)
	return nil
}

// Disable stops archiving a partition. In-flight uploads finish before the
// loop exits; the durable manifest stays behind for a later re-enable.
func (s *Service) Disable(ntp cluster.PartitionID) error {
	s.mu.Lock()
	managed, ok := s.partitions[ntp]
	if ok {
		delete(s.partitions, ntp)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("partition %s not archived: %w", ntp.String(), cluster.ErrNotFound)
	}

	managed.cancel()
	stopArchiving.Inc()
	numArchived.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.uploadTopicManifest(ctx, ntp.Namespace, ntp.Topic); err != nil {
		s.logger.Warn("topic manifest upload failed", "topic", ntp.Topic, "error", err)
	}
	s.logger.Info("archival disabled", "partition", ntp.String())
	return nil
}

// Progress returns the upload snapshot for one partition.
func (s *Service) Progress(ntp cluster.PartitionID) (Progress, error) {
	s.mu.Lock()
	managed, ok := s.partitions[ntp]
	s.mu.Unlock()
	if !ok {
		return Progress{}, fmt.Errorf("partition %s not archived: %w", ntp.String(), cluster.ErrNotFound)
	}
	return managed.arch.Progress(), nil
}

// All returns snapshots for every archived partition, ordered by partition.
func (s *Service) All() []Progress {
	s.mu.Lock()
	out := make([]Progress, 0, len(s.partitions))
	for _, managed := range s.partitions {
		out = append(out, managed.arch.Progress())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Partition.String() < out[j].Partition.String()
	})
	return out
}

// Close stops every archiver and waits for their loops to exit.
func (s *Service) Close() {
	s.mu.Lock()
	for ntp, managed := range s.partitions {
		managed.cancel()
		delete(s.partitions, ntp)
		stopArchiving.Inc()
		numArchived.Dec()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) restoreManifest(ctx context.Context, ntp cluster.PartitionID) (*Manifest, error) {
	data, err := s.store.Download(ctx, ManifestKey(ntp))
	if errors.Is(err, cluster.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore manifest for %s: %w", ntp.String(), err)
	}
	manifest, err := DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("restore manifest for %s: %w", ntp.String(), err)
	}
	return manifest, nil
}

func (s *Service) uploadTopicManifest(ctx context.Context, namespace, topic string) error {
	s.mu.Lock()
	parts := make([]int32, 0)
	for ntp := range s.partitions {
		if ntp.Namespace == namespace && ntp.Topic == topic {
			parts = append(parts, ntp.Partition)
		}
	}
	s.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	tm := TopicManifest{Namespace: namespace, Topic: topic, Partitions: parts}
	data, err := tm.Encode()
	if err != nil {
		return err
	}
	if err := s.store.UploadManifest(ctx, TopicManifestKey(namespace, topic), data); err != nil {
		return err
	}
	topicManifestUploads.Inc()
	return nil
}
