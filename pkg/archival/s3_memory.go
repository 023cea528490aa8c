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
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/novatechflow/strata/pkg/cluster"
)

// MemoryObjectStore is an in-memory implementation of ObjectStore for
// development and testing. Upload failures can be injected for tests that
// exercise the reconciler's retry path.
type MemoryObjectStore struct {
	mu          sync.Mutex
	data        map[string][]byte
	bucketReady bool

	failUploads int
	uploadErr   error
}

// NewMemoryObjectStore initializes the in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		data: make(map[string][]byte),
	}
}

// FailNextUploads makes the next n segment uploads fail with err.
func (m *MemoryObjectStore) FailNextUploads(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUploads = n
	m.uploadErr = err
}

func (m *MemoryObjectStore) EnsureBucket(ctx context.Context) error {
	m.mu.Lock()
	m.bucketReady = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryObjectStore) UploadSegment(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUploads > 0 {
		m.failUploads--
		return fmt.Errorf("put object %s: %w: %v", key, cluster.ErrStorageFailure, m.uploadErr)
	}
	m.data[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryObjectStore) UploadManifest(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[key]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("object %s: %w", key, cluster.ErrNotFound)
}

func (m *MemoryObjectStore) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredObject, 0)
	for key, data := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, StoredObject{
			Key:  key,
			Size: int64(len(data)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
