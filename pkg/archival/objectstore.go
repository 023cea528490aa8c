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

import "context"

// ObjectStore is the durable object storage the upload reconciler writes
// segments and manifests to.
type ObjectStore interface {
	// UploadSegment writes one log segment object.
	UploadSegment(ctx context.Context, key string, body []byte) error
	// UploadManifest writes a manifest object. Manifest writes are upserts:
	// writing the same key again fully replaces the previous object.
	UploadManifest(ctx context.Context, key string, body []byte) error
	// Download reads one object in full.
	Download(ctx context.Context, key string) ([]byte, error)
	// List enumerates objects under a prefix.
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	// EnsureBucket verifies the bucket exists, creating it when permitted.
	EnsureBucket(ctx context.Context) error
}

// StoredObject describes one listed object.
type StoredObject struct {
	Key  string
	Size int64
}

// S3Config describes connection details for AWS S3 or compatible endpoints.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KMSKeyARN       string
}
