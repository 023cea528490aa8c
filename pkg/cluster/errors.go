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

package cluster

import "errors"

// Error taxonomy for control-plane operations. Callers classify failures by
// errors.Is against these sentinels; concrete errors wrap them with context.
var (
	// ErrNotFound indicates an unknown partition, group, or node.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest indicates a malformed or semantically invalid request.
	// Never retried: the same request will fail the same way.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTarget indicates a leadership-transfer target outside the
	// group's replica set.
	ErrInvalidTarget = errors.New("invalid transfer target")
	// ErrTimeout indicates the deadline elapsed before convergence. State
	// prior to the attempt remains authoritative.
	ErrTimeout = errors.New("operation timed out")
	// ErrCoordinationFailure indicates the consensus group rejected an
	// operation, e.g. a conflicting configuration change.
	ErrCoordinationFailure = errors.New("coordination failure")
	// ErrStorageFailure indicates an object-store or log I/O error. Always
	// retryable.
	ErrStorageFailure = errors.New("storage failure")
)

// IsCallerError reports whether err is attributable to the caller and must
// not be retried by the core.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidTarget)
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCoordinationFailure)
}
