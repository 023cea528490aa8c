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

// Package admin exposes the node's control operations over HTTP. It is a
// thin adapter: requests are validated and translated, then handed to the
// core services, and core errors are mapped onto HTTP status codes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novatechflow/strata/pkg/archival"
	"github.com/novatechflow/strata/pkg/cluster"
	"github.com/novatechflow/strata/pkg/leadership"
	"github.com/novatechflow/strata/pkg/metadata"
	"github.com/novatechflow/strata/pkg/placement"
)

// ServerOptions carries the services the admin surface fronts.
type ServerOptions struct {
	Cache       *metadata.Cache
	Reconciler  *placement.Reconciler
	Coordinator *leadership.Coordinator
	Archival    *archival.Service
	Logger      *slog.Logger
	// MoveTimeout bounds synchronous replica moves. Zero means 10s.
	MoveTimeout time.Duration
}

// StartServer launches the admin HTTP listener and shuts it down when ctx is
// cancelled.
func StartServer(ctx context.Context, addr string, opts ServerOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")

	srv := &http.Server{Addr: addr, Handler: NewMux(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("admin listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()
	return nil
}

// NewMux constructs the admin HTTP mux with the supplied dependencies.
func NewMux(opts ServerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		cache:       opts.Cache,
		reconciler:  opts.Reconciler,
		coordinator: opts.Coordinator,
		archival:    opts.Archival,
		logger:      logger.With("component", "admin"),
		moveTimeout: opts.MoveTimeout,
	}
	if h.moveTimeout <= 0 {
		h.moveTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status/ready", h.handleReady)
	mux.HandleFunc("GET /v1/brokers", h.handleBrokers)
	mux.HandleFunc("GET /v1/partitions", h.handlePartitions)
	mux.HandleFunc("GET /v1/partitions/{namespace}/{topic}/{partition}", h.handlePartitionDetail)
	mux.HandleFunc("POST /v1/partitions/{namespace}/{topic}/{partition}/replicas", h.handleSetReplicas)
	mux.HandleFunc("GET /v1/partitions/{namespace}/{topic}/{partition}/archival", h.handleArchivalProgress)
	mux.HandleFunc("POST /v1/raft/{group_id}/transfer_leadership", h.handleGroupTransfer)
	mux.HandleFunc("POST /v1/kafka/{topic}/{partition}/transfer_leadership", h.handlePartitionTransfer)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type handlers struct {
	cache       *metadata.Cache
	reconciler  *placement.Reconciler
	coordinator *leadership.Coordinator
	archival    *archival.Service
	logger      *slog.Logger
	moveTimeout time.Duration
}

type brokerResponse struct {
	NodeID int32  `json:"node_id"`
	Host   string `json:"host"`
	Port   int32  `json:"port"`
	Cores  uint32 `json:"cores"`
}

type replicaResponse struct {
	NodeID int32  `json:"node_id"`
	Core   uint32 `json:"core"`
}

type partitionResponse struct {
	Namespace string            `json:"namespace"`
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Replicas  []replicaResponse `json:"replicas"`
	Leader    int32             `json:"leader"`
}

type reconciliationResponse struct {
	Status    string            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Desired   []replicaResponse `json:"desired,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

type partitionDetailResponse struct {
	partitionResponse
	Reconciliation reconciliationResponse `json:"reconciliation"`
}

type archivalResponse struct {
	Namespace  string                 `json:"namespace"`
	Topic      string                 `json:"topic"`
	Partition  int32                  `json:"partition"`
	UploadedTo int64                  `json:"uploaded_to"`
	Pending    int64                  `json:"pending"`
	Gaps       []archival.OffsetRange `json:"gaps"`
	State      string                 `json:"state"`
	BackoffMS  int64                  `json:"backoff_ms"`
	Successes  uint64                 `json:"successful_uploads"`
	Failures   uint64                 `json:"failed_uploads"`
}

func (h *handlers) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ready"})
}

func (h *handlers) handleBrokers(w http.ResponseWriter, _ *http.Request) {
	brokers := h.cache.Brokers()
	out := make([]brokerResponse, 0, len(brokers))
	for _, b := range brokers {
		out = append(out, brokerResponse{NodeID: b.NodeID, Host: b.Host, Port: b.Port, Cores: b.Cores})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	writeJSON(w, out)
}

func (h *handlers) handlePartitions(w http.ResponseWriter, _ *http.Request) {
	assignments := h.cache.Assignments()
	out := make([]partitionResponse, 0, len(assignments))
	for ntp, assignment := range assignments {
		out = append(out, toPartitionResponse(ntp, assignment))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	writeJSON(w, out)
}

func (h *handlers) handlePartitionDetail(w http.ResponseWriter, r *http.Request) {
	ntp, ok := h.pathPartition(w, r)
	if !ok {
		return
	}
	assignment, found := h.cache.Assignment(ntp)
	if !found {
		writeError(w, fmt.Errorf("partition %s: %w", ntp.String(), cluster.ErrNotFound))
		return
	}
	state := h.reconciler.GetReconciliationState(ntp)
	resp := partitionDetailResponse{
		partitionResponse: toPartitionResponse(ntp, assignment),
		Reconciliation: reconciliationResponse{
			Status: state.Status.String(),
			Reason: state.Reason,
		},
	}
	if len(state.Desired.Replicas) > 0 {
		resp.Reconciliation.Desired = toReplicaResponses(state.Desired.Replicas)
	}
	if !state.UpdatedAt.IsZero() {
		t := state.UpdatedAt
		resp.Reconciliation.UpdatedAt = &t
	}
	writeJSON(w, resp)
}

type replicaSpec struct {
	NodeID *int64 `json:"node_id"`
	Core   *int64 `json:"core"`
}

func (h *handlers) handleSetReplicas(w http.ResponseWriter, r *http.Request) {
	ntp, ok := h.pathPartition(w, r)
	if !ok {
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var specs []replicaSpec
	if err := dec.Decode(&specs); err != nil {
		http.Error(w, "malformed replica set: "+err.Error(), http.StatusBadRequest)
		return
	}

	desired := make([]cluster.BrokerShard, 0, len(specs))
	for i, spec := range specs {
		if spec.NodeID == nil || spec.Core == nil {
			http.Error(w, fmt.Sprintf("replica %d: node_id and core are required", i), http.StatusBadRequest)
			return
		}
		if *spec.NodeID < 0 || *spec.NodeID > math.MaxInt32 {
			http.Error(w, fmt.Sprintf("replica %d: node_id out of range", i), http.StatusBadRequest)
			return
		}
		if *spec.Core < 0 || *spec.Core > math.MaxUint32 {
			http.Error(w, fmt.Sprintf("replica %d: core out of range", i), http.StatusBadRequest)
			return
		}
		desired = append(desired, cluster.BrokerShard{
			NodeID: int32(*spec.NodeID),
			Core:   uint32(*spec.Core),
		})
	}

	deadline := time.Now().Add(h.moveTimeout)
	if err := h.reconciler.RequestMove(r.Context(), ntp, desired, deadline); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) handleArchivalProgress(w http.ResponseWriter, r *http.Request) {
	ntp, ok := h.pathPartition(w, r)
	if !ok {
		return
	}
	progress, err := h.archival.Progress(ntp)
	if err != nil {
		writeError(w, err)
		return
	}
	gaps := progress.Gaps
	if gaps == nil {
		gaps = []archival.OffsetRange{}
	}
	writeJSON(w, archivalResponse{
		Namespace:  ntp.Namespace,
		Topic:      ntp.Topic,
		Partition:  ntp.Partition,
		UploadedTo: progress.UploadedTo,
		Pending:    progress.Pending,
		Gaps:       gaps,
		State:      progress.State.String(),
		BackoffMS:  progress.Backoff.Milliseconds(),
		Successes:  progress.Successes,
		Failures:   progress.Failures,
	})
}

func (h *handlers) handleGroupTransfer(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("group_id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 0 {
		http.Error(w, "invalid group id "+rawID, http.StatusBadRequest)
		return
	}
	target, ok := h.queryTarget(w, r)
	if !ok {
		return
	}
	if err := h.coordinator.TransferGroup(r.Context(), cluster.GroupID(id), target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) handlePartitionTransfer(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	partition, ok := h.parsePartitionIndex(w, r.PathValue("partition"))
	if !ok {
		return
	}
	target, ok := h.queryTarget(w, r)
	if !ok {
		return
	}
	ntp := cluster.NewPartitionID(topic, partition)
	if err := h.coordinator.TransferPartition(r.Context(), ntp, target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// pathPartition parses the {namespace}/{topic}/{partition} wildcards, writing
// a 400 on malformed input.
func (h *handlers) pathPartition(w http.ResponseWriter, r *http.Request) (cluster.PartitionID, bool) {
	partition, ok := h.parsePartitionIndex(w, r.PathValue("partition"))
	if !ok {
		return cluster.PartitionID{}, false
	}
	return cluster.PartitionID{
		Namespace: r.PathValue("namespace"),
		Topic:     r.PathValue("topic"),
		Partition: partition,
	}, true
}

func (h *handlers) parsePartitionIndex(w http.ResponseWriter, raw string) (int32, bool) {
	partition, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || partition < 0 {
		http.Error(w, "invalid partition "+raw, http.StatusBadRequest)
		return 0, false
	}
	return int32(partition), true
}

// queryTarget parses the optional target node query parameter. A missing
// parameter means the core picks a target itself.
func (h *handlers) queryTarget(w http.ResponseWriter, r *http.Request) (*int32, bool) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return nil, true
	}
	target, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || target < 0 {
		http.Error(w, "invalid target "+raw, http.StatusBadRequest)
		return nil, false
	}
	out := int32(target)
	return &out, true
}

func toPartitionResponse(ntp cluster.PartitionID, assignment cluster.ReplicaAssignment) partitionResponse {
	return partitionResponse{
		Namespace: ntp.Namespace,
		Topic:     ntp.Topic,
		Partition: ntp.Partition,
		Replicas:  toReplicaResponses(assignment.Replicas),
		Leader:    assignment.Leader,
	}
}

func toReplicaResponses(replicas []cluster.BrokerShard) []replicaResponse {
	out := make([]replicaResponse, 0, len(replicas))
	for _, replica := range replicas {
		out = append(out, replicaResponse{NodeID: replica.NodeID, Core: replica.Core})
	}
	return out
}

// writeError maps core error classes onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cluster.ErrInvalidRequest), errors.Is(err, cluster.ErrInvalidTarget):
		status = http.StatusBadRequest
	case errors.Is(err, cluster.ErrTimeout), errors.Is(err, cluster.ErrCoordinationFailure):
		status = http.StatusServiceUnavailable
	case errors.Is(err, cluster.ErrStorageFailure):
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
