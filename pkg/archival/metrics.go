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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/strata/pkg/cluster"
)

var (
	numGaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_num_gaps_total",
		Help: "Offset ranges lost to retention before upload.",
	})
	topicManifestUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_topic_manifest_uploads_total",
		Help: "Topic manifest uploads.",
	})
	partitionManifestUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_partition_manifest_uploads_total",
		Help: "Partition manifest uploads.",
	})
	startArchiving = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_start_archiving_total",
		Help: "Partitions enabled for archival.",
	})
	stopArchiving = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_stop_archiving_total",
		Help: "Partitions disabled for archival.",
	})
	numArchived = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strata_archival_partitions_archiving",
		Help: "Partitions currently under archival.",
	})
	manifestBackoff = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_manifest_backoff_total",
		Help: "Backoff waits caused by manifest upload failures.",
	})
	numReconciliations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_reconciliations_total",
		Help: "Upload loop iterations across all partitions.",
	})
	successfulUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_successful_uploads_total",
		Help: "Segment uploads that completed.",
	})
	failedUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_failed_uploads_total",
		Help: "Segment uploads that failed.",
	})
	uploadBackoff = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_archival_upload_backoff_total",
		Help: "Backoff waits caused by segment upload failures.",
	})

	ntpLabels = []string{"namespace", "topic", "partition"}

	ntpUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_archival_uploaded_offsets_total",
		Help: "Offsets uploaded per partition.",
	}, ntpLabels)
	ntpMissing = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_archival_missing_offsets_total",
		Help: "Offsets lost to retention before upload per partition.",
	}, ntpLabels)
	ntpPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "strata_archival_pending_offsets",
		Help: "Offsets committed locally but not yet uploaded per partition.",
	}, ntpLabels)
)

func init() {
	prometheus.MustRegister(
		numGaps,
		topicManifestUploads,
		partitionManifestUploads,
		startArchiving,
		stopArchiving,
		numArchived,
		manifestBackoff,
		numReconciliations,
		successfulUploads,
		failedUploads,
		uploadBackoff,
		ntpUploaded,
		ntpMissing,
		ntpPending,
	)
}

func ntpLabelValues(ntp cluster.PartitionID) prometheus.Labels {
	return prometheus.Labels{
		"namespace": ntp.Namespace,
		"topic":     ntp.Topic,
		"partition": strconv.FormatInt(int64(ntp.Partition), 10),
	}
}
