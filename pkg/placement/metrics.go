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

import "github.com/prometheus/client_golang/prometheus"

var (
	movesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_placement_moves_started_total",
		Help: "Number of replica moves accepted by the reconciler.",
	})
	movesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_placement_moves_completed_total",
		Help: "Number of replica moves that reached done.",
	})
	movesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_placement_moves_failed_total",
		Help: "Number of replica moves that ended in error, labeled by reason class.",
	}, []string{"reason"})
	movesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strata_placement_moves_in_flight",
		Help: "Replica moves currently pending or in progress.",
	})
)

func init() {
	prometheus.MustRegister(movesStarted, movesCompleted, movesFailed, movesInFlight)
}
