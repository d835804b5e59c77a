// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package publish

import "github.com/prometheus/client_golang/prometheus"

var (
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "publish",
			Subsystem: "daemon",
			Name:      "cycle_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of publish cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})

	readyTxnGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "publish",
			Subsystem: "daemon",
			Name:      "ready_txns",
			Help:      "Number of committed transactions waiting to be visible.",
		})

	dispatchedTaskCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "daemon",
			Name:      "dispatched_tasks_total",
			Help:      "Counter of dispatched publish version tasks.",
		})

	finalizeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "daemon",
			Name:      "finalize_total",
			Help:      "Counter of finalize attempts by result.",
		}, []string{"result"})

	errorReplicaCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "daemon",
			Name:      "error_replicas_total",
			Help:      "Counter of replicas put in an error set by reason.",
		}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(readyTxnGauge)
	prometheus.MustRegister(dispatchedTaskCounter)
	prometheus.MustRegister(finalizeCounter)
	prometheus.MustRegister(errorReplicaCounter)
}
