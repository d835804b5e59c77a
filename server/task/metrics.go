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

package task

import "github.com/prometheus/client_golang/prometheus"

var (
	outstandingTaskGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "publish",
			Subsystem: "task",
			Name:      "outstanding",
			Help:      "Number of outstanding tasks.",
		}, []string{"type"})

	taskReportCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "task",
			Name:      "reports_total",
			Help:      "Counter of task completion reports.",
		}, []string{"type", "result"})

	deliveryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "task",
			Name:      "deliveries_total",
			Help:      "Counter of task deliveries to nodes.",
		}, []string{"result"})

	deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "publish",
			Subsystem: "task",
			Name:      "delivery_duration_seconds",
			Help:      "Bucketed histogram of delivery time (s) of one node request.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		})
)

func init() {
	prometheus.MustRegister(outstandingTaskGauge)
	prometheus.MustRegister(taskReportCounter)
	prometheus.MustRegister(deliveryCounter)
	prometheus.MustRegister(deliveryDuration)
}
