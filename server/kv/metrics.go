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

package kv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	kvCmdCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Subsystem: "kv",
			Name:      "cmds_total",
			Help:      "Counter of kv commands.",
		}, []string{"engine", "type"})

	kvCmdDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "publish",
			Subsystem: "kv",
			Name:      "cmd_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of kv commands.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 13),
		}, []string{"engine", "type"})
)

func init() {
	prometheus.MustRegister(kvCmdCounter)
	prometheus.MustRegister(kvCmdDuration)
}

func observe(engine, cmd string) func() {
	start := time.Now()
	return func() {
		kvCmdCounter.WithLabelValues(engine, cmd).Inc()
		kvCmdDuration.WithLabelValues(engine, cmd).Observe(time.Since(start).Seconds())
	}
}
