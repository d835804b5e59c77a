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

import (
	"context"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/tinypublish/pkg/daemon"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap-incubator/tinypublish/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// gracePeriodFactor times the interval must pass after a dispatch before the
// tasks are judged.
const gracePeriodFactor = 2

const anomalyWarnInterval = time.Minute

// Daemon is the publish version daemon.
type Daemon struct {
	*daemon.Daemon
	interval time.Duration

	txns     TransactionManager
	index    LocationIndex
	nodes    Membership
	registry TaskRegistry
	executor TaskSubmitter

	audit       *zap.Logger
	now         func() time.Time
	warnLimiter *rate.Limiter
}

// Option configures a Daemon.
type Option func(d *Daemon)

// WithAuditLogger sets the logger receiving one line per finalize attempt
// that marks replicas failed.
func WithAuditLogger(l *zap.Logger) Option {
	return func(d *Daemon) { d.audit = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// NewDaemon creates the publish version daemon running every interval.
func NewDaemon(interval time.Duration, txns TransactionManager, index LocationIndex, nodes Membership,
	registry TaskRegistry, executor TaskSubmitter, opts ...Option) *Daemon {
	d := &Daemon{
		interval:    interval,
		txns:        txns,
		index:       index,
		nodes:       nodes,
		registry:    registry,
		executor:    executor,
		audit:       zap.NewNop(),
		now:         time.Now,
		warnLimiter: rate.NewLimiter(rate.Every(anomalyWarnInterval), 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.Daemon = daemon.New("publish-version", interval, d.publishVersion)
	return d
}

func (d *Daemon) publishVersion(ctx context.Context) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "publish.cycle")
	defer span.Finish()
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	readyTxns := d.txns.GetReadyToPublishTransactions()
	readyTxnGauge.Set(float64(len(readyTxns)))
	span.SetTag("ready", len(readyTxns))
	if len(readyTxns) == 0 {
		return nil
	}

	// Dead nodes are publish targets too, so their replicas get marked
	// failed instead of being taken as up to date.
	nodeIDs := d.nodes.GetNodeIDs(true)
	if len(nodeIDs) == 0 {
		if d.warnLimiter.Allow() {
			log.Warn("no node to publish version to", zap.Int("ready-txns", len(readyTxns)))
		}
		return nil
	}

	d.dispatch(readyTxns, nodeIDs)

	now := d.now()
	for _, t := range readyTxns {
		if !t.HasSendTask() || now.Sub(t.PublishTime()) < gracePeriodFactor*d.interval {
			continue
		}
		errorReplicas, ready := d.evaluate(t, now)
		if !ready {
			continue
		}
		d.finalize(t, errorReplicas, now)
	}

	for _, t := range readyTxns {
		if t.Status() == core.TransactionStatusVisible {
			d.cleanup(t)
		}
	}
	return nil
}

// dispatch builds and submits the publish tasks of the transactions that
// were not dispatched yet, all in one batch. Re-targeting a transaction
// replaces its task on each node and drops the replaced task from the
// registry while the transaction is still COMMITTED; this is the only
// removal before VISIBLE, and it only happens for tasks left by an
// interrupted dispatch, since tasks are never persisted.
func (d *Daemon) dispatch(readyTxns []*txn.TransactionState, nodeIDs []uint64) {
	batch := task.NewBatchTask()
	now := d.now()
	for _, t := range readyTxns {
		if t.HasSendTask() {
			continue
		}
		infos := core.FlattenCommitInfos(t.CommitInfos())
		// A transaction with tasks from an interrupted run is published to
		// the same nodes again.
		targets := t.NodeIDsWithTask()
		if len(targets) == 0 {
			targets = nodeIDs
		}
		for _, nodeID := range targets {
			pt := task.NewPublishVersionTask(nodeID, t.ID(), t.DBID(), infos)
			if old := t.SetPublishVersionTask(pt); old != nil {
				d.registry.RemoveTask(old.NodeID(), old.Type(), old.Signature())
			}
			if !d.registry.AddTask(pt) {
				log.Warn("publish version task already registered",
					zap.Uint64("txn-id", t.ID()),
					zap.Uint64("node-id", nodeID))
			}
			batch.AddTask(pt)
		}
		t.SetHasSendTask(now)
		log.Debug("dispatch publish version tasks",
			zap.Uint64("txn-id", t.ID()),
			zap.Uint64s("node-ids", targets))
	}
	if batch.TaskNum() == 0 {
		return
	}
	d.executor.Submit(batch)
	dispatchedTaskCounter.Add(float64(batch.TaskNum()))
}

// evaluate reads the tasks of a dispatched transaction and returns the
// replicas to mark failed. ready is false while some node may still answer.
func (d *Daemon) evaluate(t *txn.TransactionState, now time.Time) (map[uint64]*core.Replica, bool) {
	tasks := t.PublishVersionTasks()
	errorReplicas := make(map[uint64]*core.Replica)
	var unfinished []*task.PublishVersionTask
	for _, nodeID := range t.NodeIDsWithTask() {
		pt := tasks[nodeID]
		snap := pt.Snapshot()
		if !snap.Finished() {
			unfinished = append(unfinished, pt)
			continue
		}
		for _, tabletID := range snap.ErrorTablets {
			replica := d.index.GetReplica(tabletID, nodeID)
			if replica == nil {
				log.Warn("reported error tablet has no replica on node",
					zap.Uint64("txn-id", t.ID()),
					zap.Uint64("tablet-id", tabletID),
					zap.Uint64("node-id", nodeID))
				continue
			}
			errorReplicas[replica.ID] = replica
			errorReplicaCounter.WithLabelValues("reported").Inc()
		}
	}
	if len(unfinished) == 0 {
		return errorReplicas, true
	}
	if !t.IsPublishTimeout(now) {
		return nil, false
	}

	for _, pt := range unfinished {
		partitionIDs := pt.PartitionIDs()
		for _, tabletID := range d.index.GetTabletIDsByNode(pt.NodeID()) {
			partitionID, ok := d.index.GetPartitionID(tabletID)
			if !ok {
				continue
			}
			if _, ok := partitionIDs[partitionID]; !ok {
				continue
			}
			replica := d.index.GetReplica(tabletID, pt.NodeID())
			if replica == nil {
				continue
			}
			if _, ok := errorReplicas[replica.ID]; !ok {
				errorReplicas[replica.ID] = replica
				errorReplicaCounter.WithLabelValues("timeout").Inc()
			}
		}
		log.Warn("publish version task timeout",
			zap.Uint64("txn-id", t.ID()),
			zap.Uint64("node-id", pt.NodeID()),
			zap.Time("deadline", t.PublishDeadline()))
	}
	return errorReplicas, true
}

// finalize asks the transaction manager to make the transaction visible. A
// transaction that stays committed is not judged again for two intervals.
func (d *Daemon) finalize(t *txn.TransactionState, errorReplicas map[uint64]*core.Replica, now time.Time) {
	replicaIDs := make(map[uint64]struct{}, len(errorReplicas))
	for id := range errorReplicas {
		replicaIDs[id] = struct{}{}
	}
	if len(replicaIDs) > 0 {
		d.auditErrorReplicas(t, errorReplicas)
	}

	if err := d.txns.FinishTransaction(t.ID(), replicaIDs); err != nil {
		log.Error("failed to finish transaction",
			zap.Uint64("txn-id", t.ID()),
			zap.Error(err))
		finalizeCounter.WithLabelValues("error").Inc()
	}
	if t.Status() != core.TransactionStatusVisible {
		t.UpdateSendTaskTime(now)
		finalizeCounter.WithLabelValues("deferred").Inc()
		return
	}
	finalizeCounter.WithLabelValues("visible").Inc()
	log.Info("publish version finished",
		zap.Uint64("txn-id", t.ID()),
		zap.Int("error-replicas", len(replicaIDs)),
		zap.Duration("cost", now.Sub(t.CommitTime())))
}

// cleanup removes the tasks of a visible transaction from the registry.
func (d *Daemon) cleanup(t *txn.TransactionState) {
	for _, pt := range t.PublishVersionTasks() {
		d.registry.RemoveTask(pt.NodeID(), pt.Type(), pt.Signature())
	}
}

func (d *Daemon) auditErrorReplicas(t *txn.TransactionState, errorReplicas map[uint64]*core.Replica) {
	ids := make([]uint64, 0, len(errorReplicas))
	for id := range errorReplicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	tablets := make([]uint64, 0, len(ids))
	nodes := make([]uint64, 0, len(ids))
	for _, id := range ids {
		tablets = append(tablets, errorReplicas[id].TabletID)
		nodes = append(nodes, errorReplicas[id].NodeID)
	}
	d.audit.Info("error replicas",
		zap.Uint64("txn-id", t.ID()),
		zap.Uint64("db-id", t.DBID()),
		zap.Uint64s("replica-ids", ids),
		zap.Uint64s("tablet-ids", tablets),
		zap.Uint64s("node-ids", nodes))
}
