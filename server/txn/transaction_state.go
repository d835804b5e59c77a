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

package txn

import (
	"sort"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"go.uber.org/atomic"
)

// TransactionState is a load transaction. The status only changes through
// the Manager. The publish daemon owns the dispatched latch, the task map and
// the publish time.
type TransactionState struct {
	txnID   uint64
	dbID    uint64
	label   string
	timeout time.Duration

	status      atomic.Int32
	hasSendTask atomic.Bool

	mu                  sync.RWMutex
	commitInfos         map[uint64]*core.TableCommitInfo
	publishVersionTasks map[uint64]*task.PublishVersionTask
	prepareTime         time.Time
	commitTime          time.Time
	publishTime         time.Time
	publishDeadline     time.Time
	finishTime          time.Time
	errorReplicaIDs     []uint64
	reason              string
}

func newTransactionState(txnID, dbID uint64, label string, timeout time.Duration, now time.Time) *TransactionState {
	txn := &TransactionState{
		txnID:               txnID,
		dbID:                dbID,
		label:               label,
		timeout:             timeout,
		commitInfos:         make(map[uint64]*core.TableCommitInfo),
		publishVersionTasks: make(map[uint64]*task.PublishVersionTask),
		prepareTime:         now,
	}
	txn.status.Store(int32(core.TransactionStatusPrepare))
	return txn
}

// ID returns the transaction id.
func (t *TransactionState) ID() uint64 { return t.txnID }

// DBID returns the database id.
func (t *TransactionState) DBID() uint64 { return t.dbID }

// Label returns the label of the transaction.
func (t *TransactionState) Label() string { return t.label }

// Timeout returns the publish timeout.
func (t *TransactionState) Timeout() time.Duration { return t.timeout }

// Status returns the current status.
func (t *TransactionState) Status() core.TransactionStatus {
	return core.TransactionStatus(t.status.Load())
}

func (t *TransactionState) setStatus(status core.TransactionStatus) {
	t.status.Store(int32(status))
}

// CommitInfos returns the committed partition versions grouped by table. The
// result must not be modified.
func (t *TransactionState) CommitInfos() map[uint64]*core.TableCommitInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commitInfos
}

// HasSendTask reports whether the publish tasks were dispatched.
func (t *TransactionState) HasSendTask() bool {
	return t.hasSendTask.Load()
}

// SetHasSendTask sets the dispatched latch and starts the publish clock. It
// returns false if the latch was already set. The publish deadline is fixed
// by the first call.
func (t *TransactionState) SetHasSendTask(now time.Time) bool {
	if !t.hasSendTask.CAS(false, true) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishTime = now
	if t.publishDeadline.IsZero() {
		t.publishDeadline = now.Add(t.timeout)
	}
	return true
}

// PublishVersionTasks returns a copy of the node -> task map.
func (t *TransactionState) PublishVersionTasks() map[uint64]*task.PublishVersionTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tasks := make(map[uint64]*task.PublishVersionTask, len(t.publishVersionTasks))
	for nodeID, pt := range t.publishVersionTasks {
		tasks[nodeID] = pt
	}
	return tasks
}

// NodeIDsWithTask returns the sorted ids of the nodes that have a task.
func (t *TransactionState) NodeIDsWithTask() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.publishVersionTasks))
	for nodeID := range t.publishVersionTasks {
		ids = append(ids, nodeID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetPublishVersionTask attaches the task of a node and returns the task it
// replaces, if any.
func (t *TransactionState) SetPublishVersionTask(pt *task.PublishVersionTask) *task.PublishVersionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.publishVersionTasks[pt.NodeID()]
	t.publishVersionTasks[pt.NodeID()] = pt
	return old
}

// PublishTime returns the last dispatch or deferral time.
func (t *TransactionState) PublishTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.publishTime
}

// UpdateSendTaskTime postpones the next evaluation. The deadline is kept.
func (t *TransactionState) UpdateSendTaskTime(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishTime = now
}

// PublishDeadline returns the fixed publish deadline, zero before dispatch.
func (t *TransactionState) PublishDeadline() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.publishDeadline
}

// IsPublishTimeout reports whether the publish deadline has passed.
func (t *TransactionState) IsPublishTimeout(now time.Time) bool {
	deadline := t.PublishDeadline()
	return !deadline.IsZero() && now.After(deadline)
}

// CommitTime returns when the transaction was committed.
func (t *TransactionState) CommitTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commitTime
}

// FinishTime returns when the transaction became VISIBLE or ABORTED.
func (t *TransactionState) FinishTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishTime
}

// ErrorReplicaIDs returns the replicas marked failed when the transaction
// became visible.
func (t *TransactionState) ErrorReplicaIDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errorReplicaIDs
}

// Info is the JSON form of a transaction, used for storage and the API.
type Info struct {
	TxnID           uint64                           `json:"txn_id"`
	DBID            uint64                           `json:"db_id"`
	Label           string                           `json:"label"`
	Status          core.TransactionStatus           `json:"status"`
	Timeout         int64                            `json:"timeout_ms"`
	CommitInfos     map[uint64]*core.TableCommitInfo `json:"commit_infos,omitempty"`
	PrepareTime     time.Time                        `json:"prepare_time"`
	CommitTime      time.Time                        `json:"commit_time"`
	PublishTime     time.Time                        `json:"publish_time"`
	PublishDeadline time.Time                        `json:"publish_deadline"`
	FinishTime      time.Time                        `json:"finish_time"`
	ErrorReplicaIDs []uint64                         `json:"error_replica_ids,omitempty"`
	Reason          string                           `json:"reason,omitempty"`
	// Runtime only, not restored.
	HasSendTask bool     `json:"has_send_task"`
	TaskNodeIDs []uint64 `json:"task_node_ids,omitempty"`
}

// Info returns the JSON form of the transaction.
func (t *TransactionState) Info() *Info {
	nodeIDs := t.NodeIDsWithTask()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Info{
		TxnID:           t.txnID,
		DBID:            t.dbID,
		Label:           t.label,
		Status:          t.Status(),
		Timeout:         int64(t.timeout / time.Millisecond),
		CommitInfos:     t.commitInfos,
		PrepareTime:     t.prepareTime,
		CommitTime:      t.commitTime,
		PublishTime:     t.publishTime,
		PublishDeadline: t.publishDeadline,
		FinishTime:      t.finishTime,
		ErrorReplicaIDs: t.errorReplicaIDs,
		Reason:          t.reason,
		HasSendTask:     t.HasSendTask(),
		TaskNodeIDs:     nodeIDs,
	}
}

// newTransactionStateFromInfo restores a stored transaction. Tasks and the
// dispatched latch are not stored, so a restored transaction is dispatched
// again.
func newTransactionStateFromInfo(info *Info) *TransactionState {
	txn := newTransactionState(info.TxnID, info.DBID, info.Label, time.Duration(info.Timeout)*time.Millisecond, info.PrepareTime)
	txn.setStatus(info.Status)
	if info.CommitInfos != nil {
		txn.commitInfos = info.CommitInfos
	}
	txn.commitTime = info.CommitTime
	txn.finishTime = info.FinishTime
	txn.errorReplicaIDs = info.ErrorReplicaIDs
	txn.reason = info.Reason
	return txn
}
