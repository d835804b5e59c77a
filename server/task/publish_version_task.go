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

import (
	"sync"
	"time"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"go.uber.org/atomic"
)

// State is the state of a publish task.
//
//	Pending -> Dispatched -> Finished
//	                      -> FinishedWithErrors
//
// A report may also finish a Pending task whose delivery acknowledgement has
// not been observed yet.
type State int32

// Task states.
const (
	StatePending State = iota
	StateDispatched
	StateFinished
	StateFinishedWithErrors
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateDispatched:
		return "Dispatched"
	case StateFinished:
		return "Finished"
	case StateFinishedWithErrors:
		return "FinishedWithErrors"
	default:
		return "Unknown"
	}
}

// IsFinished returns true for both finished states.
func (s State) IsFinished() bool {
	return s == StateFinished || s == StateFinishedWithErrors
}

// Snapshot is a point in time view of a task's completion.
type Snapshot struct {
	State        State
	ErrorTablets []uint64
}

// Finished returns true if the node reported the task.
func (s Snapshot) Finished() bool {
	return s.State.IsFinished()
}

// PublishVersionTask asks one node to make the versions of a transaction
// visible. Identity and version infos never change; the completion state is
// written by the report path and read by the publish daemon.
type PublishVersionTask struct {
	nodeID       uint64
	txnID        uint64
	dbID         uint64
	versionInfos []core.PartitionVersionInfo
	createTime   time.Time

	state atomic.Int32
	// mu guards errorTablets; they are written once, before the state
	// becomes finished.
	mu           sync.Mutex
	errorTablets []uint64
}

// NewPublishVersionTask creates a pending publish task.
func NewPublishVersionTask(nodeID, txnID, dbID uint64, versionInfos []core.PartitionVersionInfo) *PublishVersionTask {
	infos := make([]core.PartitionVersionInfo, len(versionInfos))
	copy(infos, versionInfos)
	return &PublishVersionTask{
		nodeID:       nodeID,
		txnID:        txnID,
		dbID:         dbID,
		versionInfos: infos,
		createTime:   time.Now(),
	}
}

// NodeID returns the target node.
func (t *PublishVersionTask) NodeID() uint64 { return t.nodeID }

// Type returns TypePublishVersion.
func (t *PublishVersionTask) Type() Type { return TypePublishVersion }

// Signature is the transaction id.
func (t *PublishVersionTask) Signature() uint64 { return t.txnID }

// TransactionID returns the transaction id.
func (t *PublishVersionTask) TransactionID() uint64 { return t.txnID }

// DBID returns the database id.
func (t *PublishVersionTask) DBID() uint64 { return t.dbID }

// CreateTime returns when the task was built.
func (t *PublishVersionTask) CreateTime() time.Time { return t.createTime }

// VersionInfos returns the versions to publish.
func (t *PublishVersionTask) VersionInfos() []core.PartitionVersionInfo {
	return t.versionInfos
}

// PartitionIDs returns the set of partitions the task publishes.
func (t *PublishVersionTask) PartitionIDs() map[uint64]struct{} {
	ids := make(map[uint64]struct{}, len(t.versionInfos))
	for _, info := range t.versionInfos {
		ids[info.PartitionID] = struct{}{}
	}
	return ids
}

// State returns the current state.
func (t *PublishVersionTask) State() State {
	return State(t.state.Load())
}

// MarkDispatched records that the node accepted the task. It is a no-op
// unless the task is pending.
func (t *PublishVersionTask) MarkDispatched() bool {
	return t.state.CAS(int32(StatePending), int32(StateDispatched))
}

// Finish records the node's report. Only the first report counts.
func (t *PublishVersionTask) Finish(errorTablets []uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State().IsFinished() {
		return false
	}
	next := StateFinished
	if len(errorTablets) > 0 {
		t.errorTablets = make([]uint64, len(errorTablets))
		copy(t.errorTablets, errorTablets)
		next = StateFinishedWithErrors
	}
	t.state.Store(int32(next))
	return true
}

// Snapshot reads the state and the error tablets once.
func (t *PublishVersionTask) Snapshot() Snapshot {
	state := t.State()
	if state != StateFinishedWithErrors {
		return Snapshot{State: state}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tablets := make([]uint64, len(t.errorTablets))
	copy(tablets, t.errorTablets)
	return Snapshot{State: state, ErrorTablets: tablets}
}

// Info is the JSON view of a task.
type Info struct {
	NodeID        uint64                      `json:"node_id"`
	Type          Type                        `json:"task_type"`
	Signature     uint64                      `json:"signature"`
	TransactionID uint64                      `json:"transaction_id"`
	DBID          uint64                      `json:"db_id"`
	State         string                      `json:"state"`
	ErrorTablets  []uint64                    `json:"error_tablet_ids,omitempty"`
	VersionInfos  []core.PartitionVersionInfo `json:"partition_version_infos"`
	CreateTime    time.Time                   `json:"create_time"`
}

// Info returns the JSON view of the task.
func (t *PublishVersionTask) Info() *Info {
	snap := t.Snapshot()
	return &Info{
		NodeID:        t.nodeID,
		Type:          t.Type(),
		Signature:     t.Signature(),
		TransactionID: t.txnID,
		DBID:          t.dbID,
		State:         snap.State.String(),
		ErrorTablets:  snap.ErrorTablets,
		VersionInfos:  t.versionInfos,
		CreateTime:    t.createTime,
	}
}
