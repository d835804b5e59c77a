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

// Package publish drives committed transactions to VISIBLE. Every cycle it
// dispatches publish tasks for new transactions, evaluates the tasks of the
// dispatched ones and finalizes them, marking the replicas that failed or
// never answered so they can be repaired later.
package publish

import (
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap-incubator/tinypublish/server/txn"
)

// TransactionManager lists and finishes transactions.
type TransactionManager interface {
	GetReadyToPublishTransactions() []*txn.TransactionState
	FinishTransaction(txnID uint64, errorReplicaIDs map[uint64]struct{}) error
}

// LocationIndex resolves tablets and replicas.
type LocationIndex interface {
	GetReplica(tabletID, nodeID uint64) *core.Replica
	GetTabletIDsByNode(nodeID uint64) []uint64
	GetPartitionID(tabletID uint64) (uint64, bool)
}

// Membership lists the known nodes.
type Membership interface {
	GetNodeIDs(includeDead bool) []uint64
}

// TaskRegistry is the outstanding task registry.
type TaskRegistry interface {
	AddTask(t task.AgentTask) bool
	RemoveTask(nodeID uint64, typ task.Type, signature uint64)
}

// TaskSubmitter delivers a batch of tasks asynchronously.
type TaskSubmitter interface {
	Submit(batch *task.BatchTask)
}
