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

// Package core defines the types shared by the publication components.
// This file uses the errcode package to define the domain error codes.
package core

import (
	"fmt"
	"net/http"

	"github.com/pingcap/errcode"
)

var (
	txnStateCode = errcode.StateCode.Child("state.txn")
	// TxnInvalidStateCode is an operation that is not allowed in the current transaction status.
	TxnInvalidStateCode = txnStateCode.Child("state.txn.invalid")
	// TxnLabelExistsCode is a begin request reusing the label of a live transaction.
	TxnLabelExistsCode = txnStateCode.Child("state.txn.label_exists").SetHTTP(http.StatusConflict)

	nodeStateCode = errcode.StateCode.Child("state.node")
	// NodeTombstonedCode is an operation on a node that has been removed.
	NodeTombstonedCode = nodeStateCode.Child("state.node.tombstoned").SetHTTP(http.StatusGone)

	// TxnNotFoundCode is a missing transaction.
	TxnNotFoundCode = errcode.NotFoundCode.Child("missing.txn")
	// NodeNotFoundCode is a missing node.
	NodeNotFoundCode = errcode.NotFoundCode.Child("missing.node")
	// PartitionNotFoundCode is a missing partition.
	PartitionNotFoundCode = errcode.NotFoundCode.Child("missing.partition")
	// TabletNotFoundCode is a missing tablet.
	TabletNotFoundCode = errcode.NotFoundCode.Child("missing.tablet")
	// ReplicaNotFoundCode is a missing replica.
	ReplicaNotFoundCode = errcode.NotFoundCode.Child("missing.replica")
	// TaskNotFoundCode is a report for a task that is not outstanding.
	TaskNotFoundCode = errcode.NotFoundCode.Child("missing.task")
)

var _ errcode.ErrorCode = (*TxnNotFoundErr)(nil)
var _ errcode.ErrorCode = (*TxnInvalidStateErr)(nil)
var _ errcode.ErrorCode = (*TxnLabelExistsErr)(nil)
var _ errcode.ErrorCode = (*NodeNotFoundErr)(nil)
var _ errcode.ErrorCode = (*NodeTombstonedErr)(nil)
var _ errcode.ErrorCode = (*PartitionNotFoundErr)(nil)
var _ errcode.ErrorCode = (*TabletNotFoundErr)(nil)
var _ errcode.ErrorCode = (*ReplicaNotFoundErr)(nil)
var _ errcode.ErrorCode = (*TaskNotFoundErr)(nil)

// TxnNotFoundErr has a Code() of TxnNotFoundCode
type TxnNotFoundErr struct {
	TxnID uint64 `json:"txnId"`
}

func (e TxnNotFoundErr) Error() string {
	return fmt.Sprintf("transaction %d not found", e.TxnID)
}

// Code returns TxnNotFoundCode
func (e TxnNotFoundErr) Code() errcode.Code { return TxnNotFoundCode }

// TxnInvalidStateErr has a Code() of TxnInvalidStateCode
type TxnInvalidStateErr struct {
	TxnID  uint64            `json:"txnId"`
	Status TransactionStatus `json:"status"`
	Op     string            `json:"op"`
}

func (e TxnInvalidStateErr) Error() string {
	return fmt.Sprintf("cannot %s transaction %d in status %s", e.Op, e.TxnID, e.Status)
}

// Code returns TxnInvalidStateCode
func (e TxnInvalidStateErr) Code() errcode.Code { return TxnInvalidStateCode }

// TxnLabelExistsErr has a Code() of TxnLabelExistsCode
type TxnLabelExistsErr struct {
	DBID  uint64 `json:"dbId"`
	Label string `json:"label"`
	TxnID uint64 `json:"txnId"`
}

func (e TxnLabelExistsErr) Error() string {
	return fmt.Sprintf("label %q of db %d is used by transaction %d", e.Label, e.DBID, e.TxnID)
}

// Code returns TxnLabelExistsCode
func (e TxnLabelExistsErr) Code() errcode.Code { return TxnLabelExistsCode }

// NodeErr can be newtyped or embedded in your own error
type NodeErr struct {
	NodeID uint64 `json:"nodeId"`
}

// NodeNotFoundErr has a Code() of NodeNotFoundCode
type NodeNotFoundErr NodeErr

func (e NodeNotFoundErr) Error() string {
	return fmt.Sprintf("node %d not found", e.NodeID)
}

// Code returns NodeNotFoundCode
func (e NodeNotFoundErr) Code() errcode.Code { return NodeNotFoundCode }

// NodeTombstonedErr is an invalid operation was attempted on a node which is in a removed state.
type NodeTombstonedErr NodeErr

func (e NodeTombstonedErr) Error() string {
	return fmt.Sprintf("node %d has been removed", e.NodeID)
}

// Code returns NodeTombstonedCode
func (e NodeTombstonedErr) Code() errcode.Code { return NodeTombstonedCode }

// PartitionNotFoundErr has a Code() of PartitionNotFoundCode
type PartitionNotFoundErr struct {
	PartitionID uint64 `json:"partitionId"`
}

func (e PartitionNotFoundErr) Error() string {
	return fmt.Sprintf("partition %d not found", e.PartitionID)
}

// Code returns PartitionNotFoundCode
func (e PartitionNotFoundErr) Code() errcode.Code { return PartitionNotFoundCode }

// TabletNotFoundErr has a Code() of TabletNotFoundCode
type TabletNotFoundErr struct {
	TabletID uint64 `json:"tabletId"`
}

func (e TabletNotFoundErr) Error() string {
	return fmt.Sprintf("tablet %d not found", e.TabletID)
}

// Code returns TabletNotFoundCode
func (e TabletNotFoundErr) Code() errcode.Code { return TabletNotFoundCode }

// ReplicaNotFoundErr has a Code() of ReplicaNotFoundCode
type ReplicaNotFoundErr struct {
	ReplicaID uint64 `json:"replicaId"`
}

func (e ReplicaNotFoundErr) Error() string {
	return fmt.Sprintf("replica %d not found", e.ReplicaID)
}

// Code returns ReplicaNotFoundCode
func (e ReplicaNotFoundErr) Code() errcode.Code { return ReplicaNotFoundCode }

// TaskNotFoundErr has a Code() of TaskNotFoundCode
type TaskNotFoundErr struct {
	NodeID    uint64 `json:"nodeId"`
	TaskType  string `json:"taskType"`
	Signature uint64 `json:"signature"`
}

func (e TaskNotFoundErr) Error() string {
	return fmt.Sprintf("%s task %d of node %d not found", e.TaskType, e.Signature, e.NodeID)
}

// Code returns TaskNotFoundCode
func (e TaskNotFoundErr) Code() errcode.Code { return TaskNotFoundCode }
