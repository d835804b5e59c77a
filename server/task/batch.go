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

import "sort"

// BatchTask groups the tasks of one submission by node.
type BatchTask struct {
	tasks map[uint64][]AgentTask
	num   int
}

// NewBatchTask creates an empty batch.
func NewBatchTask() *BatchTask {
	return &BatchTask{tasks: make(map[uint64][]AgentTask)}
}

// AddTask appends a task to its node's slice.
func (b *BatchTask) AddTask(t AgentTask) {
	b.tasks[t.NodeID()] = append(b.tasks[t.NodeID()], t)
	b.num++
}

// NodeIDs returns the nodes of the batch in ascending order.
func (b *BatchTask) NodeIDs() []uint64 {
	ids := make([]uint64, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Tasks returns the tasks of a node in insertion order.
func (b *BatchTask) Tasks(nodeID uint64) []AgentTask {
	return b.tasks[nodeID]
}

// TaskNum returns the number of tasks in the batch.
func (b *BatchTask) TaskNum() int {
	return b.num
}
