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

package core

import "sort"

// PartitionCommitInfo is the version a transaction commits to a partition.
// VersionHash is an opaque fingerprint carried to the nodes as is.
type PartitionCommitInfo struct {
	PartitionID uint64 `json:"partition_id"`
	Version     uint64 `json:"version"`
	VersionHash int64  `json:"version_hash"`
}

// TableCommitInfo groups the partition commit infos of one table.
type TableCommitInfo struct {
	TableID    uint64                          `json:"table_id"`
	Partitions map[uint64]*PartitionCommitInfo `json:"partitions"`
}

// NewTableCommitInfo creates an empty TableCommitInfo.
func NewTableCommitInfo(tableID uint64) *TableCommitInfo {
	return &TableCommitInfo{
		TableID:    tableID,
		Partitions: make(map[uint64]*PartitionCommitInfo),
	}
}

// AddPartitionCommitInfo adds or replaces the commit info of a partition.
func (t *TableCommitInfo) AddPartitionCommitInfo(info *PartitionCommitInfo) {
	t.Partitions[info.PartitionID] = info
}

// PartitionVersionInfo is the (partition, version, hash) triple a node must
// make visible.
type PartitionVersionInfo struct {
	PartitionID uint64 `json:"partition_id"`
	Version     uint64 `json:"version"`
	VersionHash int64  `json:"version_hash"`
}

// FlattenCommitInfos flattens the per table commit infos into version infos,
// ordered by table id then partition id.
func FlattenCommitInfos(tables map[uint64]*TableCommitInfo) []PartitionVersionInfo {
	tableIDs := make([]uint64, 0, len(tables))
	for id := range tables {
		tableIDs = append(tableIDs, id)
	}
	sort.Slice(tableIDs, func(i, j int) bool { return tableIDs[i] < tableIDs[j] })

	var infos []PartitionVersionInfo
	for _, tableID := range tableIDs {
		table := tables[tableID]
		partitionIDs := make([]uint64, 0, len(table.Partitions))
		for id := range table.Partitions {
			partitionIDs = append(partitionIDs, id)
		}
		sort.Slice(partitionIDs, func(i, j int) bool { return partitionIDs[i] < partitionIDs[j] })
		for _, partitionID := range partitionIDs {
			info := table.Partitions[partitionID]
			infos = append(infos, PartitionVersionInfo{
				PartitionID: info.PartitionID,
				Version:     info.Version,
				VersionHash: info.VersionHash,
			})
		}
	}
	return infos
}
