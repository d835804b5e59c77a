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

// Package index keeps the catalog of partitions, tablets and replicas and the
// inverted index from nodes to the tablets they host.
package index

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pkg/errors"
)

const (
	partitionKind = "partition"
	tabletKind    = "tablet"
	replicaKind   = "replica"
)

// InitialVisibleVersion is the visible version of a new empty partition.
const InitialVisibleVersion uint64 = 1

// PartitionMeta is the version state of a partition.
type PartitionMeta struct {
	ID             uint64 `json:"id"`
	TableID        uint64 `json:"table_id"`
	DBID           uint64 `json:"db_id"`
	ReplicationNum int    `json:"replication_num"`
	VisibleVersion uint64 `json:"visible_version"`
	// NextVersion is the version the next committed transaction gets.
	NextVersion uint64 `json:"next_version"`
}

// Quorum returns the number of healthy replicas a tablet needs to make a
// version visible.
func (p *PartitionMeta) Quorum() int {
	return p.ReplicationNum/2 + 1
}

// TabletMeta locates a tablet in the catalog.
type TabletMeta struct {
	TabletID    uint64 `json:"tablet_id"`
	PartitionID uint64 `json:"partition_id"`
	TableID     uint64 `json:"table_id"`
	DBID        uint64 `json:"db_id"`
}

// TabletInvertedIndex is the location index. All methods are safe for
// concurrent use and return copies.
type TabletInvertedIndex struct {
	sync.RWMutex
	storage *core.Storage

	partitions map[uint64]*PartitionMeta
	tablets    map[uint64]*TabletMeta
	// tabletID -> nodeID -> replica
	replicas         map[uint64]map[uint64]*core.Replica
	replicaByID      map[uint64]*core.Replica
	nodeTablets      map[uint64]map[uint64]struct{}
	partitionTablets map[uint64]map[uint64]struct{}
}

// NewTabletInvertedIndex creates an empty index persisted to storage.
func NewTabletInvertedIndex(storage *core.Storage) *TabletInvertedIndex {
	return &TabletInvertedIndex{
		storage:          storage,
		partitions:       make(map[uint64]*PartitionMeta),
		tablets:          make(map[uint64]*TabletMeta),
		replicas:         make(map[uint64]map[uint64]*core.Replica),
		replicaByID:      make(map[uint64]*core.Replica),
		nodeTablets:      make(map[uint64]map[uint64]struct{}),
		partitionTablets: make(map[uint64]map[uint64]struct{}),
	}
}

// Load rebuilds the index from storage.
func (idx *TabletInvertedIndex) Load() error {
	idx.Lock()
	defer idx.Unlock()
	err := idx.storage.LoadMetas(partitionKind, func(data []byte) (uint64, error) {
		p := &PartitionMeta{}
		if err := json.Unmarshal(data, p); err != nil {
			return 0, errors.WithStack(err)
		}
		idx.partitions[p.ID] = p
		return p.ID, nil
	})
	if err != nil {
		return err
	}
	err = idx.storage.LoadMetas(tabletKind, func(data []byte) (uint64, error) {
		t := &TabletMeta{}
		if err := json.Unmarshal(data, t); err != nil {
			return 0, errors.WithStack(err)
		}
		idx.putTablet(t)
		return t.TabletID, nil
	})
	if err != nil {
		return err
	}
	return idx.storage.LoadMetas(replicaKind, func(data []byte) (uint64, error) {
		r := &core.Replica{}
		if err := json.Unmarshal(data, r); err != nil {
			return 0, errors.WithStack(err)
		}
		idx.putReplica(r)
		return r.ID, nil
	})
}

// AddPartition registers a partition.
func (idx *TabletInvertedIndex) AddPartition(meta PartitionMeta) error {
	if meta.ReplicationNum <= 0 {
		return errors.Errorf("partition %d: invalid replication num %d", meta.ID, meta.ReplicationNum)
	}
	if meta.VisibleVersion == 0 {
		meta.VisibleVersion = InitialVisibleVersion
	}
	if meta.NextVersion <= meta.VisibleVersion {
		meta.NextVersion = meta.VisibleVersion + 1
	}

	idx.Lock()
	defer idx.Unlock()
	if _, ok := idx.partitions[meta.ID]; ok {
		return errors.Errorf("partition %d already exists", meta.ID)
	}
	if err := idx.storage.SaveMeta(partitionKind, meta.ID, &meta); err != nil {
		return err
	}
	idx.partitions[meta.ID] = &meta
	return nil
}

// GetPartition returns a copy of the partition meta.
func (idx *TabletInvertedIndex) GetPartition(partitionID uint64) (*PartitionMeta, error) {
	idx.RLock()
	defer idx.RUnlock()
	p, ok := idx.partitions[partitionID]
	if !ok {
		return nil, core.PartitionNotFoundErr{PartitionID: partitionID}
	}
	meta := *p
	return &meta, nil
}

// GetPartitions returns all partitions ordered by id.
func (idx *TabletInvertedIndex) GetPartitions() []*PartitionMeta {
	idx.RLock()
	defer idx.RUnlock()
	res := make([]*PartitionMeta, 0, len(idx.partitions))
	for _, p := range idx.partitions {
		meta := *p
		res = append(res, &meta)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddTablet registers a tablet of an existing partition.
func (idx *TabletInvertedIndex) AddTablet(tabletID, partitionID uint64) error {
	idx.Lock()
	defer idx.Unlock()
	p, ok := idx.partitions[partitionID]
	if !ok {
		return core.PartitionNotFoundErr{PartitionID: partitionID}
	}
	if _, ok := idx.tablets[tabletID]; ok {
		return errors.Errorf("tablet %d already exists", tabletID)
	}
	t := &TabletMeta{
		TabletID:    tabletID,
		PartitionID: partitionID,
		TableID:     p.TableID,
		DBID:        p.DBID,
	}
	if err := idx.storage.SaveMeta(tabletKind, tabletID, t); err != nil {
		return err
	}
	idx.putTablet(t)
	return nil
}

func (idx *TabletInvertedIndex) putTablet(t *TabletMeta) {
	idx.tablets[t.TabletID] = t
	tablets, ok := idx.partitionTablets[t.PartitionID]
	if !ok {
		tablets = make(map[uint64]struct{})
		idx.partitionTablets[t.PartitionID] = tablets
	}
	tablets[t.TabletID] = struct{}{}
}

// GetTabletMeta returns a copy of the tablet meta.
func (idx *TabletInvertedIndex) GetTabletMeta(tabletID uint64) (*TabletMeta, error) {
	idx.RLock()
	defer idx.RUnlock()
	t, ok := idx.tablets[tabletID]
	if !ok {
		return nil, core.TabletNotFoundErr{TabletID: tabletID}
	}
	meta := *t
	return &meta, nil
}

// AddReplica places a replica of an existing tablet on a node. A zero
// Version defaults to the partition's visible version.
func (idx *TabletInvertedIndex) AddReplica(replica *core.Replica) error {
	idx.Lock()
	defer idx.Unlock()
	t, ok := idx.tablets[replica.TabletID]
	if !ok {
		return core.TabletNotFoundErr{TabletID: replica.TabletID}
	}
	if _, ok := idx.replicaByID[replica.ID]; ok {
		return errors.Errorf("replica %d already exists", replica.ID)
	}
	if _, ok := idx.replicas[replica.TabletID][replica.NodeID]; ok {
		return errors.Errorf("tablet %d already has a replica on node %d", replica.TabletID, replica.NodeID)
	}
	r := replica.Clone()
	if r.Version == 0 {
		r.Version = idx.partitions[t.PartitionID].VisibleVersion
	}
	if err := idx.storage.SaveMeta(replicaKind, r.ID, r); err != nil {
		return err
	}
	idx.putReplica(r)
	return nil
}

func (idx *TabletInvertedIndex) putReplica(r *core.Replica) {
	byNode, ok := idx.replicas[r.TabletID]
	if !ok {
		byNode = make(map[uint64]*core.Replica)
		idx.replicas[r.TabletID] = byNode
	}
	byNode[r.NodeID] = r
	idx.replicaByID[r.ID] = r
	tablets, ok := idx.nodeTablets[r.NodeID]
	if !ok {
		tablets = make(map[uint64]struct{})
		idx.nodeTablets[r.NodeID] = tablets
	}
	tablets[r.TabletID] = struct{}{}
}

// DeleteReplica removes the replica of a tablet on a node, if any.
func (idx *TabletInvertedIndex) DeleteReplica(tabletID, nodeID uint64) error {
	idx.Lock()
	defer idx.Unlock()
	r, ok := idx.replicas[tabletID][nodeID]
	if !ok {
		return nil
	}
	return idx.removeReplica(r)
}

// DeleteNodeReplicas removes every replica hosted by a node and returns how
// many were removed.
func (idx *TabletInvertedIndex) DeleteNodeReplicas(nodeID uint64) (int, error) {
	idx.Lock()
	defer idx.Unlock()
	removed := 0
	for _, tabletID := range sortedIDs(idx.nodeTablets[nodeID]) {
		if err := idx.removeReplica(idx.replicas[tabletID][nodeID]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (idx *TabletInvertedIndex) removeReplica(r *core.Replica) error {
	if err := idx.storage.DeleteMeta(replicaKind, r.ID); err != nil {
		return err
	}
	delete(idx.replicas[r.TabletID], r.NodeID)
	if len(idx.replicas[r.TabletID]) == 0 {
		delete(idx.replicas, r.TabletID)
	}
	delete(idx.replicaByID, r.ID)
	delete(idx.nodeTablets[r.NodeID], r.TabletID)
	if len(idx.nodeTablets[r.NodeID]) == 0 {
		delete(idx.nodeTablets, r.NodeID)
	}
	return nil
}

// GetReplica returns the replica of tabletID on nodeID, nil if none.
func (idx *TabletInvertedIndex) GetReplica(tabletID, nodeID uint64) *core.Replica {
	idx.RLock()
	defer idx.RUnlock()
	r, ok := idx.replicas[tabletID][nodeID]
	if !ok {
		return nil
	}
	return r.Clone()
}

// GetReplicaByID returns the replica with the given id.
func (idx *TabletInvertedIndex) GetReplicaByID(replicaID uint64) (*core.Replica, error) {
	idx.RLock()
	defer idx.RUnlock()
	r, ok := idx.replicaByID[replicaID]
	if !ok {
		return nil, core.ReplicaNotFoundErr{ReplicaID: replicaID}
	}
	return r.Clone(), nil
}

// GetReplicasByTablet returns the replicas of a tablet ordered by node id.
func (idx *TabletInvertedIndex) GetReplicasByTablet(tabletID uint64) []*core.Replica {
	idx.RLock()
	defer idx.RUnlock()
	byNode := idx.replicas[tabletID]
	res := make([]*core.Replica, 0, len(byNode))
	for _, r := range byNode {
		res = append(res, r.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].NodeID < res[j].NodeID })
	return res
}

// GetTabletIDsByNode returns the sorted ids of the tablets hosted by a node.
func (idx *TabletInvertedIndex) GetTabletIDsByNode(nodeID uint64) []uint64 {
	idx.RLock()
	defer idx.RUnlock()
	return sortedIDs(idx.nodeTablets[nodeID])
}

// GetTabletIDsByPartition returns the sorted ids of a partition's tablets.
func (idx *TabletInvertedIndex) GetTabletIDsByPartition(partitionID uint64) []uint64 {
	idx.RLock()
	defer idx.RUnlock()
	return sortedIDs(idx.partitionTablets[partitionID])
}

// GetPartitionID returns the partition owning a tablet.
func (idx *TabletInvertedIndex) GetPartitionID(tabletID uint64) (uint64, bool) {
	idx.RLock()
	defer idx.RUnlock()
	t, ok := idx.tablets[tabletID]
	if !ok {
		return 0, false
	}
	return t.PartitionID, true
}

// AllocateNextVersion hands out the next version of a partition.
func (idx *TabletInvertedIndex) AllocateNextVersion(partitionID uint64) (uint64, error) {
	idx.Lock()
	defer idx.Unlock()
	p, ok := idx.partitions[partitionID]
	if !ok {
		return 0, core.PartitionNotFoundErr{PartitionID: partitionID}
	}
	meta := *p
	meta.NextVersion++
	if err := idx.storage.SaveMeta(partitionKind, partitionID, &meta); err != nil {
		return 0, err
	}
	*p = meta
	return meta.NextVersion - 1, nil
}

// PartitionPublish is the outcome of publishing one version of a partition.
// Replicas in FailedReplicaIDs missed Version, the others applied it.
type PartitionPublish struct {
	PartitionID      uint64
	Version          uint64
	FailedReplicaIDs map[uint64]struct{}
}

// PublishVersions makes each version visible and records it on every replica
// of the partition. All changes are written in one batch, nothing changes
// when the write fails.
func (idx *TabletInvertedIndex) PublishVersions(pubs []PartitionPublish) error {
	idx.Lock()
	defer idx.Unlock()
	batch := core.NewMetaBatch()
	partitions := make(map[uint64]PartitionMeta, len(pubs))
	replicas := make(map[uint64]*core.Replica)
	for _, pub := range pubs {
		p, ok := idx.partitions[pub.PartitionID]
		if !ok {
			return core.PartitionNotFoundErr{PartitionID: pub.PartitionID}
		}
		if _, ok := partitions[p.ID]; ok {
			return errors.Errorf("partition %d is published twice", p.ID)
		}
		if pub.Version <= p.VisibleVersion {
			return errors.Errorf("partition %d: visible version %d cannot move back to %d", p.ID, p.VisibleVersion, pub.Version)
		}
		meta := *p
		meta.VisibleVersion = pub.Version
		if meta.NextVersion <= pub.Version {
			meta.NextVersion = pub.Version + 1
		}
		if err := batch.Put(partitionKind, meta.ID, &meta); err != nil {
			return err
		}
		partitions[meta.ID] = meta

		for tabletID := range idx.partitionTablets[meta.ID] {
			for _, r := range idx.replicas[tabletID] {
				replica := r.Clone()
				if _, failed := pub.FailedReplicaIDs[r.ID]; failed {
					if pub.Version > replica.LastFailedVersion {
						replica.LastFailedVersion = pub.Version
					}
				} else if pub.Version > replica.Version {
					replica.Version = pub.Version
				}
				if err := batch.Put(replicaKind, replica.ID, replica); err != nil {
					return err
				}
				replicas[replica.ID] = replica
			}
		}
	}
	if err := idx.storage.SaveMetaBatch(batch); err != nil {
		return err
	}
	for id, meta := range partitions {
		*idx.partitions[id] = meta
	}
	for id, replica := range replicas {
		*idx.replicaByID[id] = *replica
	}
	return nil
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
