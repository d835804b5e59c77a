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

// Package cluster tracks storage node membership from heartbeats.
package cluster

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap/errcode"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Cluster is the membership view of the storage nodes.
type Cluster struct {
	sync.RWMutex
	storage     *core.Storage
	maxDownTime time.Duration
	nodes       map[uint64]*NodeInfo
	now         func() time.Time
}

// NewCluster creates an empty cluster persisted to storage.
func NewCluster(storage *core.Storage, maxDownTime time.Duration) *Cluster {
	return &Cluster{
		storage:     storage,
		maxDownTime: maxDownTime,
		nodes:       make(map[uint64]*NodeInfo),
		now:         time.Now,
	}
}

// Load loads the persisted nodes.
func (c *Cluster) Load() error {
	c.Lock()
	defer c.Unlock()
	start := time.Now()
	err := c.storage.LoadNodes(func(data []byte) (uint64, error) {
		node := &NodeInfo{}
		if err := json.Unmarshal(data, node); err != nil {
			return 0, errors.WithStack(err)
		}
		c.nodes[node.ID] = node
		return node.ID, nil
	})
	if err != nil {
		return err
	}
	log.Info("load nodes",
		zap.Int("count", len(c.nodes)),
		zap.Duration("cost", time.Since(start)),
	)
	return nil
}

// HandleHeartbeat registers a new node or refreshes an existing one.
func (c *Cluster) HandleHeartbeat(nodeID uint64, addr, version string) error {
	if addr == "" {
		return errcode.NewInvalidInputErr(errors.Errorf("node %d: empty address", nodeID))
	}
	if _, err := ParseVersion(version); err != nil {
		return errcode.NewInvalidInputErr(err)
	}

	c.Lock()
	defer c.Unlock()
	old, ok := c.nodes[nodeID]
	if ok && old.IsTombstone() {
		return core.NodeTombstonedErr{NodeID: nodeID}
	}
	node := &NodeInfo{
		ID:            nodeID,
		Addr:          addr,
		Version:       version,
		State:         NodeStateUp,
		LastHeartbeat: c.now(),
	}
	if !ok || old.Addr != addr || old.Version != version {
		log.Info("node info changed",
			zap.Uint64("node-id", nodeID),
			zap.String("addr", addr),
			zap.String("version", version),
		)
	}
	if err := c.storage.SaveNode(nodeID, node); err != nil {
		return err
	}
	c.nodes[nodeID] = node
	return nil
}

// RemoveNode tombstones a node. It is no longer a publish target.
func (c *Cluster) RemoveNode(nodeID uint64) error {
	c.Lock()
	defer c.Unlock()
	old, ok := c.nodes[nodeID]
	if !ok {
		return core.NodeNotFoundErr{NodeID: nodeID}
	}
	if old.IsTombstone() {
		return nil
	}
	node := old.clone()
	node.State = NodeStateTombstone
	if err := c.storage.SaveNode(nodeID, node); err != nil {
		return err
	}
	c.nodes[nodeID] = node
	log.Warn("node has been removed", zap.Uint64("node-id", nodeID))
	return nil
}

// GetNodeIDs returns the sorted ids of the non-tombstone nodes. Nodes without
// recent heartbeats are included only if includeDead is set.
func (c *Cluster) GetNodeIDs(includeDead bool) []uint64 {
	c.RLock()
	defer c.RUnlock()
	now := c.now()
	ids := make([]uint64, 0, len(c.nodes))
	for id, node := range c.nodes {
		if node.IsTombstone() {
			continue
		}
		if !includeDead && node.IsDead(now, c.maxDownTime) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetNode returns a copy of the node.
func (c *Cluster) GetNode(nodeID uint64) (*NodeInfo, error) {
	c.RLock()
	defer c.RUnlock()
	node, ok := c.nodes[nodeID]
	if !ok {
		return nil, core.NodeNotFoundErr{NodeID: nodeID}
	}
	return node.clone(), nil
}

// GetNodes returns all nodes ordered by id, tombstones included.
func (c *Cluster) GetNodes() []*NodeInfo {
	c.RLock()
	defer c.RUnlock()
	nodes := make([]*NodeInfo, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node.clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// IsNodeDead reports whether a node missed its heartbeats.
func (c *Cluster) IsNodeDead(nodeID uint64) bool {
	c.RLock()
	defer c.RUnlock()
	node, ok := c.nodes[nodeID]
	return !ok || node.IsDead(c.now(), c.maxDownTime)
}

// GetClusterVersion returns the smallest version among the up nodes.
func (c *Cluster) GetClusterVersion() semver.Version {
	c.RLock()
	defer c.RUnlock()
	var min *semver.Version
	for _, node := range c.nodes {
		if node.IsTombstone() {
			continue
		}
		v := node.semver()
		if min == nil || v.LessThan(*min) {
			min = v
		}
	}
	if min == nil {
		return *MinSupportedVersion(Base)
	}
	return *min
}
