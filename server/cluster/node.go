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

package cluster

import (
	"time"

	"github.com/coreos/go-semver/semver"
)

// NodeState is the membership state of a node.
type NodeState string

// Node states. A tombstone node never comes back.
const (
	NodeStateUp        NodeState = "Up"
	NodeStateTombstone NodeState = "Tombstone"
)

// NodeInfo is a storage node known to the cluster.
type NodeInfo struct {
	ID            uint64    `json:"id"`
	Addr          string    `json:"addr"`
	Version       string    `json:"version"`
	State         NodeState `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// IsTombstone checks if the node was removed.
func (n *NodeInfo) IsTombstone() bool {
	return n.State == NodeStateTombstone
}

// IsDead returns true if the node missed heartbeats for longer than
// maxDownTime.
func (n *NodeInfo) IsDead(now time.Time, maxDownTime time.Duration) bool {
	return now.Sub(n.LastHeartbeat) > maxDownTime
}

// Supports checks the node version against the feature's minimum version.
func (n *NodeInfo) Supports(f Feature) bool {
	v, err := ParseVersion(n.Version)
	if err != nil {
		return false
	}
	return !v.LessThan(*MinSupportedVersion(f))
}

func (n *NodeInfo) clone() *NodeInfo {
	node := *n
	return &node
}

func (n *NodeInfo) semver() *semver.Version {
	v, err := ParseVersion(n.Version)
	if err != nil {
		return MinSupportedVersion(Base)
	}
	return v
}
