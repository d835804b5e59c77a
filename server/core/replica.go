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

// Replica is one copy of a tablet on a node.
type Replica struct {
	ID       uint64 `json:"id"`
	TabletID uint64 `json:"tablet_id"`
	NodeID   uint64 `json:"node_id"`
	// Version is the last version the replica is known to have applied.
	Version uint64 `json:"version"`
	// LastFailedVersion is the newest version the replica failed to apply,
	// 0 if none. A replica with LastFailedVersion > Version needs repair.
	LastFailedVersion uint64 `json:"last_failed_version"`
}

// Clone returns a copy of the replica.
func (r *Replica) Clone() *Replica {
	replica := *r
	return &replica
}

// NeedRepair returns true if the replica missed a version.
func (r *Replica) NeedRepair() bool {
	return r.LastFailedVersion > r.Version
}
