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

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinypublish/pkg/apiutil"
	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/index"
	"github.com/pingcap/errcode"
	"github.com/unrolled/render"
)

// PartitionInfo is a partition with its tablets.
type PartitionInfo struct {
	*index.PartitionMeta
	TabletIDs []uint64 `json:"tablet_ids"`
}

// PartitionsInfo records partitions' info.
type PartitionsInfo struct {
	Count      int                    `json:"count"`
	Partitions []*index.PartitionMeta `json:"partitions"`
}

// TabletInfo is a tablet with its replicas.
type TabletInfo struct {
	*index.TabletMeta
	Replicas []*core.Replica `json:"replicas"`
}

// CreateTabletRequest creates a tablet in a partition.
type CreateTabletRequest struct {
	TabletID    uint64 `json:"tablet_id"`
	PartitionID uint64 `json:"partition_id"`
}

// AddReplicaRequest places a replica of a tablet on a node. A zero version
// means the visible version of the partition.
type AddReplicaRequest struct {
	ReplicaID uint64 `json:"replica_id"`
	NodeID    uint64 `json:"node_id"`
	Version   uint64 `json:"version"`
}

type metaHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newMetaHandler(svr *server.Server, rd *render.Render) *metaHandler {
	return &metaHandler{
		svr: svr,
		rd:  rd,
	}
}

// asInvalidInput reports the uncoded catalog errors as bad requests.
func asInvalidInput(err error) error {
	if errcode.CodeChain(err) != nil {
		return err
	}
	return errcode.NewInvalidInputErr(err)
}

func (h *metaHandler) ListPartitions(w http.ResponseWriter, r *http.Request) {
	partitions := h.svr.GetIndex().GetPartitions()
	h.rd.JSON(w, http.StatusOK, &PartitionsInfo{
		Count:      len(partitions),
		Partitions: partitions,
	})
}

func (h *metaHandler) CreatePartition(w http.ResponseWriter, r *http.Request) {
	var input index.PartitionMeta
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	idx := h.svr.GetIndex()
	if err := idx.AddPartition(input); err != nil {
		apiutil.ErrorResp(h.rd, w, asInvalidInput(err))
		return
	}
	p, err := idx.GetPartition(input.ID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, p)
}

func (h *metaHandler) GetPartition(w http.ResponseWriter, r *http.Request) {
	partitionID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	idx := h.svr.GetIndex()
	p, err := idx.GetPartition(partitionID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, &PartitionInfo{
		PartitionMeta: p,
		TabletIDs:     idx.GetTabletIDsByPartition(partitionID),
	})
}

func (h *metaHandler) CreateTablet(w http.ResponseWriter, r *http.Request) {
	var input CreateTabletRequest
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	idx := h.svr.GetIndex()
	if err := idx.AddTablet(input.TabletID, input.PartitionID); err != nil {
		apiutil.ErrorResp(h.rd, w, asInvalidInput(err))
		return
	}
	h.writeTablet(w, input.TabletID)
}

func (h *metaHandler) GetTablet(w http.ResponseWriter, r *http.Request) {
	tabletID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.writeTablet(w, tabletID)
}

func (h *metaHandler) writeTablet(w http.ResponseWriter, tabletID uint64) {
	idx := h.svr.GetIndex()
	meta, err := idx.GetTabletMeta(tabletID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, &TabletInfo{
		TabletMeta: meta,
		Replicas:   idx.GetReplicasByTablet(tabletID),
	})
}

func (h *metaHandler) AddReplica(w http.ResponseWriter, r *http.Request) {
	tabletID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	var input AddReplicaRequest
	if err = apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	replica := &core.Replica{
		ID:       input.ReplicaID,
		TabletID: tabletID,
		NodeID:   input.NodeID,
		Version:  input.Version,
	}
	if err = h.svr.GetIndex().AddReplica(replica); err != nil {
		apiutil.ErrorResp(h.rd, w, asInvalidInput(err))
		return
	}
	h.writeTablet(w, tabletID)
}

func (h *metaHandler) GetReplica(w http.ResponseWriter, r *http.Request) {
	replicaID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	replica, err := h.svr.GetIndex().GetReplicaByID(replicaID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, replica)
}

func (h *metaHandler) DeleteReplica(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tabletID, err := apiutil.ParseUint64VarsField(vars, "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	nodeID, err := apiutil.ParseUint64VarsField(vars, "node_id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	if err = h.svr.GetIndex().DeleteReplica(tabletID, nodeID); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
