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
	"github.com/pingcap-incubator/tinypublish/server/cluster"
	"github.com/unrolled/render"
)

// NodeStatus is a node together with its liveness and tablet count.
type NodeStatus struct {
	*cluster.NodeInfo
	IsDead      bool `json:"is_dead"`
	TabletCount int  `json:"tablet_count"`
}

// NodesInfo records nodes' info.
type NodesInfo struct {
	Count int           `json:"count"`
	Nodes []*NodeStatus `json:"nodes"`
}

// HeartbeatRequest is the heartbeat of a storage node.
type HeartbeatRequest struct {
	Addr    string `json:"addr"`
	Version string `json:"version"`
}

type nodeHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newNodeHandler(svr *server.Server, rd *render.Render) *nodeHandler {
	return &nodeHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *nodeHandler) newNodeStatus(node *cluster.NodeInfo) *NodeStatus {
	return &NodeStatus{
		NodeInfo:    node,
		IsDead:      !node.IsTombstone() && h.svr.GetCluster().IsNodeDead(node.ID),
		TabletCount: len(h.svr.GetIndex().GetTabletIDsByNode(node.ID)),
	}
}

func (h *nodeHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes := h.svr.GetCluster().GetNodes()
	statuses := make([]*NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		statuses = append(statuses, h.newNodeStatus(node))
	}
	h.rd.JSON(w, http.StatusOK, &NodesInfo{
		Count: len(statuses),
		Nodes: statuses,
	})
}

func (h *nodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	nodeID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	node, err := h.svr.GetCluster().GetNode(nodeID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, h.newNodeStatus(node))
}

func (h *nodeHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	var input HeartbeatRequest
	if err = apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	if err = h.svr.GetCluster().HandleHeartbeat(nodeID, input.Addr, input.Version); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

func (h *nodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	nodeID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	if err = h.svr.RemoveNode(nodeID); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
