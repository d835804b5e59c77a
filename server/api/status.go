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

	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/unrolled/render"
)

// Status is the runtime status of the publish server.
type Status struct {
	Name           string `json:"name"`
	ClusterVersion string `json:"cluster_version"`
	PublishRounds  int64  `json:"publish_rounds"`
	ReadyTxnCount  int    `json:"ready_txn_count"`
	TaskCount      int    `json:"task_count"`
	NodeCount      int    `json:"node_count"`
}

// Version contains the version information of the server.
type Version struct {
	Version   string `json:"version"`
	GitHash   string `json:"git_hash"`
	BuildTime string `json:"build_time"`
}

type statusHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newStatusHandler(svr *server.Server, rd *render.Render) *statusHandler {
	return &statusHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *statusHandler) Get(w http.ResponseWriter, r *http.Request) {
	version := h.svr.GetCluster().GetClusterVersion()
	h.rd.JSON(w, http.StatusOK, &Status{
		Name:           h.svr.Name(),
		ClusterVersion: version.String(),
		PublishRounds:  h.svr.GetPublishDaemon().Rounds(),
		ReadyTxnCount:  len(h.svr.GetTxnManager().GetReadyToPublishTransactions()),
		TaskCount:      h.svr.GetTaskQueue().TaskNum(),
		NodeCount:      len(h.svr.GetCluster().GetNodeIDs(true)),
	})
}

func (h *statusHandler) Version(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, &Version{
		Version:   server.ReleaseVersion,
		GitHash:   server.GitHash,
		BuildTime: server.BuildTS,
	})
}

func (h *statusHandler) Config(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.GetConfig())
}
