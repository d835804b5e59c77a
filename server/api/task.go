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
	"strconv"

	"github.com/pingcap-incubator/tinypublish/pkg/apiutil"
	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap/errcode"
	"github.com/pkg/errors"
	"github.com/unrolled/render"
)

// TasksInfo records outstanding tasks' info.
type TasksInfo struct {
	Count int          `json:"count"`
	Tasks []*task.Info `json:"tasks"`
}

type taskHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newTaskHandler(svr *server.Server, rd *render.Render) *taskHandler {
	return &taskHandler{
		svr: svr,
		rd:  rd,
	}
}

// List lists the outstanding publish tasks, of one node if node_id is given.
func (h *taskHandler) List(w http.ResponseWriter, r *http.Request) {
	queue := h.svr.GetTaskQueue()
	var tasks []task.AgentTask
	if str := r.URL.Query().Get("node_id"); str != "" {
		nodeID, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			apiutil.ErrorResp(h.rd, w, errcode.NewInvalidInputErr(errors.Errorf("invalid node id %q", str)))
			return
		}
		tasks = queue.GetTasks(nodeID, task.TypePublishVersion)
	} else {
		tasks = queue.GetAllTasks(task.TypePublishVersion)
	}

	infos := make([]*task.Info, 0, len(tasks))
	for _, t := range tasks {
		if pt, ok := t.(*task.PublishVersionTask); ok {
			infos = append(infos, pt.Info())
		}
	}
	h.rd.JSON(w, http.StatusOK, &TasksInfo{
		Count: len(infos),
		Tasks: infos,
	})
}

// Finish applies a node's completion report.
func (h *taskHandler) Finish(w http.ResponseWriter, r *http.Request) {
	var input task.FinishRequest
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	if input.TaskType == task.TypeUnknown {
		input.TaskType = task.TypePublishVersion
	}
	err := h.svr.GetTaskQueue().FinishTask(input.NodeID, input.TaskType, input.Signature, input.ErrorTabletIDs)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
