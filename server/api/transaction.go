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
	"github.com/pingcap-incubator/tinypublish/pkg/typeutil"
	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/txn"
	"github.com/pingcap/errcode"
	"github.com/unrolled/render"
)

// TransactionsInfo records transactions' info.
type TransactionsInfo struct {
	Count        int         `json:"count"`
	Transactions []*txn.Info `json:"transactions"`
}

// BeginRequest starts a transaction.
type BeginRequest struct {
	DBID  uint64 `json:"db_id"`
	Label string `json:"label"`
	// Timeout is the publish timeout, empty means the server default.
	Timeout typeutil.Duration `json:"timeout"`
}

// CommitRequest commits a transaction on the partitions of each table.
type CommitRequest struct {
	Tables map[uint64][]uint64 `json:"tables"`
}

// AbortRequest aborts a transaction.
type AbortRequest struct {
	Reason string `json:"reason"`
}

type transactionHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newTransactionHandler(svr *server.Server, rd *render.Render) *transactionHandler {
	return &transactionHandler{
		svr: svr,
		rd:  rd,
	}
}

func newTransactionsInfo(txns []*txn.TransactionState) *TransactionsInfo {
	infos := make([]*txn.Info, 0, len(txns))
	for _, t := range txns {
		infos = append(infos, t.Info())
	}
	return &TransactionsInfo{
		Count:        len(infos),
		Transactions: infos,
	}
}

func (h *transactionHandler) List(w http.ResponseWriter, r *http.Request) {
	status := core.TransactionStatusUnknown
	if name := r.URL.Query().Get("status"); name != "" {
		var err error
		status, err = core.ParseTransactionStatus(name)
		if err != nil {
			apiutil.ErrorResp(h.rd, w, errcode.NewInvalidInputErr(err))
			return
		}
	}
	txns := h.svr.GetTxnManager().GetTransactions(status)
	h.rd.JSON(w, http.StatusOK, newTransactionsInfo(txns))
}

func (h *transactionHandler) ListReady(w http.ResponseWriter, r *http.Request) {
	txns := h.svr.GetTxnManager().GetReadyToPublishTransactions()
	h.rd.JSON(w, http.StatusOK, newTransactionsInfo(txns))
}

func (h *transactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	txnID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	t, err := h.svr.GetTxnManager().GetTransaction(txnID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, t.Info())
}

func (h *transactionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var input BeginRequest
	if err := apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	t, err := h.svr.GetTxnManager().BeginTransaction(input.DBID, input.Label, input.Timeout.Duration)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, t.Info())
}

func (h *transactionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	txnID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	var input CommitRequest
	if err = apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	mgr := h.svr.GetTxnManager()
	if err = mgr.CommitTransaction(txnID, input.Tables); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	t, err := mgr.GetTransaction(txnID)
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, t.Info())
}

func (h *transactionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	txnID, err := apiutil.ParseUint64VarsField(mux.Vars(r), "id")
	if err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	var input AbortRequest
	if err = apiutil.ReadJSONRespondError(h.rd, w, r.Body, &input); err != nil {
		return
	}
	if err = h.svr.GetTxnManager().AbortTransaction(txnID, input.Reason); err != nil {
		apiutil.ErrorResp(h.rd, w, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
