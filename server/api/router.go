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
	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

const apiPrefix = "/publish"

// NewHandler creates the HTTP handler of the publish server. The API is
// served under /publish/api/v1 and the prometheus metrics under /metrics.
func NewHandler(svr *server.Server) http.Handler {
	engine := negroni.New()
	recovery := negroni.NewRecovery()
	recovery.PrintStack = false
	engine.Use(recovery)

	router := mux.NewRouter()
	router.PathPrefix(apiPrefix).Handler(negroni.New(
		negroni.Wrap(createRouter(apiPrefix, svr)),
	))
	router.Handle("/metrics", promhttp.Handler())

	engine.UseHandler(router)
	return engine
}

func createRouter(prefix string, svr *server.Server) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	rootRouter := mux.NewRouter().PathPrefix(prefix).Subrouter()
	router := rootRouter.PathPrefix("/api/v1").Subrouter()

	txnHandler := newTransactionHandler(svr, rd)
	router.HandleFunc("/transactions", txnHandler.List).Methods("GET")
	router.HandleFunc("/transactions", txnHandler.Begin).Methods("POST")
	router.HandleFunc("/transactions/ready", txnHandler.ListReady).Methods("GET")
	router.HandleFunc("/transaction/{id}", txnHandler.Get).Methods("GET")
	router.HandleFunc("/transaction/{id}/commit", txnHandler.Commit).Methods("POST")
	router.HandleFunc("/transaction/{id}/abort", txnHandler.Abort).Methods("POST")

	taskHandler := newTaskHandler(svr, rd)
	router.HandleFunc("/tasks", taskHandler.List).Methods("GET")
	router.HandleFunc("/tasks/finish", taskHandler.Finish).Methods("POST")

	nodeHandler := newNodeHandler(svr, rd)
	router.HandleFunc("/nodes", nodeHandler.List).Methods("GET")
	router.HandleFunc("/node/{id}", nodeHandler.Get).Methods("GET")
	router.HandleFunc("/node/{id}", nodeHandler.Delete).Methods("DELETE")
	router.HandleFunc("/node/{id}/heartbeat", nodeHandler.Heartbeat).Methods("POST")

	metaHandler := newMetaHandler(svr, rd)
	router.HandleFunc("/partitions", metaHandler.ListPartitions).Methods("GET")
	router.HandleFunc("/partitions", metaHandler.CreatePartition).Methods("POST")
	router.HandleFunc("/partition/{id}", metaHandler.GetPartition).Methods("GET")
	router.HandleFunc("/tablets", metaHandler.CreateTablet).Methods("POST")
	router.HandleFunc("/tablet/{id}", metaHandler.GetTablet).Methods("GET")
	router.HandleFunc("/tablet/{id}/replicas", metaHandler.AddReplica).Methods("POST")
	router.HandleFunc("/tablet/{id}/replica/{node_id}", metaHandler.DeleteReplica).Methods("DELETE")
	router.HandleFunc("/replica/{id}", metaHandler.GetReplica).Methods("GET")

	statusHandler := newStatusHandler(svr, rd)
	router.HandleFunc("/status", statusHandler.Get).Methods("GET")
	router.HandleFunc("/version", statusHandler.Version).Methods("GET")
	router.HandleFunc("/config", statusHandler.Config).Methods("GET")
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")

	logHandler := newLogHandler(svr, rd)
	router.HandleFunc("/admin/log", logHandler.Handle).Methods("POST")

	return rootRouter
}
