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

package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap-incubator/tinypublish/pkg/daemon"
	"github.com/pingcap-incubator/tinypublish/pkg/logutil"
	"github.com/pingcap-incubator/tinypublish/server/cluster"
	"github.com/pingcap-incubator/tinypublish/server/config"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/index"
	"github.com/pingcap-incubator/tinypublish/server/kv"
	"github.com/pingcap-incubator/tinypublish/server/publish"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap-incubator/tinypublish/server/txn"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrServerNotStarted is error info for server not started.
	ErrServerNotStarted = errors.New("The server has not been started")
)

const (
	txnCleanInterval   = time.Minute
	serverCloseTimeout = 5 * time.Second
)

// HandlerBuilder builds the HTTP handler of the server.
type HandlerBuilder func(s *Server) http.Handler

// Server is the publish server.
type Server struct {
	// Server state.
	isServing int64

	cfg *config.Config

	serverLoopCtx    context.Context
	serverLoopCancel func()

	kvBase   kv.Base
	storage  *core.Storage
	index    *index.TabletInvertedIndex
	cluster  *cluster.Cluster
	txnMgr   *txn.Manager
	queue    *task.Queue
	executor *task.Executor

	publishDaemon *publish.Daemon
	txnCleaner    *daemon.Daemon

	listener   net.Listener
	httpServer *http.Server
	httpWg     sync.WaitGroup

	audit *zap.Logger
	// Zap logger
	lg       *zap.Logger
	logProps *log.ZapProperties
}

// CreateServer creates the publish server with given configuration and
// loads the persisted state. Nothing runs until Run is called.
func CreateServer(cfg *config.Config, builder HandlerBuilder) (*Server, error) {
	log.Info("Publish Config", zap.Reflect("config", cfg))

	s := &Server{
		cfg:      cfg,
		lg:       cfg.GetZapLogger(),
		logProps: cfg.GetZapLogProperties(),
	}

	kvBase, err := kv.New(cfg.StorageEngine, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	s.kvBase = kvBase
	s.storage = core.NewStorage(kvBase)
	if err = s.loadState(); err != nil {
		s.closeStorage()
		return nil, err
	}

	audit, err := logutil.NewAuditLogger(cfg.AuditLogConfig())
	if err != nil {
		s.closeStorage()
		return nil, err
	}
	s.audit = audit

	s.queue = task.NewQueue()
	s.executor = task.NewExecutor(
		task.NewHTTPNodeClient(cfg.Publish.SendTimeout.Duration),
		s.cluster,
		task.ExecutorConfig{
			Concurrency:  cfg.Publish.ExecutorConcurrency,
			NodeSendRate: cfg.Publish.NodeSendRate,
			SendTimeout:  cfg.Publish.SendTimeout.Duration,
		},
	)
	s.publishDaemon = publish.NewDaemon(
		cfg.Publish.PublishVersionInterval.Duration,
		s.txnMgr, s.index, s.cluster, s.queue, s.executor,
		publish.WithAuditLogger(audit),
	)
	s.txnCleaner = daemon.New("txn-cleaner", txnCleanInterval, s.cleanTransactions)

	if builder != nil {
		s.httpServer = &http.Server{Handler: builder(s)}
	}
	return s, nil
}

func (s *Server) loadState() error {
	s.index = index.NewTabletInvertedIndex(s.storage)
	if err := s.index.Load(); err != nil {
		return err
	}
	s.cluster = cluster.NewCluster(s.storage, s.cfg.Node.MaxNodeDownTime.Duration)
	if err := s.cluster.Load(); err != nil {
		return err
	}
	for _, node := range s.cluster.GetNodes() {
		if node.IsTombstone() {
			if err := s.dropNodeReplicas(node.ID); err != nil {
				return err
			}
		}
	}
	s.txnMgr = txn.NewManager(s.storage, s.index, s.cfg.Publish.PublishTimeout.Duration)
	return s.txnMgr.Load()
}

// RemoveNode tombstones a node and forgets the replicas it hosted, so they
// no longer count towards any quorum.
func (s *Server) RemoveNode(nodeID uint64) error {
	if err := s.cluster.RemoveNode(nodeID); err != nil {
		return err
	}
	return s.dropNodeReplicas(nodeID)
}

func (s *Server) dropNodeReplicas(nodeID uint64) error {
	n, err := s.index.DeleteNodeReplicas(nodeID)
	if n > 0 {
		log.Warn("drop replicas of removed node", zap.Uint64("node-id", nodeID), zap.Int("count", n))
	}
	return err
}

func (s *Server) cleanTransactions(ctx context.Context) error {
	if n := s.txnMgr.RemoveExpiredTransactions(s.cfg.Publish.FinishedTxnKeepTime.Duration); n > 0 {
		log.Info("removed expired transactions", zap.Int("count", n))
	}
	return nil
}

// Run starts the task executor, the daemons and the HTTP service.
func (s *Server) Run(ctx context.Context) error {
	if s.httpServer != nil {
		l, err := net.Listen("tcp", s.cfg.ListenAddr())
		if err != nil {
			return errors.WithStack(err)
		}
		s.listener = l
	}

	s.serverLoopCtx, s.serverLoopCancel = context.WithCancel(ctx)
	s.executor.Start(s.serverLoopCtx)
	s.publishDaemon.Start(s.serverLoopCtx)
	s.txnCleaner.Start(s.serverLoopCtx)

	if s.listener != nil {
		s.httpWg.Add(1)
		go s.serveHTTP()
	}

	// Server has started.
	atomic.StoreInt64(&s.isServing, 1)
	log.Info("publish server is serving", zap.String("addr", s.GetAddr()))
	return nil
}

func (s *Server) serveHTTP() {
	defer logutil.LogPanic()
	defer s.httpWg.Done()
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		log.Error("http server exited", zap.Error(err))
	}
}

// Close closes the server.
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt64(&s.isServing, 1, 0) {
		// server is already closed
		return
	}

	log.Info("closing server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverCloseTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error("shutdown http server meet error", zap.Error(err))
		}
		cancel()
		s.httpWg.Wait()
	}

	s.publishDaemon.Stop()
	s.txnCleaner.Stop()
	s.executor.Stop()
	s.serverLoopCancel()

	if err := s.audit.Sync(); err != nil {
		log.Debug("sync audit log meet error", zap.Error(err))
	}
	s.closeStorage()

	log.Info("close server")
}

func (s *Server) closeStorage() {
	if err := kv.Close(s.kvBase); err != nil {
		log.Error("close storage meet error", zap.Error(err))
	}
}

// IsClosed checks whether server is closed or not.
func (s *Server) IsClosed() bool {
	return atomic.LoadInt64(&s.isServing) == 0
}

// Context returns the loop context of server.
func (s *Server) Context() context.Context {
	return s.serverLoopCtx
}

// Name returns the unique name for this server.
func (s *Server) Name() string {
	return s.cfg.Name
}

// GetAddr returns the client url of the server. The listening port is used
// once the server runs.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return s.cfg.ClientUrls
}

// GetConfig gets the config information.
func (s *Server) GetConfig() *config.Config {
	return s.cfg.Clone()
}

// GetTxnManager returns the transaction manager.
func (s *Server) GetTxnManager() *txn.Manager {
	return s.txnMgr
}

// GetIndex returns the tablet inverted index.
func (s *Server) GetIndex() *index.TabletInvertedIndex {
	return s.index
}

// GetCluster returns the node membership.
func (s *Server) GetCluster() *cluster.Cluster {
	return s.cluster
}

// GetTaskQueue returns the outstanding task registry.
func (s *Server) GetTaskQueue() *task.Queue {
	return s.queue
}

// GetPublishDaemon returns the publish version daemon.
func (s *Server) GetPublishDaemon() *publish.Daemon {
	return s.publishDaemon
}

// SetLogLevel sets log level.
func (s *Server) SetLogLevel(level string) {
	s.cfg.Log.Level = level
	log.SetLevel(logutil.StringToZapLogLevel(level))
	log.Warn("log level changed", zap.String("level", log.GetLevel().String()))
}
