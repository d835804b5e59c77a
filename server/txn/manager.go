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

// Package txn manages load transactions from begin to visible.
package txn

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/index"
	"github.com/pingcap/errcode"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type labelKey struct {
	dbID  uint64
	label string
}

// Manager owns the transactions. FinishTransaction is the only way a
// transaction becomes VISIBLE.
type Manager struct {
	sync.RWMutex
	storage        *core.Storage
	index          *index.TabletInvertedIndex
	defaultTimeout time.Duration

	txns   map[uint64]*TransactionState
	labels map[labelKey]uint64
	nextID uint64

	now  func() time.Time
	rand *rand.Rand
}

// NewManager creates a Manager. defaultTimeout is the publish timeout of a
// transaction that does not ask for one.
func NewManager(storage *core.Storage, idx *index.TabletInvertedIndex, defaultTimeout time.Duration) *Manager {
	return &Manager{
		storage:        storage,
		index:          idx,
		defaultTimeout: defaultTimeout,
		txns:           make(map[uint64]*TransactionState),
		labels:         make(map[labelKey]uint64),
		nextID:         1,
		now:            time.Now,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load restores the stored transactions.
func (m *Manager) Load() error {
	m.Lock()
	defer m.Unlock()
	err := m.storage.LoadTransactions(func(data []byte) (uint64, error) {
		info := &Info{}
		if err := json.Unmarshal(data, info); err != nil {
			return 0, errors.WithStack(err)
		}
		txn := newTransactionStateFromInfo(info)
		m.txns[txn.ID()] = txn
		if txn.Status() != core.TransactionStatusAborted {
			m.labels[labelKey{txn.DBID(), txn.Label()}] = txn.ID()
		}
		if txn.ID() >= m.nextID {
			m.nextID = txn.ID() + 1
		}
		return txn.ID(), nil
	})
	if err != nil {
		return err
	}
	log.Info("load transactions", zap.Int("count", len(m.txns)), zap.Uint64("next-id", m.nextID))
	return nil
}

// BeginTransaction starts a transaction. A non-positive timeout means the
// default publish timeout.
func (m *Manager) BeginTransaction(dbID uint64, label string, timeout time.Duration) (*TransactionState, error) {
	if label == "" {
		return nil, errcode.NewInvalidInputErr(errors.New("empty transaction label"))
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.Lock()
	defer m.Unlock()
	key := labelKey{dbID, label}
	if id, ok := m.labels[key]; ok {
		return nil, core.TxnLabelExistsErr{DBID: dbID, Label: label, TxnID: id}
	}
	txn := newTransactionState(m.nextID, dbID, label, timeout, m.now())
	if err := m.save(txn); err != nil {
		return nil, err
	}
	m.nextID++
	m.txns[txn.ID()] = txn
	m.labels[key] = txn.ID()
	txnCounter.WithLabelValues("begin").Inc()
	log.Info("begin transaction",
		zap.Uint64("txn-id", txn.ID()),
		zap.Uint64("db-id", dbID),
		zap.String("label", label),
		zap.Duration("timeout", timeout))
	return txn, nil
}

// CommitTransaction commits a prepared transaction on the given partitions,
// grouped by table. Each partition gets its next version.
func (m *Manager) CommitTransaction(txnID uint64, tablePartitions map[uint64][]uint64) error {
	if len(tablePartitions) == 0 {
		return errcode.NewInvalidInputErr(errors.Errorf("transaction %d commits no partition", txnID))
	}

	m.Lock()
	defer m.Unlock()
	txn, ok := m.txns[txnID]
	if !ok {
		return core.TxnNotFoundErr{TxnID: txnID}
	}
	if txn.Status() != core.TransactionStatusPrepare {
		return core.TxnInvalidStateErr{TxnID: txnID, Status: txn.Status(), Op: "commit"}
	}
	seen := make(map[uint64]struct{})
	for tableID, partitionIDs := range tablePartitions {
		for _, partitionID := range partitionIDs {
			if _, ok := seen[partitionID]; ok {
				return errcode.NewInvalidInputErr(errors.Errorf(
					"transaction %d commits partition %d more than once", txnID, partitionID))
			}
			seen[partitionID] = struct{}{}
			p, err := m.index.GetPartition(partitionID)
			if err != nil {
				return err
			}
			if p.TableID != tableID || p.DBID != txn.DBID() {
				return errcode.NewInvalidInputErr(errors.Errorf(
					"partition %d belongs to table %d of db %d", partitionID, p.TableID, p.DBID))
			}
		}
	}

	commitInfos := make(map[uint64]*core.TableCommitInfo, len(tablePartitions))
	for tableID, partitionIDs := range tablePartitions {
		table := core.NewTableCommitInfo(tableID)
		for _, partitionID := range partitionIDs {
			version, err := m.index.AllocateNextVersion(partitionID)
			if err != nil {
				return err
			}
			table.AddPartitionCommitInfo(&core.PartitionCommitInfo{
				PartitionID: partitionID,
				Version:     version,
				VersionHash: m.rand.Int63(),
			})
		}
		commitInfos[tableID] = table
	}

	txn.mu.Lock()
	txn.commitInfos = commitInfos
	txn.commitTime = m.now()
	txn.mu.Unlock()
	txn.setStatus(core.TransactionStatusCommitted)
	if err := m.save(txn); err != nil {
		return err
	}
	txnCounter.WithLabelValues("commit").Inc()
	log.Info("commit transaction",
		zap.Uint64("txn-id", txnID),
		zap.Reflect("partitions", core.FlattenCommitInfos(commitInfos)))
	return nil
}

// AbortTransaction aborts a prepared transaction and frees its label.
func (m *Manager) AbortTransaction(txnID uint64, reason string) error {
	m.Lock()
	defer m.Unlock()
	txn, ok := m.txns[txnID]
	if !ok {
		return core.TxnNotFoundErr{TxnID: txnID}
	}
	if txn.Status() != core.TransactionStatusPrepare {
		return core.TxnInvalidStateErr{TxnID: txnID, Status: txn.Status(), Op: "abort"}
	}
	txn.mu.Lock()
	txn.finishTime = m.now()
	txn.reason = reason
	txn.mu.Unlock()
	txn.setStatus(core.TransactionStatusAborted)
	if err := m.save(txn); err != nil {
		return err
	}
	delete(m.labels, labelKey{txn.DBID(), txn.Label()})
	txnCounter.WithLabelValues("abort").Inc()
	log.Info("abort transaction", zap.Uint64("txn-id", txnID), zap.String("reason", reason))
	return nil
}

// GetTransaction returns a transaction.
func (m *Manager) GetTransaction(txnID uint64) (*TransactionState, error) {
	m.RLock()
	defer m.RUnlock()
	txn, ok := m.txns[txnID]
	if !ok {
		return nil, core.TxnNotFoundErr{TxnID: txnID}
	}
	return txn, nil
}

// GetTransactions returns the transactions in status ordered by id. Unknown
// status means all.
func (m *Manager) GetTransactions(status core.TransactionStatus) []*TransactionState {
	m.RLock()
	defer m.RUnlock()
	var res []*TransactionState
	for _, txn := range m.txns {
		if status == core.TransactionStatusUnknown || txn.Status() == status {
			res = append(res, txn)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// GetReadyToPublishTransactions returns every COMMITTED transaction,
// dispatched or not, ordered by commit time then id.
func (m *Manager) GetReadyToPublishTransactions() []*TransactionState {
	res := m.GetTransactions(core.TransactionStatusCommitted)
	sort.SliceStable(res, func(i, j int) bool {
		ci, cj := res[i].CommitTime(), res[j].CommitTime()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return res[i].ID() < res[j].ID()
	})
	return res
}

// FinishTransaction tries to make a committed transaction visible with the
// given replicas marked failed. It leaves the transaction COMMITTED, without
// an error, when a partition's previous version is not visible yet or when a
// tablet would be left without a quorum of healthy replicas.
func (m *Manager) FinishTransaction(txnID uint64, errorReplicaIDs map[uint64]struct{}) error {
	m.Lock()
	defer m.Unlock()
	txn, ok := m.txns[txnID]
	if !ok {
		return core.TxnNotFoundErr{TxnID: txnID}
	}
	if txn.Status() != core.TransactionStatusCommitted {
		return core.TxnInvalidStateErr{TxnID: txnID, Status: txn.Status(), Op: "finish"}
	}

	infos := core.FlattenCommitInfos(txn.CommitInfos())
	pubs := make([]index.PartitionPublish, 0, len(infos))
	failed := make([]uint64, 0, len(errorReplicaIDs))
	for _, info := range infos {
		p, err := m.index.GetPartition(info.PartitionID)
		if err != nil {
			log.Warn("partition of committed transaction is gone, skip it",
				zap.Uint64("txn-id", txnID), zap.Uint64("partition-id", info.PartitionID))
			continue
		}
		if p.VisibleVersion >= info.Version {
			// Published by an earlier call that failed to save the transaction.
			failed = append(failed, m.failedReplicaIDs(p.ID, info.Version)...)
			continue
		}
		if p.VisibleVersion+1 != info.Version {
			log.Info("previous version is not visible yet, finish later",
				zap.Uint64("txn-id", txnID),
				zap.Uint64("partition-id", p.ID),
				zap.Uint64("visible-version", p.VisibleVersion),
				zap.Uint64("commit-version", info.Version))
			txnCounter.WithLabelValues("finish_version_wait").Inc()
			return nil
		}
		pub := index.PartitionPublish{
			PartitionID:      p.ID,
			Version:          info.Version,
			FailedReplicaIDs: make(map[uint64]struct{}),
		}
		for _, tabletID := range m.index.GetTabletIDsByPartition(p.ID) {
			healthy := 0
			for _, r := range m.index.GetReplicasByTablet(tabletID) {
				if isHealthy(r, p.VisibleVersion, errorReplicaIDs) {
					healthy++
				} else {
					pub.FailedReplicaIDs[r.ID] = struct{}{}
					failed = append(failed, r.ID)
				}
			}
			if healthy < p.Quorum() {
				log.Warn("tablet has no quorum of healthy replicas, finish later",
					zap.Uint64("txn-id", txnID),
					zap.Uint64("partition-id", p.ID),
					zap.Uint64("tablet-id", tabletID),
					zap.Int("healthy", healthy),
					zap.Int("quorum", p.Quorum()))
				txnCounter.WithLabelValues("finish_no_quorum").Inc()
				return nil
			}
		}
		pubs = append(pubs, pub)
	}
	if err := m.index.PublishVersions(pubs); err != nil {
		return err
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })

	txn.mu.Lock()
	txn.finishTime = m.now()
	txn.errorReplicaIDs = failed
	txn.mu.Unlock()
	txn.setStatus(core.TransactionStatusVisible)
	if err := m.save(txn); err != nil {
		txn.mu.Lock()
		txn.finishTime = time.Time{}
		txn.errorReplicaIDs = nil
		txn.mu.Unlock()
		txn.setStatus(core.TransactionStatusCommitted)
		return err
	}
	txnCounter.WithLabelValues("visible").Inc()
	log.Info("transaction is visible",
		zap.Uint64("txn-id", txnID),
		zap.Uint64s("error-replica-ids", failed))
	return nil
}

// RemoveExpiredTransactions drops VISIBLE and ABORTED transactions finished
// more than keep ago, and frees their labels.
func (m *Manager) RemoveExpiredTransactions(keep time.Duration) int {
	m.Lock()
	defer m.Unlock()
	now := m.now()
	removed := 0
	for id, txn := range m.txns {
		if !txn.Status().IsFinal() || now.Sub(txn.FinishTime()) <= keep {
			continue
		}
		if err := m.storage.DeleteTransaction(id); err != nil {
			log.Error("failed to remove expired transaction", zap.Uint64("txn-id", id), zap.Error(err))
			continue
		}
		delete(m.txns, id)
		key := labelKey{txn.DBID(), txn.Label()}
		if m.labels[key] == id {
			delete(m.labels, key)
		}
		removed++
	}
	if removed > 0 {
		txnCounter.WithLabelValues("expired").Add(float64(removed))
		log.Info("remove expired transactions", zap.Int("count", removed))
	}
	return removed
}

func (m *Manager) save(txn *TransactionState) error {
	return m.storage.SaveTransaction(txn.ID(), txn.Info())
}

// failedReplicaIDs returns the replicas of a partition that missed version.
func (m *Manager) failedReplicaIDs(partitionID, version uint64) []uint64 {
	var res []uint64
	for _, tabletID := range m.index.GetTabletIDsByPartition(partitionID) {
		for _, r := range m.index.GetReplicasByTablet(tabletID) {
			if r.LastFailedVersion == version {
				res = append(res, r.ID)
			}
		}
	}
	return res
}

// isHealthy tells whether a replica can count towards the quorum of a new
// version: it did not fail this time and it has caught up with the visible
// version.
func isHealthy(r *core.Replica, visibleVersion uint64, errorReplicaIDs map[uint64]struct{}) bool {
	if _, ok := errorReplicaIDs[r.ID]; ok {
		return false
	}
	return !r.NeedRepair() && r.Version >= visibleVersion
}
