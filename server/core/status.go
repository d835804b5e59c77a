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

import (
	"strings"

	"github.com/pkg/errors"
)

// TransactionStatus is the status of a load transaction.
type TransactionStatus int32

// Transaction statuses. Only COMMITTED transactions are published, VISIBLE and
// ABORTED are terminal.
const (
	TransactionStatusUnknown TransactionStatus = iota
	TransactionStatusPrepare
	TransactionStatusCommitted
	TransactionStatusVisible
	TransactionStatusAborted
)

var transactionStatusNames = map[TransactionStatus]string{
	TransactionStatusUnknown:   "UNKNOWN",
	TransactionStatusPrepare:   "PREPARE",
	TransactionStatusCommitted: "COMMITTED",
	TransactionStatusVisible:   "VISIBLE",
	TransactionStatusAborted:   "ABORTED",
}

func (s TransactionStatus) String() string {
	if name, ok := transactionStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsFinal returns true if no further transition is possible.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusVisible || s == TransactionStatusAborted
}

// ParseTransactionStatus parses a status name, case insensitive.
func ParseTransactionStatus(name string) (TransactionStatus, error) {
	for status, n := range transactionStatusNames {
		if status != TransactionStatusUnknown && strings.EqualFold(n, name) {
			return status, nil
		}
	}
	return TransactionStatusUnknown, errors.Errorf("unknown transaction status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s TransactionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TransactionStatus) UnmarshalText(text []byte) error {
	status, err := ParseTransactionStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}
