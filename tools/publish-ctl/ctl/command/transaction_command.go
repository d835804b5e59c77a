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

package command

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

const (
	transactionsPrefix = "transactions"
	transactionPrefix  = "transaction/%d"
)

// NewTransactionCommand returns a transaction subcommand of rootCmd.
func NewTransactionCommand() *cobra.Command {
	t := &cobra.Command{
		Use:   `txn [--status=<status>]`,
		Short: "list transactions, optionally filtered by status",
		Run:   showTransactionsCommandFunc,
	}
	t.Flags().String("status", "", "PREPARE, COMMITTED, VISIBLE or ABORTED")
	t.AddCommand(NewShowTransactionCommand())
	t.AddCommand(NewReadyTransactionsCommand())
	t.AddCommand(NewBeginTransactionCommand())
	t.AddCommand(NewCommitTransactionCommand())
	t.AddCommand(NewAbortTransactionCommand())
	return t
}

// NewShowTransactionCommand returns a show subcommand of txnCmd.
func NewShowTransactionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <txn_id>",
		Short: "show a transaction",
		Run:   showTransactionCommandFunc,
	}
}

// NewReadyTransactionsCommand returns a ready subcommand of txnCmd.
func NewReadyTransactionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "list the transactions waiting to become visible",
		Run:   showReadyTransactionsCommandFunc,
	}
}

// NewBeginTransactionCommand returns a begin subcommand of txnCmd.
func NewBeginTransactionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "begin <db_id> <label> [--timeout=<duration>]",
		Short: "begin a transaction",
		Run:   beginTransactionCommandFunc,
	}
	c.Flags().String("timeout", "", "publish timeout, such as 30s")
	return c
}

// NewCommitTransactionCommand returns a commit subcommand of txnCmd.
func NewCommitTransactionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <txn_id> <table_id>:<partition_id>[,<partition_id>...]...",
		Short: "commit a transaction on the given partitions",
		Run:   commitTransactionCommandFunc,
	}
}

// NewAbortTransactionCommand returns an abort subcommand of txnCmd.
func NewAbortTransactionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <txn_id> [reason]",
		Short: "abort a prepared transaction",
		Run:   abortTransactionCommandFunc,
	}
}

func showTransactionsCommandFunc(cmd *cobra.Command, args []string) {
	prefix := transactionsPrefix
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		prefix += "?status=" + status
	}
	printRequest(cmd, prefix, http.MethodGet)
}

func showTransactionCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	txnID, ok := parseUint64(cmd, "txn id", args[0])
	if !ok {
		return
	}
	printRequest(cmd, fmt.Sprintf(transactionPrefix, txnID), http.MethodGet)
}

func showReadyTransactionsCommandFunc(cmd *cobra.Command, args []string) {
	printRequest(cmd, transactionsPrefix+"/ready", http.MethodGet)
}

func beginTransactionCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	dbID, ok := parseUint64(cmd, "db id", args[0])
	if !ok {
		return
	}
	input := map[string]interface{}{
		"db_id": dbID,
		"label": args[1],
	}
	if timeout, _ := cmd.Flags().GetString("timeout"); timeout != "" {
		input["timeout"] = timeout
	}
	printRequest(cmd, transactionsPrefix, http.MethodPost, WithJSON(input))
}

// parseTablePartitions parses "<table_id>:<partition_id>[,<partition_id>...]".
func parseTablePartitions(cmd *cobra.Command, args []string) (map[uint64][]uint64, bool) {
	tables := make(map[uint64][]uint64, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 {
			cmd.Printf("invalid table partitions %q\n", arg)
			return nil, false
		}
		tableID, ok := parseUint64(cmd, "table id", parts[0])
		if !ok {
			return nil, false
		}
		partitionIDs, ok := parseUint64s(cmd, "partition id", strings.Split(parts[1], ","))
		if !ok {
			return nil, false
		}
		tables[tableID] = append(tables[tableID], partitionIDs...)
	}
	return tables, true
}

func commitTransactionCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	txnID, ok := parseUint64(cmd, "txn id", args[0])
	if !ok {
		return
	}
	tables, ok := parseTablePartitions(cmd, args[1:])
	if !ok {
		return
	}
	input := map[string]interface{}{"tables": tables}
	printRequest(cmd, fmt.Sprintf(transactionPrefix, txnID)+"/commit", http.MethodPost, WithJSON(input))
}

func abortTransactionCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 1 || len(args) > 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	txnID, ok := parseUint64(cmd, "txn id", args[0])
	if !ok {
		return
	}
	input := map[string]interface{}{}
	if len(args) == 2 {
		input["reason"] = args[1]
	}
	prefix := fmt.Sprintf(transactionPrefix, txnID) + "/abort"
	if _, err := doRequest(cmd, prefix, http.MethodPost, WithJSON(input)); err != nil {
		cmd.Printf("Failed to abort transaction %d: %s\n", txnID, err)
		return
	}
	cmd.Println("Success!")
}
