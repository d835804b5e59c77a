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
	"strconv"

	"github.com/spf13/cobra"
)

const (
	partitionsPrefix = "partitions"
	partitionPrefix  = "partition/%d"
	tabletsPrefix    = "tablets"
	tabletPrefix     = "tablet/%d"
	replicaPrefix    = "replica/%d"
)

func uint64String(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// NewPartitionCommand returns a partition subcommand of rootCmd.
func NewPartitionCommand() *cobra.Command {
	p := &cobra.Command{
		Use:   "partition [<partition_id>]",
		Short: "show the partitions, or one partition with its tablets",
		Run:   showPartitionCommandFunc,
	}
	p.AddCommand(&cobra.Command{
		Use:   "create <partition_id> <table_id> <db_id> <replication_num>",
		Short: "create a partition",
		Run:   createPartitionCommandFunc,
	})
	return p
}

// NewTabletCommand returns a tablet subcommand of rootCmd.
func NewTabletCommand() *cobra.Command {
	t := &cobra.Command{
		Use:   "tablet <tablet_id>",
		Short: "show a tablet with its replicas",
		Run:   showTabletCommandFunc,
	}
	t.AddCommand(&cobra.Command{
		Use:   "create <tablet_id> <partition_id>",
		Short: "create a tablet in a partition",
		Run:   createTabletCommandFunc,
	})
	t.AddCommand(&cobra.Command{
		Use:   "add-replica <tablet_id> <replica_id> <node_id> [version]",
		Short: "place a replica of the tablet on a node",
		Run:   addReplicaCommandFunc,
	})
	t.AddCommand(&cobra.Command{
		Use:   "delete-replica <tablet_id> <node_id>",
		Short: "remove the replica of the tablet on a node",
		Run:   deleteReplicaCommandFunc,
	})
	return t
}

// NewReplicaCommand returns a replica subcommand of rootCmd.
func NewReplicaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replica <replica_id>",
		Short: "show a replica with its applied and failed versions",
		Run:   showReplicaCommandFunc,
	}
}

func showPartitionCommandFunc(cmd *cobra.Command, args []string) {
	switch len(args) {
	case 0:
		printRequest(cmd, partitionsPrefix, http.MethodGet)
	case 1:
		partitionID, ok := parseUint64(cmd, "partition id", args[0])
		if !ok {
			return
		}
		printRequest(cmd, fmt.Sprintf(partitionPrefix, partitionID), http.MethodGet)
	default:
		cmd.Println(cmd.UsageString())
	}
}

func createPartitionCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 4 {
		cmd.Println(cmd.UsageString())
		return
	}
	ids, ok := parseUint64s(cmd, "id", args)
	if !ok {
		return
	}
	input := map[string]interface{}{
		"id":              ids[0],
		"table_id":        ids[1],
		"db_id":           ids[2],
		"replication_num": ids[3],
	}
	printRequest(cmd, partitionsPrefix, http.MethodPost, WithJSON(input))
}

func showTabletCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	tabletID, ok := parseUint64(cmd, "tablet id", args[0])
	if !ok {
		return
	}
	printRequest(cmd, fmt.Sprintf(tabletPrefix, tabletID), http.MethodGet)
}

func showReplicaCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	replicaID, ok := parseUint64(cmd, "replica id", args[0])
	if !ok {
		return
	}
	printRequest(cmd, fmt.Sprintf(replicaPrefix, replicaID), http.MethodGet)
}

func createTabletCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	ids, ok := parseUint64s(cmd, "id", args)
	if !ok {
		return
	}
	input := map[string]interface{}{
		"tablet_id":    ids[0],
		"partition_id": ids[1],
	}
	printRequest(cmd, tabletsPrefix, http.MethodPost, WithJSON(input))
}

func addReplicaCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 3 || len(args) > 4 {
		cmd.Println(cmd.UsageString())
		return
	}
	ids, ok := parseUint64s(cmd, "id", args)
	if !ok {
		return
	}
	input := map[string]interface{}{
		"replica_id": ids[1],
		"node_id":    ids[2],
	}
	if len(ids) == 4 {
		input["version"] = ids[3]
	}
	printRequest(cmd, fmt.Sprintf(tabletPrefix, ids[0])+"/replicas", http.MethodPost, WithJSON(input))
}

func deleteReplicaCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	ids, ok := parseUint64s(cmd, "id", args)
	if !ok {
		return
	}
	prefix := fmt.Sprintf(tabletPrefix, ids[0]) + fmt.Sprintf("/replica/%d", ids[1])
	if _, err := doRequest(cmd, prefix, http.MethodDelete); err != nil {
		cmd.Printf("Failed to delete replica: %s\n", err)
		return
	}
	cmd.Println("Success!")
}
