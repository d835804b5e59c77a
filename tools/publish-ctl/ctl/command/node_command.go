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
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

const (
	nodesPrefix = "nodes"
	nodePrefix  = "node/%d"
)

type nodeStatus struct {
	ID            uint64    `json:"id"`
	Addr          string    `json:"addr"`
	Version       string    `json:"version"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsDead        bool      `json:"is_dead"`
	TabletCount   int       `json:"tablet_count"`
}

type nodesInfo struct {
	Count int           `json:"count"`
	Nodes []*nodeStatus `json:"nodes"`
}

// NewNodeCommand returns a node subcommand of rootCmd.
func NewNodeCommand() *cobra.Command {
	n := &cobra.Command{
		Use:   `node [<node_id>] [--json]`,
		Short: "show the nodes, or one node",
		Run:   showNodeCommandFunc,
	}
	n.Flags().Bool("json", false, "print the raw JSON response")
	n.AddCommand(NewHeartbeatNodeCommand())
	n.AddCommand(NewDeleteNodeCommand())
	return n
}

// NewHeartbeatNodeCommand returns a heartbeat subcommand of nodeCmd.
func NewHeartbeatNodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <node_id> <addr> [version]",
		Short: "register a node or refresh its address and version",
		Run:   heartbeatNodeCommandFunc,
	}
}

// NewDeleteNodeCommand returns a delete subcommand of nodeCmd.
func NewDeleteNodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <node_id>",
		Short: "remove a node, it is no longer a publish target",
		Run:   deleteNodeCommandFunc,
	}
}

func showNodeCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) > 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	if len(args) == 1 {
		nodeID, ok := parseUint64(cmd, "node id", args[0])
		if !ok {
			return
		}
		printRequest(cmd, fmt.Sprintf(nodePrefix, nodeID), http.MethodGet)
		return
	}

	r, err := doRequest(cmd, nodesPrefix, http.MethodGet)
	if err != nil {
		cmd.Printf("Failed to get nodes: %s\n", err)
		return
	}
	if raw, _ := cmd.Flags().GetBool("json"); raw {
		cmd.Println(r)
		return
	}
	var nodes nodesInfo
	if err = json.Unmarshal([]byte(r), &nodes); err != nil {
		cmd.Printf("Failed to decode nodes: %s\n", err)
		return
	}
	printNodes(cmd, &nodes, time.Now())
}

func printNodes(cmd *cobra.Command, nodes *nodesInfo, now time.Time) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tVERSION\tSTATE\tTABLETS\tLAST HEARTBEAT")
	for _, n := range nodes.Nodes {
		state := n.State
		if n.IsDead {
			state = "Down"
		}
		heartbeat := "never"
		if !n.LastHeartbeat.IsZero() {
			heartbeat = units.HumanDuration(now.Sub(n.LastHeartbeat)) + " ago"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", n.ID, n.Addr, n.Version, state, n.TabletCount, heartbeat)
	}
	w.Flush()
}

func heartbeatNodeCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 2 || len(args) > 3 {
		cmd.Println(cmd.UsageString())
		return
	}
	nodeID, ok := parseUint64(cmd, "node id", args[0])
	if !ok {
		return
	}
	input := map[string]string{"addr": args[1]}
	if len(args) == 3 {
		input["version"] = args[2]
	}
	if _, err := doRequest(cmd, fmt.Sprintf(nodePrefix, nodeID)+"/heartbeat", http.MethodPost, WithJSON(input)); err != nil {
		cmd.Printf("Failed to heartbeat node %d: %s\n", nodeID, err)
		return
	}
	cmd.Println("Success!")
}

func deleteNodeCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	nodeID, ok := parseUint64(cmd, "node id", args[0])
	if !ok {
		return
	}
	if _, err := doRequest(cmd, fmt.Sprintf(nodePrefix, nodeID), http.MethodDelete); err != nil {
		cmd.Printf("Failed to delete node %d: %s\n", nodeID, err)
		return
	}
	cmd.Println("Success!")
}
