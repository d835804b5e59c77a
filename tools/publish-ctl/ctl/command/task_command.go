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
	"net/http"

	"github.com/spf13/cobra"
)

const tasksPrefix = "tasks"

// NewTaskCommand returns a task subcommand of rootCmd.
func NewTaskCommand() *cobra.Command {
	t := &cobra.Command{
		Use:   "task [--node=<node_id>]",
		Short: "list the outstanding publish tasks",
		Run:   showTasksCommandFunc,
	}
	t.Flags().Uint64("node", 0, "only the tasks of this node")
	t.AddCommand(NewFinishTaskCommand())
	return t
}

// NewFinishTaskCommand returns a finish subcommand of taskCmd.
func NewFinishTaskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finish <node_id> <signature> [error_tablet_id...]",
		Short: "report a publish task finished on behalf of a node",
		Run:   finishTaskCommandFunc,
	}
}

func showTasksCommandFunc(cmd *cobra.Command, args []string) {
	prefix := tasksPrefix
	if cmd.Flags().Changed("node") {
		nodeID, _ := cmd.Flags().GetUint64("node")
		prefix += "?node_id=" + uint64String(nodeID)
	}
	printRequest(cmd, prefix, http.MethodGet)
}

func finishTaskCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		cmd.Println(cmd.UsageString())
		return
	}
	ids, ok := parseUint64s(cmd, "id", args)
	if !ok {
		return
	}
	input := map[string]interface{}{
		"node_id":          ids[0],
		"task_type":        "PUBLISH_VERSION",
		"signature":        ids[1],
		"error_tablet_ids": ids[2:],
	}
	if _, err := doRequest(cmd, tasksPrefix+"/finish", http.MethodPost, WithJSON(input)); err != nil {
		cmd.Printf("Failed to finish task: %s\n", err)
		return
	}
	cmd.Println("Success!")
}
