// Copyright (c) 2021 PaddlePaddle Authors. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd queries the status of a task
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "get the status of a task",
	Run: func(cmd *cobra.Command, args []string) {
		c, ctx, cancel, err := nodeClient()
		if err != nil {
			fmt.Printf("GetNodeClient failed: %v\n", err)
			return
		}
		defer cancel()
		defer c.Close()

		status, result, err := c.Status(ctx, id)
		if err != nil {
			fmt.Printf("Status failed: %v\n", err)
			return
		}
		fmt.Printf("TaskID: %s\nStatus: %s\nExecResult: %s\n", id, status, result)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&id, "id", "i", "", "task id")

	statusCmd.MarkFlagRequired("id")
}
