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

// killCmd kills every task of a job, or one task
var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "kill the tasks of a job, or a single task",
	Run: func(cmd *cobra.Command, args []string) {
		if jobID == "" && id == "" {
			fmt.Println("either --job or --id is required")
			return
		}
		c, ctx, cancel, err := nodeClient()
		if err != nil {
			fmt.Printf("GetNodeClient failed: %v\n", err)
			return
		}
		defer cancel()
		defer c.Close()

		if jobID != "" {
			err = c.KillJob(ctx, jobID)
		} else {
			err = c.KillTask(ctx, id)
		}
		if err != nil {
			fmt.Printf("Kill failed: %v\n", err)
			return
		}
		fmt.Println("OK")
	},
}

func init() {
	rootCmd.AddCommand(killCmd)

	killCmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")
	killCmd.Flags().StringVarP(&id, "id", "i", "", "task id, used when no job id is given")
}
