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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	taskpkg "github.com/cyjseagull/WeDPR-Component/task"
)

var (
	taskType   string
	paramsFile string
)

// runCmd submits a task to the node
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a model task on the node",
	Run: func(cmd *cobra.Command, args []string) {
		params, err := os.ReadFile(paramsFile)
		if err != nil {
			fmt.Printf("Read params file failed: %v\n", err)
			return
		}
		if !json.Valid(params) {
			fmt.Printf("Params file %s is not valid json\n", paramsFile)
			return
		}
		c, ctx, cancel, err := nodeClient()
		if err != nil {
			fmt.Printf("GetNodeClient failed: %v\n", err)
			return
		}
		defer cancel()
		defer c.Close()

		err = c.RunTask(ctx, id, taskType, &taskpkg.Args{JobID: jobID, User: user, Params: params})
		if err != nil {
			fmt.Printf("RunTask failed: %v\n", err)
			return
		}
		fmt.Printf("TaskID: %s\nTaskType: %s\nJobID: %s\n", id, taskType, jobID)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&id, "id", "i", "", "task id")
	runCmd.Flags().StringVarP(&taskType, "type", "t", "XGB_TRAINING", "task type, XGB_TRAINING or XGB_PREDICTING")
	runCmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")
	runCmd.Flags().StringVarP(&user, "user", "u", "", "user submitting the job")
	runCmd.Flags().StringVarP(&paramsFile, "params", "p", "", "json file of the model task parameters")

	runCmd.MarkFlagRequired("id")
	runCmd.MarkFlagRequired("job")
	runCmd.MarkFlagRequired("user")
	runCmd.MarkFlagRequired("params")
}
