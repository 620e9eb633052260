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

var withContent bool

// logCmd fetches the log of a finished job
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "get the log of a finished job",
	Run: func(cmd *cobra.Command, args []string) {
		c, ctx, cancel, err := nodeClient()
		if err != nil {
			fmt.Printf("GetNodeClient failed: %v\n", err)
			return
		}
		defer cancel()
		defer c.Close()

		out, err := c.Log(ctx, jobID, user)
		if err != nil {
			fmt.Printf("Log failed: %v\n", err)
			return
		}
		fmt.Printf("JobID: %s\nPath: %s\nSize: %d\n", jobID, out.Path, out.Size)
		if withContent {
			fmt.Printf("\n%s\n", out.Content)
		}
	},
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")
	logCmd.Flags().StringVarP(&user, "user", "u", "", "user submitting the job")
	logCmd.Flags().BoolVarP(&withContent, "content", "", false, "print the log content")

	logCmd.MarkFlagRequired("job")
	logCmd.MarkFlagRequired("user")
}
