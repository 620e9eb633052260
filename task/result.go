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
	"time"
)

// Status of a task
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
	StatusKilled   Status = "KILLED"
	StatusNotFound Status = "NotFound"
)

// Finished reports terminal statuses, an unknown task counts as finished
func (s Status) Finished() bool {
	return s != StatusPending && s != StatusRunning
}

// Result is the bookkeeping of one task execution
type Result struct {
	TaskID       string
	JobID        string
	TaskType     string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	DiagnosisMsg string
	ExecResult   string
}

type execResult struct {
	TimeCost     float64 `json:"timecost"`
	DiagnosisMsg string  `json:"diagnosis_msg"`
}

func newResult(taskID, jobID, taskType string) *Result {
	return &Result{
		TaskID:    taskID,
		JobID:     jobID,
		TaskType:  taskType,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
}

// TimeCost is the running time, up to now for a running task
func (r *Result) TimeCost() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Finalize fixes the end time and serializes the exec result
func (r *Result) Finalize() {
	if r.EndTime.IsZero() {
		r.EndTime = time.Now()
	}
	b, _ := json.Marshal(&execResult{
		TimeCost:     r.TimeCost().Seconds(),
		DiagnosisMsg: r.DiagnosisMsg,
	})
	r.ExecResult = string(b)
}
