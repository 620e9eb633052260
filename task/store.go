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
	"context"
	"time"
)

// JobWorkerRecord is the persisted record of one task, a job fans out into
// one or more tasks
type JobWorkerRecord struct {
	WorkerID        string    `gorm:"column:worker_id;primaryKey;size:128" json:"worker_id"`
	JobID           string    `gorm:"column:job_id;index;size:128" json:"job_id"`
	Type            string    `gorm:"column:type;size:64" json:"type"`
	Status          string    `gorm:"column:status;size:32" json:"status"`
	Upstreams       string    `gorm:"column:upstreams;type:text" json:"upstreams"`
	InputsStatement string    `gorm:"column:inputs_statement;type:text" json:"inputs_statement"`
	Args            string    `gorm:"column:args;type:text" json:"args"`
	Outputs         string    `gorm:"column:outputs;type:text" json:"outputs"`
	ExecResult      string    `gorm:"column:exec_result;type:text" json:"exec_result"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time `gorm:"column:update_time" json:"update_time"`
}

func (JobWorkerRecord) TableName() string {
	return "wedpr_job_worker_table"
}

// Store persists task records. QueryTask returns ErrCodeTaskNotFound for unknown tasks.
type Store interface {
	QueryTask(ctx context.Context, workerID string) (*JobWorkerRecord, error)
	QueryTasks(ctx context.Context, jobID string) ([]*JobWorkerRecord, error)
	// Upsert inserts the record or replaces every column but create_time
	Upsert(ctx context.Context, record *JobWorkerRecord) error
	// OnTaskFinished stores the terminal status and exec result of a task
	OnTaskFinished(ctx context.Context, result *Result) error
	// JobFinished reports whether no task of the job is pending or running
	JobFinished(ctx context.Context, jobID string) (bool, error)
	Close() error
}
