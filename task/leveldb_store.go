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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// LevelDBStore keeps task records in an embedded leveldb.
//
// keys:
//
//	worker/<worker_id>         -> json record
//	job/<job_id>/<worker_id>   -> empty
type LevelDBStore struct {
	db *leveldb.DB
	// serializes read-modify-write of one record
	lock sync.Mutex
}

// OpenLevelDBStore opens or creates the leveldb at path
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeConfig, "cannot open leveldb")
	}
	return NewLevelDBStore(db), nil
}

// NewLevelDBStore wraps an opened leveldb
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func workerKey(workerID string) []byte {
	return []byte("worker/" + workerID)
}

func jobPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("job/%s/", jobID))
}

func (s *LevelDBStore) get(workerID string) (*JobWorkerRecord, error) {
	value, err := s.db.Get(workerKey(workerID), nil)
	if err == leveldb.ErrNotFound {
		return nil, errorx.New(errcodes.ErrCodeTaskNotFound, "task %s not found", workerID)
	}
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to get task %s", workerID)
	}
	var record JobWorkerRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to unmarshal task %s", workerID)
	}
	return &record, nil
}

func (s *LevelDBStore) put(record *JobWorkerRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal task %s", record.WorkerID)
	}
	batch := leveldb.Batch{}
	batch.Put(workerKey(record.WorkerID), value)
	batch.Put(append(jobPrefix(record.JobID), record.WorkerID...), nil)
	if err := s.db.Write(&batch, nil); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write batch")
	}
	return nil
}

func (s *LevelDBStore) QueryTask(ctx context.Context, workerID string) (*JobWorkerRecord, error) {
	return s.get(workerID)
}

func (s *LevelDBStore) QueryTasks(ctx context.Context, jobID string) ([]*JobWorkerRecord, error) {
	prefix := jobPrefix(jobID)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	var ids []string
	for iter.Next() {
		ids = append(ids, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to iterate job %s", jobID)
	}

	var records []*JobWorkerRecord
	for _, id := range ids {
		record, err := s.get(id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreateTime.Before(records[j].CreateTime)
	})
	return records, nil
}

func (s *LevelDBStore) Upsert(ctx context.Context, record *JobWorkerRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now()
	if old, err := s.get(record.WorkerID); err == nil {
		record.CreateTime = old.CreateTime
	} else if record.CreateTime.IsZero() {
		record.CreateTime = now
	}
	record.UpdateTime = now
	return s.put(record)
}

func (s *LevelDBStore) OnTaskFinished(ctx context.Context, result *Result) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	record, err := s.get(result.TaskID)
	if err != nil {
		return err
	}
	record.Status = string(result.Status)
	record.ExecResult = result.ExecResult
	record.UpdateTime = time.Now()
	return s.put(record)
}

func (s *LevelDBStore) JobFinished(ctx context.Context, jobID string) (bool, error) {
	records, err := s.QueryTasks(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if !Status(r.Status).Finished() {
			return false, nil
		}
	}
	return true, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
