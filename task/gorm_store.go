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
	"errors"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// GormStore keeps task records in a SQL table
type GormStore struct {
	db *gorm.DB
}

// NewMySQLStore connects to the mysql database of dsn
func NewMySQLStore(dsn string) (*GormStore, error) {
	return OpenGormStore(mysql.Open(dsn))
}

// NewSQLiteStore opens the sqlite database file at path
func NewSQLiteStore(path string) (*GormStore, error) {
	s, err := OpenGormStore(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to get sqlite connection pool")
	}
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

// OpenGormStore opens dialector and migrates the record table
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeConfig, "failed to connect database")
	}
	if err := db.AutoMigrate(&JobWorkerRecord{}); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to migrate job record table")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) QueryTask(ctx context.Context, workerID string) (*JobWorkerRecord, error) {
	var record JobWorkerRecord
	err := s.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorx.New(errcodes.ErrCodeTaskNotFound, "task %s not found", workerID)
	}
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to query task %s", workerID)
	}
	return &record, nil
}

func (s *GormStore) QueryTasks(ctx context.Context, jobID string) ([]*JobWorkerRecord, error) {
	var records []*JobWorkerRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("create_time").Find(&records).Error; err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to query tasks of job %s", jobID)
	}
	return records, nil
}

func (s *GormStore) Upsert(ctx context.Context, record *JobWorkerRecord) error {
	now := time.Now()
	if record.CreateTime.IsZero() {
		record.CreateTime = now
	}
	record.UpdateTime = now
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"job_id", "type", "status", "upstreams",
			"inputs_statement", "args", "outputs", "exec_result", "update_time"}),
	}).Create(record).Error
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to upsert task %s", record.WorkerID)
	}
	return nil
}

func (s *GormStore) OnTaskFinished(ctx context.Context, result *Result) error {
	err := s.db.WithContext(ctx).Model(&JobWorkerRecord{}).
		Where("worker_id = ?", result.TaskID).
		Updates(map[string]interface{}{
			"status":      string(result.Status),
			"exec_result": result.ExecResult,
			"update_time": time.Now(),
		}).Error
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to update task %s", result.TaskID)
	}
	return nil
}

func (s *GormStore) JobFinished(ctx context.Context, jobID string) (bool, error) {
	var alive int64
	err := s.db.WithContext(ctx).Model(&JobWorkerRecord{}).
		Where("job_id = ? AND status IN ?", jobID, []string{string(StatusPending), string(StatusRunning)}).
		Count(&alive).Error
	if err != nil {
		return false, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to query job %s", jobID)
	}
	return alive == 0, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
