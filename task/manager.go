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

// Package task runs tasks, one execution per task id at most, and keeps
// their status in a Store.
//
// Status of a task: PENDING -> RUNNING -> SUCCESS | FAILURE | KILLED.
// Tasks are never retried automatically.
package task

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/metrics"
)

var logger = logrus.WithField("module", "task")

const (
	DefaultTimeout       = 3 * time.Hour
	DefaultSweepInterval = 5 * time.Second

	// finished tasks are remembered this long after the timeout
	releaseDelay = time.Hour

	diagnosisTimeout = "task timeout"
	diagnosisKilled  = "task killed"
)

// Args are the arguments of a task
type Args struct {
	JobID string `json:"job_id"`
	User  string `json:"user"`
	// Params is handed to the task handler as is
	Params json.RawMessage `json:"params,omitempty"`
}

// Handler executes one task, it must return soon after ctx is done
type Handler func(ctx context.Context, taskID string, args *Args) error

type liveTask struct {
	result *Result
	args   *Args
	cancel context.CancelFunc
}

// Manager runs tasks and supervises their lifetime
type Manager struct {
	store         Store
	retriever     *LogRetriever
	timeout       time.Duration
	sweepInterval time.Duration

	lock          sync.RWMutex
	handlers      map[string]Handler
	clearHandlers []func(taskID string)
	live          map[string]*liveTask
	finished      map[string]*Result

	doneSweepC chan struct{} // closed when the sweep loop quits
}

// NewManager creates a Manager, retriever may be nil to skip log uploading
func NewManager(store Store, retriever *LogRetriever, timeout, sweepInterval time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Manager{
		store:         store,
		retriever:     retriever,
		timeout:       timeout,
		sweepInterval: sweepInterval,
		handlers:      make(map[string]Handler),
		live:          make(map[string]*liveTask),
		finished:      make(map[string]*Result),
	}
}

// RegisterTaskHandler binds taskType to handler
func (m *Manager) RegisterTaskHandler(taskType string, handler Handler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers[taskType] = handler
}

// RegisterClearHandler adds fn to the functions run once a task is finished
func (m *Manager) RegisterClearHandler(fn func(taskID string)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clearHandlers = append(m.clearHandlers, fn)
}

// RunTask launches the handler of taskType, a task already running is left alone
func (m *Manager) RunTask(taskID, taskType string, args *Args) error {
	if args == nil || args.JobID == "" {
		return errorx.New(errcodes.ErrCodeParam, "missing job id of task %s", taskID)
	}
	m.lock.RLock()
	handler, ok := m.handlers[taskType]
	m.lock.RUnlock()
	if !ok {
		return errorx.New(errcodes.ErrCodeUnknownTaskType, "no handler registered for task type %s", taskType)
	}

	l := logger.WithFields(logrus.Fields{"job_id": args.JobID, "task_id": taskID})
	ctx := context.Background()
	if record, err := m.store.QueryTask(ctx, taskID); err == nil && Status(record.Status) == StatusRunning {
		l.Info("task is already running, skip")
		return nil
	}

	argsBytes, _ := json.Marshal(args)
	err := m.store.Upsert(ctx, &JobWorkerRecord{
		WorkerID: taskID,
		JobID:    args.JobID,
		Type:     taskType,
		Status:   string(StatusRunning),
		Args:     string(argsBytes),
	})
	if err != nil {
		return errorx.Wrap(err, "failed to persist task %s", taskID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &liveTask{
		result: newResult(taskID, args.JobID, taskType),
		args:   args,
		cancel: cancel,
	}
	m.lock.Lock()
	if _, ok := m.live[taskID]; ok {
		m.lock.Unlock()
		cancel()
		l.Info("task is already running, skip")
		return nil
	}
	m.live[taskID] = t
	delete(m.finished, taskID)
	m.lock.Unlock()

	metrics.RecordTaskStatus(taskType, string(StatusRunning))
	l.Infof("%s, task type: %s", LogStartFlag, taskType)
	go m.execute(runCtx, t, handler)
	return nil
}

func (m *Manager) execute(ctx context.Context, t *liveTask, handler Handler) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errorx.New(errcodes.ErrCodeInternal, "task panic: %v\n%s", r, debug.Stack())
		}
		m.onTaskFinish(t.result.TaskID, err)
	}()
	err = handler(ctx, t.result.TaskID, t.args)
}

// take removes a running task from the live map and marks it with status
func (m *Manager) take(taskID string, status Status, diagnosis string) (*liveTask, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	t, ok := m.live[taskID]
	if !ok || t.result.Status != StatusRunning {
		return nil, false
	}
	t.result.Status = status
	t.result.DiagnosisMsg = diagnosis
	t.result.Finalize()
	delete(m.live, taskID)
	m.finished[taskID] = t.result
	return t, true
}

func (m *Manager) onTaskFinish(taskID string, err error) {
	status, diagnosis := StatusSuccess, ""
	if err != nil {
		status, diagnosis = StatusFailure, err.Error()
	}
	t, ok := m.take(taskID, status, diagnosis)
	if !ok {
		logger.WithField("task_id", taskID).Warn("task already finished or killed")
		return
	}
	t.cancel()

	l := logger.WithFields(logrus.Fields{"job_id": t.args.JobID, "task_id": taskID})
	if err != nil {
		l.WithError(err).Error("task failed")
	}
	m.finish(t)
	m.uploadLogIfFinished(t.args)
	l.Infof("%s, status: %s, timecost: %v", LogEndFlag, t.result.Status, t.result.TimeCost())
}

// finish persists the terminal status and runs the clear handlers
func (m *Manager) finish(t *liveTask) {
	result := t.result
	if err := m.store.OnTaskFinished(context.Background(), result); err != nil {
		logger.WithField("task_id", result.TaskID).WithError(err).Error("failed to persist task status")
	}
	metrics.RecordTaskStatus(result.TaskType, string(result.Status))
	metrics.RecordTaskDuration(result.TaskType, result.TimeCost())

	m.lock.RLock()
	clearHandlers := append([]func(string){}, m.clearHandlers...)
	m.lock.RUnlock()
	for _, fn := range clearHandlers {
		fn(result.TaskID)
	}
}

func (m *Manager) uploadLogIfFinished(args *Args) {
	if m.retriever == nil {
		return
	}
	finished, err := m.store.JobFinished(context.Background(), args.JobID)
	if err != nil || !finished {
		return
	}
	m.uploadLog(args)
}

func (m *Manager) uploadLog(args *Args) {
	if m.retriever == nil {
		return
	}
	if err := m.retriever.UploadLog(args.JobID, args.User); err != nil {
		logger.WithField("job_id", args.JobID).WithError(err).Warn("failed to upload job log")
	}
}

func (m *Manager) killOne(taskID, diagnosis string) (*Args, bool) {
	t, ok := m.take(taskID, StatusKilled, diagnosis)
	if !ok {
		return nil, false
	}
	t.cancel()
	m.finish(t)
	logger.WithFields(logrus.Fields{"job_id": t.args.JobID, "task_id": taskID}).
		Infof("%s, status: %s, diagnosis: %s", LogEndFlag, StatusKilled, diagnosis)
	return t.args, true
}

// KillOneTask kills a running task, unknown or finished tasks are ignored
func (m *Manager) KillOneTask(taskID string) {
	if args, ok := m.killOne(taskID, diagnosisKilled); ok {
		m.uploadLogIfFinished(args)
	}
}

// KillTask kills every task of jobID and uploads the job log
func (m *Manager) KillTask(jobID string) error {
	records, err := m.store.QueryTasks(context.Background(), jobID)
	if err != nil {
		return err
	}
	args := &Args{JobID: jobID}
	for _, r := range records {
		m.killOne(r.WorkerID, diagnosisKilled)
		if r.Args != "" {
			json.Unmarshal([]byte(r.Args), args)
		}
	}
	logger.WithField("job_id", jobID).Infof("%d tasks of job killed", len(records))
	m.uploadLog(args)
	return nil
}

// TaskFinished reports whether taskID is neither pending nor running
func (m *Manager) TaskFinished(taskID string) bool {
	m.lock.RLock()
	if t, ok := m.live[taskID]; ok {
		m.lock.RUnlock()
		return t.result.Status.Finished()
	}
	_, ok := m.finished[taskID]
	m.lock.RUnlock()
	if ok {
		return true
	}
	record, err := m.store.QueryTask(context.Background(), taskID)
	if err != nil {
		// an unknown task counts as finished, the store may come back otherwise
		return errorx.Is(err, errcodes.ErrCodeTaskNotFound)
	}
	return Status(record.Status).Finished()
}

// Status returns the status and exec result of taskID
func (m *Manager) Status(taskID string) (Status, string, error) {
	m.lock.RLock()
	if _, ok := m.live[taskID]; ok {
		m.lock.RUnlock()
		return StatusRunning, "", nil
	}
	if r, ok := m.finished[taskID]; ok {
		m.lock.RUnlock()
		return r.Status, r.ExecResult, nil
	}
	m.lock.RUnlock()

	record, err := m.store.QueryTask(context.Background(), taskID)
	if err != nil {
		if errorx.Is(err, errcodes.ErrCodeTaskNotFound) {
			return StatusNotFound, "", nil
		}
		return "", "", err
	}
	return Status(record.Status), record.ExecResult, nil
}

// RetrieveLog returns the uploaded log of a job, see LogRetriever.RetrieveLog
func (m *Manager) RetrieveLog(jobID, user string) (int64, string, string, error) {
	if m.retriever == nil {
		return 0, "", "", errorx.New(errcodes.ErrCodeConfig, "log retriever not configured")
	}
	return m.retriever.RetrieveLog(jobID, user)
}

// Start runs the timeout sweep until ctx is done
func (m *Manager) Start(ctx context.Context) {
	m.doneSweepC = make(chan struct{})
	go m.loopSweep(ctx)
}

// Stop waits for the sweep loop to quit, the caller cancels the context given to Start
func (m *Manager) Stop() {
	if m.doneSweepC == nil {
		return
	}
	logger.Info("task sweep stops ...")
	<-m.doneSweepC
}

func (m *Manager) loopSweep(ctx context.Context) {
	logger.Info("task sweep start")
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	defer close(m.doneSweepC)
	defer logger.Info("task sweep stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.sweep()
	}
}

// sweep kills timed out tasks and forgets tasks finished long ago
func (m *Manager) sweep() {
	now := time.Now()
	var timeoutTasks []string
	m.lock.Lock()
	for id, t := range m.live {
		if now.Sub(t.result.StartTime) > m.timeout {
			timeoutTasks = append(timeoutTasks, id)
		}
	}
	for id, r := range m.finished {
		if now.Sub(r.EndTime) > m.timeout+releaseDelay {
			delete(m.finished, id)
		}
	}
	m.lock.Unlock()

	for _, id := range timeoutTasks {
		if args, ok := m.killOne(id, diagnosisTimeout); ok {
			logger.WithField("task_id", id).Warnf("task killed after %v", m.timeout)
			m.uploadLogIfFinished(args)
		}
	}
}
