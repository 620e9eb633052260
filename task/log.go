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
	"bufio"
	"encoding/binary"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/storage"
)

const (
	// flag lines written around every task of a job
	LogStartFlag = "LOG_START"
	LogEndFlag   = "LOG_END"

	// MaxLogSize is the largest log returned inline by RetrieveLog
	MaxLogSize = 500 * 1024

	maxLogLineSize = 16 * 1024 * 1024
)

// RemoteJobDir is the remote directory of the files of a job
func RemoteJobDir(user, jobID string) string {
	return path.Join(user, "share", "jobs", "model", jobID)
}

// RemoteLogPath is the remote path of the log of a job
func RemoteLogPath(user, jobID string) string {
	return path.Join(RemoteJobDir(user, jobID), jobID+".log")
}

// LogRetriever extracts the log lines of a job from the node log and
// publishes them to the storage
type LogRetriever struct {
	storage    storage.Storage
	logFile    string
	jobTempDir string
}

// NewLogRetriever creates a LogRetriever reading logFile
func NewLogRetriever(st storage.Storage, logFile, jobTempDir string) *LogRetriever {
	return &LogRetriever{
		storage:    st,
		logFile:    logFile,
		jobTempDir: jobTempDir,
	}
}

func (r *LogRetriever) extract(jobID, dst string) (int64, error) {
	in, err := os.Open(r.logFile)
	if err != nil {
		return 0, errorx.NewCode(err, errcodes.ErrCodeNotFound, "failed to open log file")
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to mkdir for job log")
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to create job log")
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLogLineSize)
	var size int64
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, jobID) {
			continue
		}
		n, err := w.WriteString(line + "\n")
		if err != nil {
			return 0, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write job log")
		}
		size += int64(n)
	}
	if err := scanner.Err(); err != nil {
		return 0, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to read log file")
	}
	if err := w.Flush(); err != nil {
		return 0, errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write job log")
	}
	return size, nil
}

// UploadLog publishes the log lines of jobID and their size
func (r *LogRetriever) UploadLog(jobID, user string) error {
	local := filepath.Join(r.jobTempDir, jobID, jobID+".log")
	size, err := r.extract(jobID, local)
	if err != nil {
		return err
	}
	defer os.Remove(local)

	remote := RemoteLogPath(user, jobID)
	sizeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBytes, uint64(size))
	if err := r.storage.SaveData(sizeBytes, remote+".size"); err != nil {
		return err
	}
	if err := r.storage.UploadFile(local, remote); err != nil {
		return err
	}
	logger.WithField("job_id", jobID).Infof("job log uploaded to %s, size: %d", remote, size)
	return nil
}

// RetrieveLog returns the size and remote path of the log of jobID, the
// content is only returned for logs up to MaxLogSize
func (r *LogRetriever) RetrieveLog(jobID, user string) (int64, string, string, error) {
	remote := RemoteLogPath(user, jobID)
	sizeBytes, err := r.storage.GetData(remote + ".size")
	if err != nil {
		return 0, remote, "", err
	}
	if len(sizeBytes) != 8 {
		return 0, remote, "", errorx.New(errcodes.ErrCodeEncoding, "malformed log size of job %s", jobID)
	}
	size := int64(binary.BigEndian.Uint64(sizeBytes))
	if size > MaxLogSize {
		return size, remote, "", nil
	}
	content, err := r.storage.GetData(remote)
	if err != nil {
		return size, remote, "", err
	}
	return size, remote, string(content), nil
}
