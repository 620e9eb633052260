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

package local

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	localstorage "github.com/PaddlePaddle/PaddleDTX/xdb/storage/local"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

var logger = logrus.WithField("module", "storage")

// files are stored under uuid keys derived from their remote path
var pathNamespace = uuid.MustParse("8c6d4a1e-2b7f-4c1b-9d3e-5f0a7b2c4e61")

// Storage stores the remote files of an agency in a local directory
type Storage struct {
	localstorage.Storage
	homePath string
}

// New initiates Storage
func New(rootPath, homePath string) (*Storage, error) {
	// only create the outer dir, for example "storage" in "/root/wedpr/storage"
	// if "/root/wedpr" does not exist, the operator maybe forgot to mount it
	if _, err := os.Stat(rootPath); err != nil {
		if err := os.Mkdir(rootPath, 0777); err != nil {
			return nil, errorx.NewCode(err, errcodes.ErrCodeConfig, "failed to mkdir for storage")
		}
	}
	return &Storage{
		Storage: localstorage.Storage{
			RootPath: rootPath,
		},
		homePath: homePath,
	}, nil
}

func (s *Storage) key(remotePath string) string {
	p := path.Clean("/" + path.Join(s.homePath, remotePath))
	return uuid.NewSHA1(pathNamespace, []byte(p)).String()
}

func (s *Storage) GetHomePath() string {
	return s.homePath
}

func (s *Storage) SaveData(data []byte, remotePath string) error {
	if err := s.SaveAndUpdate(s.key(remotePath), bytes.NewReader(data)); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to save %s", remotePath)
	}
	return nil
}

func (s *Storage) GetData(remotePath string) ([]byte, error) {
	r, err := s.Load(s.key(remotePath))
	if err != nil {
		if errorx.Is(err, errorx.ErrCodeNotFound) {
			return nil, errorx.New(errcodes.ErrCodeNotFound, "%s not found", remotePath)
		}
		return nil, errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to load %s", remotePath)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to read %s", remotePath)
	}
	return data, nil
}

func (s *Storage) UploadFile(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to open %s", localPath)
	}
	defer f.Close()
	if err := s.SaveAndUpdate(s.key(remotePath), f); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to upload %s", remotePath)
	}
	logger.WithFields(logrus.Fields{"local": localPath, "remote": remotePath}).Debug("file uploaded")
	return nil
}

func (s *Storage) DownloadFile(remotePath, localPath string, enableCache bool) error {
	if enableCache {
		if _, err := os.Stat(localPath); err == nil {
			logger.WithField("local", localPath).Debug("local file exists, skip download")
			return nil
		}
	}
	data, err := s.GetData(remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to mkdir for %s", localPath)
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to write %s", localPath)
	}
	return nil
}

func (s *Storage) FileExisted(remotePath string) (bool, error) {
	return s.Exist(s.key(remotePath))
}

// Mkdir records remoteDir, the files themselves are stored flat
func (s *Storage) Mkdir(remoteDir string) error {
	exist, err := s.FileExisted(remoteDir)
	if err != nil || exist {
		return err
	}
	return s.SaveData(nil, remoteDir)
}

func (s *Storage) FileRename(oldPath, newPath string) error {
	data, err := s.GetData(oldPath)
	if err != nil {
		return err
	}
	if err := s.SaveData(data, newPath); err != nil {
		return err
	}
	if _, err := s.Delete(s.key(oldPath)); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeStorage, "failed to remove %s", oldPath)
	}
	return nil
}
