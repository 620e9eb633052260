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

package storage

// Storage keeps the files shared by the agency, remote paths are relative
// to the agency home path
type Storage interface {
	// DownloadFile copies remotePath to localPath, with enableCache an
	// existing local file is kept as is
	DownloadFile(remotePath, localPath string, enableCache bool) error
	UploadFile(localPath, remotePath string) error
	SaveData(data []byte, remotePath string) error
	GetData(remotePath string) ([]byte, error)
	FileExisted(remotePath string) (bool, error)
	Mkdir(remoteDir string) error
	FileRename(oldPath, newPath string) error
	GetHomePath() string
}
