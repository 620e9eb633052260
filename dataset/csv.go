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

package dataset

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// ReadRows reads all rows from csv file content
func ReadRows(fileContent []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(fileContent))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeDataset, "failed to read csv rows")
	}
	return rows, nil
}

// WriteRows writes all rows to the csv file at path, the file is truncated
// if it exists
func WriteRows(fileRows [][]string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to mkdir for %s", path)
	}
	writeFile, err := os.Create(path)
	if err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to create %s", path)
	}
	defer writeFile.Close()

	w := csv.NewWriter(writeFile)
	if err := w.WriteAll(fileRows); err != nil {
		return errorx.NewCode(err, errcodes.ErrCodeInternal, "failed to write %s", path)
	}
	return nil
}

// columnIndex returns the index of name in the header row, or -1
func columnIndex(header []string, name string) int {
	for i := range header {
		if header[i] == name {
			return i
		}
	}
	return -1
}

// ReadIDs reads the ID set from file content by id column name
func ReadIDs(fileContent []byte, idName string) ([]string, error) {
	rows, err := ReadRows(fileContent)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errorx.New(errcodes.ErrCodeDataset, "empty file content")
	}
	idx := columnIndex(rows[0], idName)
	if idx == -1 {
		return nil, errorx.New(errcodes.ErrCodeDataset, "file does not contain sample id: %s", idName)
	}
	ids := make([]string, 0, len(rows)-1)
	for row := 1; row < len(rows); row++ {
		ids = append(ids, rows[row][idx])
	}
	return ids, nil
}
