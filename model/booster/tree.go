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

package booster

import (
	"encoding/json"
	"os"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

// TreeSchemaVersion is the version of the tree file layout
const TreeSchemaVersion = 1

// SplitInfo is the split of an internal node. Only the agency owning the
// feature knows the bin value, the others keep -1.
type SplitInfo struct {
	TreeID        int     `json:"tree_id"`
	NodeID        int     `json:"node_id"`
	AgencyIdx     int     `json:"agency_idx"`
	AgencyFeature int     `json:"agency_feature"`
	Value         int     `json:"value"`
	Gain          float64 `json:"gain"`
}

// Node is a leaf or an internal node. Leaf weights are only known by the
// label holder.
type Node struct {
	Leaf   bool       `json:"leaf"`
	Weight float64    `json:"weight"`
	Split  *SplitInfo `json:"split,omitempty"`
	Left   *Node      `json:"left,omitempty"`
	Right  *Node      `json:"right,omitempty"`
}

// TreeModel is the content of a tree file
type TreeModel struct {
	Version int     `json:"version"`
	Trees   []*Node `json:"trees"`
}

func newLeaf(weight float64) *Node {
	return &Node{Leaf: true, Weight: weight}
}

// EncodeTrees serializes trees with the current schema
func EncodeTrees(trees []*Node) ([]byte, error) {
	data, err := json.Marshal(&TreeModel{Version: TreeSchemaVersion, Trees: trees})
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeEncoding, "failed to marshal trees")
	}
	return data, nil
}

// DecodeTrees parses a tree file and checks its structure
func DecodeTrees(data []byte) ([]*Node, error) {
	var m TreeModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "malformed tree file")
	}
	if m.Version != TreeSchemaVersion {
		return nil, errorx.New(errcodes.ErrCodeModel, "unsupported tree schema version %d", m.Version)
	}
	for i, t := range m.Trees {
		if err := checkNode(t); err != nil {
			return nil, errorx.Wrap(err, "tree %d", i)
		}
	}
	return m.Trees, nil
}

func checkNode(n *Node) error {
	if n == nil {
		return errorx.New(errcodes.ErrCodeModel, "missing node")
	}
	if n.Leaf {
		return nil
	}
	if n.Split == nil {
		return errorx.New(errcodes.ErrCodeModel, "internal node without split")
	}
	if err := checkNode(n.Left); err != nil {
		return err
	}
	return checkNode(n.Right)
}

// LoadTrees reads the tree file at path
func LoadTrees(path string) ([]*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorx.NewCode(err, errcodes.ErrCodeModel, "failed to read tree file")
	}
	return DecodeTrees(data)
}

// SameStructure reports whether both trees split the same nodes on the same
// agency features, bin values are not compared
func SameStructure(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Leaf != b.Leaf {
		return false
	}
	if a.Leaf {
		return true
	}
	sa, sb := a.Split, b.Split
	if sa.TreeID != sb.TreeID || sa.NodeID != sb.NodeID ||
		sa.AgencyIdx != sb.AgencyIdx || sa.AgencyFeature != sb.AgencyFeature {
		return false
	}
	return SameStructure(a.Left, b.Left) && SameStructure(a.Right, b.Right)
}
