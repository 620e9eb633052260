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

package transport

import (
	"fmt"
)

// message kinds shared by every node of the cluster
const (
	KindFeatureName          = "FEATURE_NAME"
	KindInstance             = "INSTANCE"
	KindEncGHList            = "ENC_GH_LIST"
	KindEncGHHist            = "ENC_GH_HIST"
	KindSplitInfo            = "SPLIT_INFO"
	KindInstanceMask         = "INSTANCE_MASK"
	KindPredictLeafMask      = "PREDICT_LEAF_MASK"
	KindPredictTestLeafMask  = "PREDICT_TEST_LEAF_MASK"
	KindPredictValidLeafMask = "PREDICT_VALID_LEAF_MASK"
	KindStopIteration        = "STOP_ITERATION"
	KindPredictPraba         = "PREDICT_PRABA"
	KindModelData            = "MODEL_DATA"
	KindHandshake            = "Handshake"
	KindSyncFile             = "SYNC_FILE"
	KindEvalSetFile          = "EVAL_SET_FILE"
)

// AgencyTopic is the topic of messages of kind sent by agency for a task
func AgencyTopic(agency, taskID, kind string) string {
	return fmt.Sprintf("%s_%s_%s", agency, taskID, kind)
}

// HandshakeTopic is the agency-less topic used during handshake
func HandshakeTopic(taskID string) string {
	return fmt.Sprintf("%s_%s", taskID, KindHandshake)
}

// Kind appends suffixes to a message kind, e.g. Kind(KindSplitInfo, 0, 3) is "SPLIT_INFO_0_3"
func Kind(kind string, suffixes ...interface{}) string {
	for _, s := range suffixes {
		kind = fmt.Sprintf("%s_%v", kind, s)
	}
	return kind
}
