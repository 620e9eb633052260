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

package errcodes

// error code list
const (
	// 00xx common error
	ErrCodeInternal = "WD0001" // internal error
	ErrCodeParam    = "WD0002" // parameters error
	ErrCodeConfig   = "WD0003" // configuration error
	ErrCodeNotFound = "WD0004" // target not found
	ErrCodeEncoding = "WD0005" // encoding error
	ErrCodeUnknown  = "WD0006" // unknown error
	ErrCodeCrypto   = "WD0007" // encryption or decryption failed
	ErrCodeStorage  = "WD0008" // remote storage error

	// transport and router errors
	ErrCodeSendTimeout          = "WD0011" // the channel did not accept the message in time
	ErrCodeMessageNotDelivered  = "WD0012" // message never arrived and the task is finished
	ErrCodeNoRouteToParticipant = "WD0013" // no node can reach the participant
	ErrCodeHandshake            = "WD0014" // handshake did not converge
	ErrCodeRPCConnect           = "WD0015" // failed to get connection

	// task errors
	ErrCodeTaskKilled      = "WD0021" // task was killed or timed out
	ErrCodeTaskNotFound    = "WD0022" // no record of the task
	ErrCodeUnknownTaskType = "WD0023" // no handler registered for the task type
	ErrCodeTaskExists      = "WD0024" // task already exists

	// model errors
	ErrCodeProtocol = "WD0031" // peers disagree on the protocol state
	ErrCodeDataset  = "WD0032" // dataset can not be loaded or is inconsistent
	ErrCodeModel    = "WD0033" // model file is missing or malformed
)
