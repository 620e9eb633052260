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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

const (
	// late messages of a released task are reclaimed after releaseRetention
	releaseRetention = time.Hour
	pruneInterval    = time.Minute
)

var taskKinds = []string{
	KindFeatureName, KindInstance, KindEncGHList, KindEncGHHist, KindSplitInfo,
	KindInstanceMask, KindPredictLeafMask, KindPredictTestLeafMask, KindPredictValidLeafMask,
	KindStopIteration, KindPredictPraba, KindModelData, KindSyncFile, KindEvalSetFile,
}

type queue struct {
	msgs   []*Message
	notify chan struct{} // buffered 1, signals a new message
	expire time.Time     // zero unless the owning task was released
}

// mailbox keeps one FIFO queue per topic
type mailbox struct {
	lock      sync.Mutex
	queues    map[string]*queue
	released  map[string]time.Time // task id -> retention deadline
	lastPrune time.Time
	now       func() time.Time
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:   make(map[string]*queue),
		released: make(map[string]time.Time),
		now:      time.Now,
	}
}

// belongs reports whether topic was built by AgencyTopic or HandshakeTopic for taskID
func belongs(topic, taskID string) bool {
	if topic == HandshakeTopic(taskID) {
		return true
	}
	sep := "_" + taskID + "_"
	for from := 0; ; {
		i := strings.Index(topic[from:], sep)
		if i < 0 {
			return false
		}
		rest := topic[from+i+len(sep):]
		for _, kind := range taskKinds {
			if rest == kind || strings.HasPrefix(rest, kind+"_") {
				return true
			}
		}
		from += i + 1
	}
}

// getQueue must be called with lock held
func (m *mailbox) getQueue(topic string) *queue {
	q, ok := m.queues[topic]
	if !ok {
		q = &queue{notify: make(chan struct{}, 1)}
		for taskID, deadline := range m.released {
			if belongs(topic, taskID) {
				q.expire = deadline
				break
			}
		}
		m.queues[topic] = q
	}
	return q
}

// register also revives a released task, so a task id run again keeps its messages
func (m *mailbox) register(topic string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for taskID := range m.released {
		if !belongs(topic, taskID) {
			continue
		}
		delete(m.released, taskID)
		for t, q := range m.queues {
			if belongs(t, taskID) {
				q.expire = time.Time{}
			}
		}
	}
	m.getQueue(topic)
}

// release drops every queue of taskID. Messages of the task arriving later
// are kept until the retention deadline, then reclaimed.
func (m *mailbox) release(taskID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	dropped := 0
	for topic, q := range m.queues {
		if belongs(topic, taskID) {
			dropped += len(q.msgs)
			delete(m.queues, topic)
		}
	}
	if dropped > 0 {
		logger.WithField("task_id", taskID).Debugf("drop %d pending messages", dropped)
	}
	now := m.now()
	m.released[taskID] = now.Add(releaseRetention)
	m.prune(now, true)
}

// prune must be called with lock held
func (m *mailbox) prune(now time.Time, force bool) {
	if !force && now.Sub(m.lastPrune) < pruneInterval {
		return
	}
	m.lastPrune = now
	for taskID, deadline := range m.released {
		if now.After(deadline) {
			delete(m.released, taskID)
		}
	}
	for topic, q := range m.queues {
		if !q.expire.IsZero() && now.After(q.expire) {
			logger.WithField("topic", topic).Debugf("reclaim %d late messages", len(q.msgs))
			delete(m.queues, topic)
		}
	}
}

func (m *mailbox) unregister(topic string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if q, ok := m.queues[topic]; ok {
		if len(q.msgs) > 0 {
			logger.WithField("topic", topic).Debugf("drop %d pending messages", len(q.msgs))
		}
		delete(m.queues, topic)
	}
}

func (m *mailbox) put(msg *Message) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.prune(m.now(), false)
	q := m.getQueue(msg.Topic)
	q.msgs = append(q.msgs, msg)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) tryPop(topic string) (*Message, <-chan struct{}) {
	m.lock.Lock()
	defer m.lock.Unlock()
	q := m.getQueue(topic)
	if len(q.msgs) == 0 {
		return nil, q.notify
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	return msg, nil
}

// pop returns nil, nil when nothing arrives within timeout
func (m *mailbox) pop(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		msg, notify := m.tryPop(topic)
		if msg != nil {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, errorx.NewCode(ctx.Err(), errcodes.ErrCodeTaskKilled, "pop %s interrupted", topic)
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (m *mailbox) pending(topic string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	if q, ok := m.queues[topic]; ok {
		return len(q.msgs)
	}
	return 0
}
