package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

var fastConf = ModelTransportConf{
	SendTimeout:  time.Second,
	PopTimeout:   20 * time.Millisecond,
	PollInterval: 5 * time.Millisecond,
}

func running(string) bool { return false }

func TestModelTransportPushPop(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a := NewModelTransport(hub.Join("a", DefaultComponent, "node-a"), fastConf, running)
	b := NewModelTransport(hub.Join("b", DefaultComponent, "node-b"), fastConf, running)

	go func() {
		// the receiver polls several times before the message arrives
		time.Sleep(100 * time.Millisecond)
		a.PushByNodeID(ctx, "task", KindEncGHList, "node-b", []byte("gh"), 0)
	}()
	msg, err := b.Pop(ctx, "task", KindEncGHList, "a")
	require.NoError(t, err)
	require.Equal(t, "gh", string(msg.Payload))
	require.Equal(t, "a_task_ENC_GH_LIST", msg.Topic)

	node, err := a.SelectNode("b")
	require.NoError(t, err)
	require.Equal(t, "node-b", node)

	b.ReleaseTask("task")
	b.ReleaseTask("task")
}

func TestModelTransportTaskFinished(t *testing.T) {
	var finished int32
	hub := NewMemoryHub()
	b := NewModelTransport(hub.Join("b", DefaultComponent, "node-b"), fastConf, func(string) bool {
		return atomic.LoadInt32(&finished) == 1
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
	}()
	_, err := b.Pop(context.Background(), "task", KindSplitInfo, "a")
	require.True(t, errorx.Is(err, errcodes.ErrCodeMessageNotDelivered))
}

func TestModelTransportCanceled(t *testing.T) {
	hub := NewMemoryHub()
	conf := fastConf
	conf.PopTimeout = time.Minute
	b := NewModelTransport(hub.Join("b", DefaultComponent, "node-b"), conf, running)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := b.Pop(ctx, "task", KindSplitInfo, "a")
	require.True(t, errorx.Is(err, errcodes.ErrCodeTaskKilled))
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestModelTransportHandshake(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a := NewModelTransport(hub.Join("a", DefaultComponent, "node-a"), fastConf, running)
	b := NewModelTransport(hub.Join("b", DefaultComponent, "node-b"), fastConf, running)

	b.RegisterHandshake("task")
	require.NoError(t, a.PushHandshake(ctx, "task", "node-b"))
	msg, err := b.PopHandshake(ctx, "task", time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", msg.SrcAgency)
	require.Equal(t, "node-a", msg.SrcNode)

	require.NoError(t, a.PushHandshake(ctx, "task", "node-b"))
	b.UnregisterHandshake("task")
	msg, err = b.PopHandshake(ctx, "task", 10*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func (m *mailbox) size() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.queues)
}

func TestReleaseTaskReclaimsLateMessages(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a := NewModelTransport(hub.Join("a", DefaultComponent, "node-a"), fastConf, running)
	bt := hub.Join("b", DefaultComponent, "node-b")
	b := NewModelTransport(bt, fastConf, running)
	now := time.Now()
	bt.box.now = func() time.Time { return now }

	require.NoError(t, a.PushByNodeID(ctx, "task-1", KindInstance, "node-b", []byte("x"), 0))
	require.NoError(t, a.PushByNodeID(ctx, "task-1_2", KindInstance, "node-b", []byte("y"), 0))
	b.ReleaseTask("task-1")
	require.Equal(t, 1, bt.box.size())
	require.Equal(t, 1, bt.box.pending(AgencyTopic("a", "task-1_2", KindInstance)))

	// messages of the released task still in flight
	for i := 0; i < 100; i++ {
		require.NoError(t, a.PushByNodeID(ctx, "task-1", Kind(KindInstanceMask, i), "node-b", []byte("m"), 0))
	}
	require.NoError(t, a.PushHandshake(ctx, "task-1", "node-b"))
	require.Equal(t, 102, bt.box.size())

	now = now.Add(releaseRetention + time.Second)
	require.NoError(t, a.PushByNodeID(ctx, "task-1_2", KindInstance, "node-b", []byte("y"), 1))
	require.Equal(t, 1, bt.box.size())
	require.Equal(t, 2, bt.box.pending(AgencyTopic("a", "task-1_2", KindInstance)))

	// nothing is retained once the deadline passed
	b.ReleaseTask("task-1_2")
	require.Equal(t, 0, bt.box.size())
	require.NotContains(t, bt.box.released, "task-1")
}

func TestReleaseTaskRunAgain(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a := NewModelTransport(hub.Join("a", DefaultComponent, "node-a"), fastConf, running)
	bt := hub.Join("b", DefaultComponent, "node-b")
	b := NewModelTransport(bt, fastConf, running)
	now := time.Now()
	bt.box.now = func() time.Time { return now }

	b.RegisterHandshake("task")
	b.ReleaseTask("task")

	// the peer of the next run handshakes before the local node registers
	require.NoError(t, a.PushHandshake(ctx, "task", "node-b"))
	b.RegisterHandshake("task")
	require.NoError(t, a.PushByNodeID(ctx, "task", KindEncGHList, "node-b", []byte("gh"), 0))

	now = now.Add(2 * releaseRetention)
	require.NoError(t, a.PushByNodeID(ctx, "other", KindEncGHList, "node-b", nil, 0))

	msg, err := b.PopHandshake(ctx, "task", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	msg, err = b.Pop(ctx, "task", KindEncGHList, "a")
	require.NoError(t, err)
	require.Equal(t, "gh", string(msg.Payload))
}
