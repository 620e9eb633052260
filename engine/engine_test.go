package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"

	"github.com/cyjseagull/WeDPR-Component/config"
	"github.com/cyjseagull/WeDPR-Component/control"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/storage/local"
	"github.com/cyjseagull/WeDPR-Component/symmetric"
	"github.com/cyjseagull/WeDPR-Component/task"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

func datasets() (a, b []byte) {
	var sa, sb strings.Builder
	sa.WriteString("id,x1,y\n")
	sb.WriteString("id,x2\n")
	for i := 0; i < 16; i++ {
		x1 := (i * 5) % 16
		x2 := (i * 3) % 7
		y := 0
		if x1+x2 > 10 {
			y = 1
		}
		fmt.Fprintf(&sa, "s%02d,%d,%d\n", i, x1, y)
		fmt.Fprintf(&sb, "s%02d,%d\n", i, x2)
	}
	return []byte(sa.String()), []byte(sb.String())
}

func newTestEngine(t *testing.T, hub *transport.MemoryHub, agency string, data []byte) *Engine {
	dir := t.TempDir()
	st, err := local.New(filepath.Join(dir, "storage"), "/wedpr")
	require.NoError(t, err)
	require.NoError(t, st.SaveData(data, "user/dataset/"+agency+".csv"))
	keyFile := filepath.Join(dir, "aes.key")
	require.NoError(t, symmetric.GenerateKeyFile(keyFile))
	store, err := task.OpenLevelDBStore(filepath.Join(dir, "db"))
	require.NoError(t, err)

	conf := &config.NodeConf{
		AgencyID:   agency,
		NodeID:     agency + "-node",
		JobTempDir: filepath.Join(dir, "jobs"),
		Transport: &config.TransportConf{
			SendTimeout:      1000,
			PopTimeout:       50,
			PollInterval:     5,
			HandshakeTimeout: 10000,
		},
		Task:   &config.TaskConf{SweepInterval: 1},
		Crypto: &config.CryptoConf{Family: "IHC", AESKeyFile: keyFile},
	}
	tr := hub.Join(agency, transport.DefaultComponent, conf.NodeID)
	e, err := newEngine(conf, tr, st, store, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		cancel()
		e.Close()
	})
	return e
}

func runRequest(t *testing.T, taskID, taskType, agency string, active bool) *control.RunRequest {
	params, err := json.Marshal(&modelctx.Args{
		IsLabelHolder:        active,
		ParticipantIDList:    []string{"A", "B"},
		ResultReceiverIDList: []string{"A"},
		DatasetPath:          "user/dataset/" + agency + ".csv",
		ModelDict:            json.RawMessage(`{"n_estimators":2,"max_depth":2,"test_size":0,"min_child_samples":1,"max_bin":8}`),
	})
	require.NoError(t, err)
	args, err := json.Marshal(&task.Args{JobID: "job-1", User: "user", Params: params})
	require.NoError(t, err)
	return &control.RunRequest{TaskID: taskID, TaskType: taskType, Args: args}
}

func waitStatus(t *testing.T, e *Engine, taskID string, want task.Status) *control.StatusResponse {
	var resp *control.StatusResponse
	require.Eventually(t, func() bool {
		var err error
		resp, err = e.Status(context.Background(), &control.StatusRequest{TaskID: taskID})
		require.NoError(t, err)
		return task.Status(resp.Status).Finished()
	}, time.Minute, 20*time.Millisecond)
	require.Equal(t, string(want), resp.Status, resp.ExecResult)
	return resp
}

func TestTrainingTask(t *testing.T) {
	hub := transport.NewMemoryHub()
	dataA, dataB := datasets()
	a := newTestEngine(t, hub, "A", dataA)
	b := newTestEngine(t, hub, "B", dataB)
	ctx := context.Background()

	_, err := a.Run(ctx, runRequest(t, "task-1", TaskTypeTraining, "A", true))
	require.NoError(t, err)
	_, err = b.Run(ctx, runRequest(t, "task-1", TaskTypeTraining, "B", false))
	require.NoError(t, err)

	waitStatus(t, a, "task-1", task.StatusSuccess)
	waitStatus(t, b, "task-1", task.StatusSuccess)

	existed, err := a.storage.FileExisted(task.RemoteJobDir("user", "job-1") + "/model_enc.kpl")
	require.NoError(t, err)
	require.True(t, existed)
	// the workspace is removed once the task is done
	_, err = os.Stat(filepath.Join(a.deps.JobTempDir, "task-1"))
	require.True(t, os.IsNotExist(err))
	require.Eventually(t, func() bool {
		return !a.router.Connected("task-1", []string{"A", "B"})
	}, 10*time.Second, 10*time.Millisecond)
}

func TestKillPendingHandshake(t *testing.T) {
	hub := transport.NewMemoryHub()
	dataA, _ := datasets()
	a := newTestEngine(t, hub, "A", dataA)
	ctx := context.Background()

	// B is reachable but never runs the task, the handshake blocks until
	// the task is killed
	hub.Join("B", transport.DefaultComponent, "B-node")
	_, err := a.Run(ctx, runRequest(t, "task-2", TaskTypeTraining, "A", true))
	require.NoError(t, err)
	resp, err := a.Status(ctx, &control.StatusRequest{TaskID: "task-2"})
	require.NoError(t, err)
	require.Equal(t, string(task.StatusRunning), resp.Status)

	_, err = a.Kill(ctx, &control.KillRequest{JobID: "job-1"})
	require.NoError(t, err)
	waitStatus(t, a, "task-2", task.StatusKilled)

	// killing again is a no-op
	_, err = a.Kill(ctx, &control.KillRequest{TaskID: "task-2"})
	require.NoError(t, err)
	waitStatus(t, a, "task-2", task.StatusKilled)
}

func TestRunErrors(t *testing.T) {
	hub := transport.NewMemoryHub()
	dataA, _ := datasets()
	a := newTestEngine(t, hub, "A", dataA)
	ctx := context.Background()

	_, err := a.Run(ctx, runRequest(t, "task-3", "LR_TRAINING", "A", true))
	require.True(t, errorx.Is(err, errcodes.ErrCodeUnknownTaskType))

	_, err = a.Run(ctx, &control.RunRequest{TaskID: "task-3", TaskType: TaskTypeTraining, Args: []byte("{")})
	require.True(t, errorx.Is(err, errcodes.ErrCodeParam))

	_, err = a.Run(ctx, &control.RunRequest{TaskType: TaskTypeTraining})
	require.True(t, errorx.Is(err, errcodes.ErrCodeParam))

	// a training job submitted as a prediction task fails in the handler
	req := runRequest(t, "task-4", TaskTypePredicting, "A", true)
	var args task.Args
	require.NoError(t, json.Unmarshal(req.Args, &args))
	args.Params = json.RawMessage(`{"algorithm_type":"Train"}`)
	req.Args, err = json.Marshal(&args)
	require.NoError(t, err)
	_, err = a.Run(ctx, req)
	require.NoError(t, err)
	resp := waitStatus(t, a, "task-4", task.StatusFailure)
	require.Contains(t, resp.ExecResult, "does not match")

	resp, err = a.Status(ctx, &control.StatusRequest{TaskID: "missing"})
	require.NoError(t, err)
	require.Equal(t, string(task.StatusNotFound), resp.Status)

	_, err = a.Kill(ctx, &control.KillRequest{})
	require.True(t, errorx.Is(err, errcodes.ErrCodeParam))

	_, err = a.Log(ctx, &control.LogRequest{JobID: "job-1", User: "user"})
	require.True(t, errorx.Is(err, errcodes.ErrCodeConfig))
}
