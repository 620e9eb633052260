package task

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

func newLevelDBStore(t *testing.T) Store {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelDBStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLiteStore(t *testing.T) Store {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"leveldb": newLevelDBStore(t),
		"sqlite":  newSQLiteStore(t),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.QueryTask(ctx, "w1")
			require.True(t, errorx.Is(err, errcodes.ErrCodeTaskNotFound))

			finished, err := s.JobFinished(ctx, "job")
			require.NoError(t, err)
			require.True(t, finished)

			require.NoError(t, s.Upsert(ctx, &JobWorkerRecord{WorkerID: "w1", JobID: "job", Type: "XGB_TRAINING",
				Status: string(StatusRunning), Args: `{"job_id":"job"}`}))
			require.NoError(t, s.Upsert(ctx, &JobWorkerRecord{WorkerID: "w2", JobID: "job", Type: "XGB_PREDICTING",
				Status: string(StatusRunning)}))
			require.NoError(t, s.Upsert(ctx, &JobWorkerRecord{WorkerID: "w3", JobID: "other",
				Status: string(StatusRunning)}))

			record, err := s.QueryTask(ctx, "w1")
			require.NoError(t, err)
			require.Equal(t, "job", record.JobID)
			require.Equal(t, "XGB_TRAINING", record.Type)
			require.Equal(t, `{"job_id":"job"}`, record.Args)
			created := record.CreateTime

			records, err := s.QueryTasks(ctx, "job")
			require.NoError(t, err)
			require.Len(t, records, 2)

			finished, err = s.JobFinished(ctx, "job")
			require.NoError(t, err)
			require.False(t, finished)

			r := &Result{TaskID: "w1", Status: StatusSuccess}
			r.Finalize()
			require.NoError(t, s.OnTaskFinished(ctx, r))
			r = &Result{TaskID: "w2", Status: StatusKilled, DiagnosisMsg: "task killed"}
			r.Finalize()
			require.NoError(t, s.OnTaskFinished(ctx, r))

			finished, err = s.JobFinished(ctx, "job")
			require.NoError(t, err)
			require.True(t, finished)

			record, err = s.QueryTask(ctx, "w2")
			require.NoError(t, err)
			require.Equal(t, string(StatusKilled), record.Status)
			require.Contains(t, record.ExecResult, `"diagnosis_msg":"task killed"`)

			// upsert keeps the creation time
			require.NoError(t, s.Upsert(ctx, &JobWorkerRecord{WorkerID: "w1", JobID: "job",
				Status: string(StatusRunning)}))
			record, err = s.QueryTask(ctx, "w1")
			require.NoError(t, err)
			require.Equal(t, string(StatusRunning), record.Status)
			require.True(t, created.Equal(record.CreateTime))
		})
	}
}
