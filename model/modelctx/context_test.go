package modelctx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/phe"
	"github.com/cyjseagull/WeDPR-Component/storage/local"
	"github.com/cyjseagull/WeDPR-Component/symmetric"
)

func newDeps(t *testing.T, agency string) *Deps {
	dir := t.TempDir()
	st, err := local.New(filepath.Join(dir, "storage"), "/wedpr")
	require.NoError(t, err)
	require.NoError(t, st.SaveData([]byte("id,x1,y\na,1,0\nb,2,1\n"), "alice/dataset/d1.csv"))
	require.NoError(t, st.SaveData([]byte("id\na\n"), "alice/psi/result.csv"))
	keyFile := filepath.Join(dir, "aes.key")
	require.NoError(t, symmetric.GenerateKeyFile(keyFile))
	return &Deps{
		Storage:      st,
		AgencyID:     agency,
		JobTempDir:   filepath.Join(dir, "jobs"),
		CipherFamily: phe.FamilyIHC,
		AESKeyFile:   keyFile,
	}
}

func trainArgs() *Args {
	return &Args{
		JobID:                "job-1",
		User:                 "alice",
		IsLabelHolder:        true,
		ParticipantIDList:    []string{"A", "B"},
		ResultReceiverIDList: []string{"A", "B"},
		AlgorithmType:        string(AlgorithmTrain),
		DatasetID:            "d1.csv",
		DatasetPath:          "alice/dataset/d1.csv",
		PSIResultPath:        "alice/psi/result.csv",
		ModelDict:            json.RawMessage(`{"use_psi":"true","n_estimators":2,"max_depth":"2"}`),
	}
}

func TestNewActive(t *testing.T) {
	deps := newDeps(t, "A")
	c, err := New(deps, "task-1", trainArgs())
	require.NoError(t, err)

	require.True(t, c.IsActive())
	require.NotNil(t, c.Cipher)
	require.NotNil(t, c.Key)
	require.Equal(t, "A", c.ActiveAgency())
	require.Equal(t, []string{"B"}, c.Partners())
	require.Equal(t, 1, c.AgencyIndex("B"))
	require.Equal(t, -1, c.AgencyIndex("C"))
	require.True(t, c.IsResultReceiver("B"))
	require.Equal(t, 2, c.Params.NEstimators)
	require.Equal(t, 2, c.Params.MaxDepth)

	require.Equal(t, filepath.Join(deps.JobTempDir, "task-1"), c.Workspace)
	require.Equal(t, "alice/share/jobs/model/job-1", c.RemoteDir)
	content, err := os.ReadFile(c.DatasetFile)
	require.NoError(t, err)
	require.Contains(t, string(content), "id,x1,y")
	_, err = os.Stat(c.PSIFile)
	require.NoError(t, err)

	require.Equal(t, []string{"feature_importance", "metrics_iteration", "summary_evaluation",
		"test_model_output", "train_model_output"}, c.SyncKeys())
	require.Equal(t, "alice/share/jobs/model/job-1/feature_importance.csv", c.SyncFileList["feature_importance"].Remote)

	require.NoError(t, c.RemoveWorkspace())
	_, err = os.Stat(c.Workspace)
	require.True(t, os.IsNotExist(err))
}

func TestNewPassive(t *testing.T) {
	args := trainArgs()
	args.IsLabelHolder = false
	c, err := New(newDeps(t, "B"), "task-1", args)
	require.NoError(t, err)
	require.False(t, c.IsActive())
	require.Nil(t, c.Cipher)
	require.Equal(t, "A", c.ActiveAgency())
	require.Equal(t, []string{"A"}, c.Partners())
}

func TestWorkspacePerTask(t *testing.T) {
	deps := newDeps(t, "A")
	first, err := New(deps, "task-1", trainArgs())
	require.NoError(t, err)
	// a retry of the same job runs as a new task
	second, err := New(deps, "task-2", trainArgs())
	require.NoError(t, err)
	require.NotEqual(t, first.Workspace, second.Workspace)
	require.Equal(t, first.RemoteDir, second.RemoteDir)

	require.NoError(t, first.RemoveWorkspace())
	_, err = os.Stat(second.DatasetFile)
	require.NoError(t, err)
}

func TestNewValidation(t *testing.T) {
	cases := map[string]func(a *Args){
		"no job":           func(a *Args) { a.JobID = "" },
		"no dataset":       func(a *Args) { a.DatasetPath = "" },
		"no psi":           func(a *Args) { a.PSIResultPath = "" },
		"no participants":  func(a *Args) { a.ParticipantIDList = nil },
		"not participant":  func(a *Args) { a.ParticipantIDList = []string{"B", "C"} },
		"active not first": func(a *Args) { a.ParticipantIDList = []string{"B", "A"} },
		"bad algorithm":    func(a *Args) { a.AlgorithmType = "Eval" },
		"predict no model": func(a *Args) { a.AlgorithmType = string(AlgorithmPredict) },
		"bad model dict":   func(a *Args) { a.ModelDict = json.RawMessage(`{"learning_rate":"fast"}`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			args := trainArgs()
			mutate(args)
			_, err := New(newDeps(t, "A"), "task-1", args)
			require.Error(t, err)
			require.True(t, errorx.Is(err, errcodes.ErrCodeParam))
		})
	}

	// missing remote dataset
	args := trainArgs()
	args.DatasetPath = "alice/dataset/missing.csv"
	_, err := New(newDeps(t, "A"), "task-1", args)
	require.True(t, errorx.Is(err, errcodes.ErrCodeStorage))
}

func TestNewPredict(t *testing.T) {
	descriptor := ModelDescriptor{
		ModelType:     "xgb_model",
		LabelProvider: "A",
		LabelColumn:   "y",
		ParticipantAgencyList: []AgencyFields{
			{Agency: "A", Fields: []string{"x1"}},
			{Agency: "B", Fields: []string{"x2"}},
		},
		ModelDict: json.RawMessage(`{"categorical_feature":"x1"}`),
		ModelText: map[string][]string{"A": {"YQ==", "Yg=="}},
	}
	text, err := json.Marshal(descriptor)
	require.NoError(t, err)

	args := trainArgs()
	args.AlgorithmType = string(AlgorithmPredict)
	args.ModelPredictAlgorithm = string(text)
	args.ModelDict = nil
	args.PSIResultPath = ""
	c, err := New(newDeps(t, "A"), "task-2", args)
	require.NoError(t, err)
	require.Equal(t, "A", c.ModelPredict.LabelProvider)
	require.Equal(t, []string{"x1"}, c.Params.CategoricalFeature)
	require.Empty(t, c.SyncFileList)
	require.Empty(t, c.PSIFile)

	args.ModelPredictAlgorithm = "{"
	_, err = New(newDeps(t, "A"), "task-2", args)
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))
}

func TestParseLGBMParams(t *testing.T) {
	p, err := ParseLGBMParams(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultLGBMParams(), p)

	p, err = ParseLGBMParams(json.RawMessage(`"{\"learning_rate\":\"0.3\",\"seed\":\"7\",\"categorical\":\"c1, c2\",\"train_features\":[\"x1\",\"x2\"],\"use_psi\":\"False\"}"`))
	require.NoError(t, err)
	require.Equal(t, 0.3, p.LearningRate)
	require.Equal(t, int64(7), p.RandomState)
	require.Equal(t, []string{"c1", "c2"}, p.CategoricalFeature)
	require.Equal(t, []string{"x1", "x2"}, p.TrainFeatures)
	require.False(t, p.UsePSI)
	require.Equal(t, 31, p.NumLeaves)

	for _, bad := range []string{
		`{"num_leaves":1}`,
		`{"test_size":1}`,
		`{"eval_metric":"ks"}`,
		`{"use_psi":"maybe"}`,
		`[1,2]`,
	} {
		_, err := ParseLGBMParams(json.RawMessage(bad))
		require.True(t, errorx.Is(err, errcodes.ErrCodeParam), bad)
	}
}
