package booster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cyjseagull/WeDPR-Component/codec"
	"github.com/cyjseagull/WeDPR-Component/dataset"
	"github.com/cyjseagull/WeDPR-Component/errcodes"
	"github.com/cyjseagull/WeDPR-Component/model/modelctx"
	"github.com/cyjseagull/WeDPR-Component/phe"
	"github.com/cyjseagull/WeDPR-Component/router"
	"github.com/cyjseagull/WeDPR-Component/storage/local"
	"github.com/cyjseagull/WeDPR-Component/symmetric"
	"github.com/cyjseagull/WeDPR-Component/transport"
)

const numRecords = 20

var transportConf = transport.ModelTransportConf{
	SendTimeout:  time.Second,
	PopTimeout:   50 * time.Millisecond,
	PollInterval: 5 * time.Millisecond,
}

var modelDict = json.RawMessage(`{"n_estimators":2,"max_depth":2,"test_size":0,"min_child_samples":1,` +
	`"learning_rate":0.3,"reg_lambda":1,"max_bin":10,"early_stopping_rounds":0}`)

// samples of two parties: A holds x1 and y, B holds x2. Every x1 has two
// decimals above 100, so it can be searched in text files.
type samples struct {
	ids    []string
	x1, x2 []float64
	y      []float64
}

func newSamples() *samples {
	s := &samples{}
	for i := 0; i < numRecords; i++ {
		k := (i * 7919) % 97
		x1 := float64(10073+k*131) / 100
		x2 := float64((i*13)%numRecords) / 2
		y := 0.0
		if (x2 >= 5 && k%5 != 0) || k > 80 {
			y = 1
		}
		s.ids = append(s.ids, fmt.Sprintf("id%02d", i))
		s.x1 = append(s.x1, x1)
		s.x2 = append(s.x2, x2)
		s.y = append(s.y, y)
	}
	return s
}

func (s *samples) csvA() []byte {
	var b strings.Builder
	b.WriteString("id,x1,y\n")
	for i, id := range s.ids {
		fmt.Fprintf(&b, "%s,%s,%s\n", id, formatFloat(s.x1[i]), formatFloat(s.y[i]))
	}
	return []byte(b.String())
}

func (s *samples) csvB() []byte {
	var b strings.Builder
	b.WriteString("id,x2\n")
	for i, id := range s.ids {
		fmt.Fprintf(&b, "%s,%s\n", id, formatFloat(s.x2[i]))
	}
	return []byte(b.String())
}

type party struct {
	agency  string
	deps    *modelctx.Deps
	storage *local.Storage
	router  *router.Router
}

func newParty(t *testing.T, hub *transport.MemoryHub, agency string, family phe.Family, data []byte) *party {
	dir := t.TempDir()
	st, err := local.New(filepath.Join(dir, "storage"), "/wedpr")
	require.NoError(t, err)
	require.NoError(t, st.SaveData(data, "user/dataset/"+agency+".csv"))
	keyFile := filepath.Join(dir, "aes.key")
	require.NoError(t, symmetric.GenerateKeyFile(keyFile))

	keyLength := 0
	if family == phe.FamilyPaillier {
		keyLength = 256
	}
	tr := hub.Join(agency, transport.DefaultComponent, agency+"-node")
	mt := transport.NewModelTransport(tr, transportConf, func(string) bool { return false })
	return &party{
		agency:  agency,
		storage: st,
		router:  router.New(mt, 10*time.Second),
		deps: &modelctx.Deps{
			Storage:      st,
			AgencyID:     agency,
			JobTempDir:   filepath.Join(dir, "jobs"),
			CipherFamily: family,
			KeyLength:    keyLength,
			AESKeyFile:   keyFile,
		},
	}
}

func (p *party) args(jobID string, active bool) *modelctx.Args {
	return &modelctx.Args{
		JobID:                jobID,
		User:                 "user",
		IsLabelHolder:        active,
		ParticipantIDList:    []string{"A", "B"},
		ResultReceiverIDList: []string{"A", "B"},
		AlgorithmType:        string(modelctx.AlgorithmTrain),
		DatasetID:            p.agency + ".csv",
		DatasetPath:          "user/dataset/" + p.agency + ".csv",
		ModelDict:            modelDict,
	}
}

// runAll runs fn on both parties after the handshake of taskID
func runAll(t *testing.T, taskID string, parties []*party, fn func(ctx context.Context, i int) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	participants := []string{"A", "B"}
	g, gctx := errgroup.WithContext(ctx)
	for i := range parties {
		i := i
		g.Go(func() error {
			if err := parties[i].router.Handshake(gctx, taskID, participants); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

func leaves(n *Node, out []float64) []float64 {
	if n.Leaf {
		return append(out, n.Weight)
	}
	return leaves(n.Right, leaves(n.Left, out))
}

func splits(n *Node, out []*SplitInfo) []*SplitInfo {
	if n.Leaf {
		return out
	}
	out = append(out, n.Split)
	return splits(n.Right, splits(n.Left, out))
}

func TestTwoPartyTraining(t *testing.T) {
	for _, family := range []phe.Family{phe.FamilyIHC, phe.FamilyPaillier} {
		t.Run(string(family), func(t *testing.T) {
			testTwoPartyTraining(t, family)
		})
	}
}

func testTwoPartyTraining(t *testing.T, family phe.Family) {
	s := newSamples()
	hub := transport.NewMemoryHub()
	parties := []*party{
		newParty(t, hub, "A", family, s.csvA()),
		newParty(t, hub, "B", family, s.csvB()),
	}

	taskID := uuid.NewString()
	contexts := make([]*modelctx.SecureModelContext, 2)
	boosters := make([]*VerticalBooster, 2)
	for i, p := range parties {
		c, err := modelctx.New(p.deps, taskID, p.args("job-train", i == 0))
		require.NoError(t, err)
		contexts[i] = c
	}
	err := runAll(t, taskID, parties, func(ctx context.Context, i int) error {
		b, err := Train(ctx, contexts[i], parties[i].router)
		boosters[i] = b
		return err
	})
	require.NoError(t, err)

	a, b := boosters[0], boosters[1]
	require.Len(t, a.Trees(), 2)
	require.Len(t, b.Trees(), 2)
	for i := range a.Trees() {
		require.True(t, SameStructure(a.Trees()[i], b.Trees()[i]), "tree %d", i)
	}

	// the label holder matches a plaintext single party model
	ref := newReference(t, s, a.params)
	refTrees := ref.fit()
	for i, tree := range a.Trees() {
		require.True(t, SameStructure(refTrees[i], tree), "tree %d", i)
		require.InDeltaSlice(t, leaves(refTrees[i], nil), leaves(tree, nil), 1e-3)
		for j, split := range splits(tree, nil) {
			want := splits(refTrees[i], nil)[j]
			if split.AgencyIdx == 0 {
				require.Equal(t, want.Value, split.Value)
			} else {
				require.Equal(t, -1, split.Value)
			}
		}
	}
	require.NotEmpty(t, splits(a.Trees()[0], nil))

	// the passive tree file holds no value of x1 nor bins of A's splits
	text, err := parties[1].storage.GetData(contexts[1].RemotePath(modelctx.ModelDataFile))
	require.NoError(t, err)
	for _, x1 := range s.x1 {
		require.NotContains(t, string(text), formatFloat(x1))
	}
	passiveTrees, err := DecodeTrees(text)
	require.NoError(t, err)
	for _, tree := range passiveTrees {
		for _, split := range splits(tree, nil) {
			if split.AgencyIdx == 0 {
				require.Equal(t, -1, split.Value)
			}
		}
		for _, w := range leaves(tree, nil) {
			require.Equal(t, 0.0, w)
		}
	}

	// both parties hold the merged model, each can decrypt its own part only
	for i, p := range parties {
		data, err := p.storage.GetData(contexts[i].RemotePath(modelctx.ModelEncFile))
		require.NoError(t, err)
		m, err := modelctx.ParseModelDescriptor(string(data))
		require.NoError(t, err)
		require.Equal(t, ModelType, m.ModelType)
		require.Equal(t, "A", m.LabelProvider)
		require.Equal(t, []string{"x1"}, m.FieldsOf("A"))
		require.Equal(t, []string{"x2"}, m.FieldsOf("B"))
		require.Len(t, m.ModelText, 2)
	}

	// result files reach the passive receiver
	for _, name := range []string{modelctx.MetricsIterationFile, modelctx.FeatureImportanceFile,
		modelctx.SummaryEvaluationFile, modelctx.TrainModelOutputFile} {
		ok, err := parties[1].storage.FileExisted(contexts[1].RemotePath(name))
		require.NoError(t, err)
		require.True(t, ok, name)
	}
	require.Len(t, a.History(), 2)
	require.Greater(t, a.History()[1].TrainAUC, 0.5)
	require.NotEmpty(t, a.Importance())

	// predict with the merged model
	data, err := parties[0].storage.GetData(contexts[0].RemotePath(modelctx.ModelEncFile))
	require.NoError(t, err)
	predictTask := uuid.NewString()
	for i, p := range parties {
		args := p.args("job-predict", i == 0)
		args.AlgorithmType = string(modelctx.AlgorithmPredict)
		args.ModelPredictAlgorithm = string(data)
		args.ModelDict = nil
		c, err := modelctx.New(p.deps, predictTask, args)
		require.NoError(t, err)
		contexts[i] = c
	}
	var proba []float64
	err = runAll(t, predictTask, parties, func(ctx context.Context, i int) error {
		data, err := LoadDataset(contexts[i])
		if err != nil {
			return err
		}
		b := New(contexts[i], parties[i].router, data)
		p, err := b.Predict(ctx)
		if err != nil {
			return err
		}
		if i == 0 {
			proba = p
		}
		return b.SavePredictResults(ctx, p)
	})
	require.NoError(t, err)
	require.InDeltaSlice(t, probabilities(a.trainScore), proba, 1e-9)

	output, err := parties[1].storage.GetData(contexts[1].RemotePath(modelctx.TestModelOutputFile))
	require.NoError(t, err)
	rows, err := dataset.ReadRows(output)
	require.NoError(t, err)
	require.Len(t, rows, numRecords+1)
	require.Equal(t, []string{"id", "class_pred", "class_label"}, rows[0])
	got, err := strconv.ParseFloat(rows[1][1], 64)
	require.NoError(t, err)
	require.InDelta(t, proba[0], got, 1e-12)
}

func TestMisalignedSamples(t *testing.T) {
	s := newSamples()
	other := newSamples()
	other.ids[3] = "id99"

	hub := transport.NewMemoryHub()
	parties := []*party{
		newParty(t, hub, "A", phe.FamilyIHC, s.csvA()),
		newParty(t, hub, "B", phe.FamilyIHC, other.csvB()),
	}
	taskID := uuid.NewString()
	errs := make([]error, 2)
	_ = runAll(t, taskID, parties, func(ctx context.Context, i int) error {
		c, err := modelctx.New(parties[i].deps, taskID, parties[i].args("job-train", i == 0))
		if err != nil {
			return err
		}
		_, errs[i] = Train(ctx, c, parties[i].router)
		return nil
	})
	for _, err := range errs {
		require.Error(t, err)
		require.True(t, errorx.Is(err, errcodes.ErrCodeProtocol), err.Error())
	}
}

// reference is a plaintext single party booster over x1 and x2 using the
// same fixed point statistics
type reference struct {
	p      *modelctx.LGBMParams
	bins   *dataset.Binned
	labels []float64
	scores []float64
}

func newReference(t *testing.T, s *samples, p *modelctx.LGBMParams) *reference {
	d := &dataset.Dataset{
		IDs:      s.ids,
		Features: []string{"x1", "x2"},
		Columns:  [][]float64{s.x1, s.x2},
		Labels:   s.y,
	}
	bins, err := d.Bin(d.FitBins(p.MaxBin, nil), nil)
	require.NoError(t, err)
	return &reference{p: p, bins: bins, labels: s.y, scores: make([]float64, len(s.y))}
}

func (r *reference) fit() []*Node {
	var trees []*Node
	for t := 0; t < r.p.NEstimators; t++ {
		g := make([]float64, len(r.scores))
		h := make([]float64, len(r.scores))
		for i, s := range r.scores {
			p := 1 / (1 + math.Exp(-s))
			g[i] = p - r.labels[i]
			h[i] = p * (1 - p)
		}
		idx := make([]int, len(r.scores))
		for i := range idx {
			idx[i] = i
		}
		nodeID := 0
		trees = append(trees, r.grow(t, &nodeID, g, h, idx, 0))
	}
	return trees
}

func (r *reference) grow(treeID int, nodeID *int, g, h []float64, idx []int, depth int) *Node {
	id := *nodeID
	*nodeID++
	leaf := func() *Node {
		var gs, hs float64
		for _, i := range idx {
			gs += g[i]
			hs += h[i]
		}
		w := -r.p.LearningRate * gs / (hs + r.p.RegLambda)
		for _, i := range idx {
			r.scores[i] += w
		}
		return &Node{Leaf: true, Weight: w}
	}
	if depth >= r.p.MaxDepth || len(idx) < 2*r.p.MinChildSamples || len(idx) < 2 {
		return leaf()
	}

	var gq, hq int64
	for _, i := range idx {
		gq += codec.Quantize(g[i])
		hq += codec.Quantize(h[i])
	}
	gt, ht := float64(gq)/codec.Expand, float64(hq)/codec.Expand
	lambda := r.p.RegLambda
	bestF, bestV, bestGain := -1, -1, 0.0
	for f := range r.bins.Features {
		gb := make([]int64, r.bins.NumBins[f])
		hb := make([]int64, r.bins.NumBins[f])
		for _, i := range idx {
			gb[r.bins.Bins[f][i]] += codec.Quantize(g[i])
			hb[r.bins.Bins[f][i]] += codec.Quantize(h[i])
		}
		var gl, hl float64
		for b := 0; b < len(gb)-1; b++ {
			gl += float64(gb[b]) / codec.Expand
			hl += float64(hb[b]) / codec.Expand
			gr, hr := gt-gl, ht-hl
			if hl < r.p.MinChildWeight || hr < r.p.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - gt*gt/(ht+lambda)
			if bestF == -1 || gain > bestGain {
				bestF, bestV, bestGain = f, b, gain
			}
		}
	}
	if bestF == -1 || bestGain <= r.p.MinSplitGain {
		return leaf()
	}

	var left, right []int
	for _, i := range idx {
		if r.bins.Bins[bestF][i] <= bestV {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node := &Node{Split: &SplitInfo{TreeID: treeID, NodeID: id, AgencyIdx: bestF, Value: bestV, Gain: bestGain}}
	node.Left = r.grow(treeID, nodeID, g, h, left, depth+1)
	node.Right = r.grow(treeID, nodeID, g, h, right, depth+1)
	return node
}
