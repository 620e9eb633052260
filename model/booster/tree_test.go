package booster

import (
	"testing"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	"github.com/stretchr/testify/require"

	"github.com/cyjseagull/WeDPR-Component/errcodes"
)

func sampleTree(value int) *Node {
	return &Node{
		Split: &SplitInfo{TreeID: 0, NodeID: 0, AgencyIdx: 1, AgencyFeature: 2, Value: value, Gain: 0.5},
		Left:  newLeaf(0.1),
		Right: &Node{
			Split: &SplitInfo{TreeID: 0, NodeID: 2, AgencyIdx: 0, AgencyFeature: 0, Value: 3, Gain: 0.2},
			Left:  newLeaf(-0.2),
			Right: newLeaf(0.3),
		},
	}
}

func TestEncodeDecodeTrees(t *testing.T) {
	data, err := EncodeTrees([]*Node{sampleTree(4), newLeaf(0.7)})
	require.NoError(t, err)
	trees, err := DecodeTrees(data)
	require.NoError(t, err)
	require.Len(t, trees, 2)
	require.Equal(t, sampleTree(4), trees[0])
	require.True(t, trees[1].Leaf)

	_, err = DecodeTrees([]byte(`{"version":2,"trees":[]}`))
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))
	_, err = DecodeTrees([]byte(`{"version":1,"trees":[{"leaf":false}]}`))
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))
	_, err = DecodeTrees([]byte(`{"version":1,"trees":[{"leaf":false,"split":{},"left":{"leaf":true}}]}`))
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))
	_, err = DecodeTrees([]byte(`[`))
	require.True(t, errorx.Is(err, errcodes.ErrCodeModel))
}

func TestSameStructure(t *testing.T) {
	require.True(t, SameStructure(sampleTree(4), sampleTree(-1)))

	other := sampleTree(4)
	other.Split.AgencyFeature = 1
	require.False(t, SameStructure(sampleTree(4), other))

	other = sampleTree(4)
	other.Right = newLeaf(0)
	require.False(t, SameStructure(sampleTree(4), other))
	require.False(t, SameStructure(sampleTree(4), nil))
}

func TestSplitMessage(t *testing.T) {
	in := &splitMessage{Split: SplitInfo{TreeID: 3, NodeID: 7, AgencyIdx: 1, AgencyFeature: 4, Value: -1, Gain: 1.25}}
	out, err := decodeSplit(encodeSplit(in))
	require.NoError(t, err)
	require.Equal(t, in, out)

	leaf := &splitMessage{Leaf: true, Split: SplitInfo{TreeID: 1}}
	out, err = decodeSplit(encodeSplit(leaf))
	require.NoError(t, err)
	require.Equal(t, leaf, out)

	_, err = decodeSplit([]byte{0xff})
	require.True(t, errorx.Is(err, errcodes.ErrCodeProtocol))
}

func TestInstanceDigest(t *testing.T) {
	d := instanceDigest([]string{"A", "B"}, []string{"1", "2"}, []string{"3"})
	require.Equal(t, d, instanceDigest([]string{"A", "B"}, []string{"1", "2"}, []string{"3"}))
	require.NotEqual(t, d, instanceDigest([]string{"B", "A"}, []string{"1", "2"}, []string{"3"}))
	require.NotEqual(t, d, instanceDigest([]string{"A", "B"}, []string{"2", "1"}, []string{"3"}))
	require.NotEqual(t, d, instanceDigest([]string{"A", "B"}, []string{"1", "2", "3"}, nil))
}
