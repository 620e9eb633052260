package codec

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cyjseagull/WeDPR-Component/phe"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := rapid.Float64Range(-1000, 1000).Draw(rt, "g")
		h := rapid.Float64Range(-1000, 1000).Draw(rt, "h")

		gs, hs := UnpackGH(PackGH([]float64{g}, []float64{h}))
		require.InDelta(rt, g, gs[0], 1.0/Expand+1e-9)
		require.InDelta(rt, h, hs[0], 1.0/Expand+1e-9)
	})
}

func TestPackedSums(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(rt, "n")
		g := rapid.SliceOfN(rapid.Float64Range(-1, 1), n, n).Draw(rt, "g")
		h := rapid.SliceOfN(rapid.Float64Range(0, 1), n, n).Draw(rt, "h")

		sum := big.NewInt(0)
		var gq, hq int64
		for i, p := range PackGH(g, h) {
			sum.Add(sum, p)
			gq += Quantize(g[i])
			hq += Quantize(h[i])
		}
		gs, hs := UnpackGH([]*big.Int{sum})
		require.Equal(rt, float64(gq)/Expand, gs[0])
		require.Equal(rt, float64(hq)/Expand, hs[0])
	})
}

func TestQuantizeTruncates(t *testing.T) {
	require.Equal(t, int64(123), Quantize(0.1239))
	require.Equal(t, int64(-123), Quantize(-0.1239))
	require.Equal(t, int64(0), Quantize(0.0009))
	require.Equal(t, int64(1000000), Quantize(1000))
}

func ciphers(t *testing.T) []phe.Cipher {
	p, err := phe.New(phe.FamilyPaillier, 256, 0)
	require.NoError(t, err)
	i, err := phe.New(phe.FamilyIHC, 0, 0)
	require.NoError(t, err)
	return []phe.Cipher{p, i}
}

func TestEncryptedHistogram(t *testing.T) {
	ctx := context.Background()
	g := []float64{0.5, -0.25, -0.5, 0.125}
	h := []float64{0.25, 0.1875, 0.25, 0.125}
	for _, c := range ciphers(t) {
		t.Run(string(c.Family()), func(t *testing.T) {
			cts, err := EncryptBatch(ctx, c, PackGH(g, h))
			require.NoError(t, err)
			require.Len(t, cts, len(g))

			// the receiver only sees the vector payload
			ev, got, err := DecodeVector(EncodeVector(c, cts))
			require.NoError(t, err)
			require.Len(t, got, len(g))

			// two bins: {0, 2} and {1, 3}, plus an empty bin
			bin0, err := phe.SumAll(ev, got[0], got[2])
			require.NoError(t, err)
			bin1, err := phe.SumAll(ev, got[1], got[3])
			require.NoError(t, err)
			payload := EncodeMatrix(ev, [][]phe.Ciphertext{{bin0, bin1, nil}, {}})

			_, rows, err := DecodeMatrix(payload)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			require.Len(t, rows[0], 3)
			require.Len(t, rows[1], 0)

			plain, err := DecryptBatch(ctx, c, rows[0])
			require.NoError(t, err)
			gs, hs := UnpackGH(plain)
			require.InDelta(t, 0.0, gs[0], 1e-9)
			require.InDelta(t, 0.5, hs[0], 1e-9)
			require.InDelta(t, -0.125, gs[1], 1e-9)
			require.InDelta(t, 0.312, hs[1], 1e-9)
			require.Equal(t, 0.0, gs[2])
			require.Equal(t, 0.0, hs[2])
		})
	}
}

func TestEncryptBatchKeepsOrder(t *testing.T) {
	c := ciphers(t)[1]
	values := make([]*big.Int, 100)
	for i := range values {
		values[i] = big.NewInt(int64(i * 7))
	}
	cts, err := EncryptBatch(context.Background(), c, values)
	require.NoError(t, err)
	plain, err := DecryptBatch(context.Background(), c, cts)
	require.NoError(t, err)
	for i := range values {
		require.Equal(t, values[i].Int64(), plain[i].Int64())
	}

	empty, err := EncryptBatch(context.Background(), c, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDecodeMalformed(t *testing.T) {
	_, _, err := DecodeVector([]byte{0xff})
	require.Error(t, err)

	// no family
	_, _, err = DecodeVector([]byte{})
	require.Error(t, err)

	c := ciphers(t)[0]
	payload := EncodeVector(c, nil)
	_, _, err = DecodeVector(payload[:len(payload)-1])
	require.Error(t, err)
}
