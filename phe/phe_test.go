package phe

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testCiphers(t *testing.T) map[string]Cipher {
	p, err := New(FamilyPaillier, 256, 0)
	require.NoError(t, err)
	i, err := New(FamilyIHC, 0, 0)
	require.NoError(t, err)
	return map[string]Cipher{"paillier": p, "ihc": i}
}

func TestEncryptDecrypt(t *testing.T) {
	for name, c := range testCiphers(t) {
		t.Run(name, func(t *testing.T) {
			for _, v := range []int64{0, 1, -1, 42, -4294967295, 1 << 40} {
				ct, err := c.Encrypt(big.NewInt(v))
				require.NoError(t, err)
				pt, err := c.Decrypt(ct)
				require.NoError(t, err)
				require.Equal(t, v, pt.Int64())
			}
		})
	}
}

func TestHomomorphicOps(t *testing.T) {
	for name, c := range testCiphers(t) {
		c := c
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				a := rapid.Int64Range(-1<<40, 1<<40).Draw(rt, "a")
				b := rapid.Int64Range(-1<<40, 1<<40).Draw(rt, "b")
				k := rapid.Int64Range(-1000, 1000).Draw(rt, "k")

				ca, err := c.Encrypt(big.NewInt(a))
				require.NoError(rt, err)
				cb, err := c.Encrypt(big.NewInt(b))
				require.NoError(rt, err)

				sum, err := c.Add(ca, cb)
				require.NoError(rt, err)
				pt, err := c.Decrypt(sum)
				require.NoError(rt, err)
				require.Equal(rt, a+b, pt.Int64())

				prod, err := c.MulScalar(ca, big.NewInt(k))
				require.NoError(rt, err)
				pt, err = c.Decrypt(prod)
				require.NoError(rt, err)
				require.Equal(rt, a*k, pt.Int64())
			})
		})
	}
}

func TestRemoteEvaluator(t *testing.T) {
	for name, c := range testCiphers(t) {
		t.Run(name, func(t *testing.T) {
			ev, err := ParseEvaluator(c.Family(), c.MarshalPublic())
			require.NoError(t, err)
			require.Equal(t, c.Family(), ev.Family())

			var cts []Ciphertext
			for _, v := range []int64{5, -7, 11} {
				ct, err := c.Encrypt(big.NewInt(v))
				require.NoError(t, err)
				// ciphertexts travel as bytes
				decoded, err := ev.DecodeCiphertext(ct.Bytes())
				require.NoError(t, err)
				cts = append(cts, decoded)
			}
			// nil is the additive identity
			cts = append(cts, nil)

			sum, err := SumAll(ev, cts...)
			require.NoError(t, err)
			back, err := c.DecodeCiphertext(sum.Bytes())
			require.NoError(t, err)
			pt, err := c.Decrypt(back)
			require.NoError(t, err)
			require.Equal(t, int64(9), pt.Int64())

			pt, err = c.Decrypt(nil)
			require.NoError(t, err)
			require.Equal(t, int64(0), pt.Int64())
		})
	}
}

func TestUnsupportedFamily(t *testing.T) {
	_, err := New(Family("rsa"), 0, 0)
	require.Error(t, err)
	_, err = ParseEvaluator(Family("rsa"), []byte{1})
	require.Error(t, err)
	_, err = ParseEvaluator(FamilyIHC, []byte{1, 2})
	require.Error(t, err)
}

func TestMixedFamilies(t *testing.T) {
	ciphers := testCiphers(t)
	p, i := ciphers["paillier"], ciphers["ihc"]
	cp, err := p.Encrypt(big.NewInt(1))
	require.NoError(t, err)
	ci, err := i.Encrypt(big.NewInt(1))
	require.NoError(t, err)
	_, err = p.Add(cp, ci)
	require.Error(t, err)
}
