package repartition

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/remytuyeras/aces-go/rng"
	"github.com/stretchr/testify/require"
)

// bigIntComparer lets go-cmp compare *big.Int values by their mathematical
// value rather than panicking on math/big's unexported fields, the same
// role rlwe/params.go's Equal methods play for the teacher's own cmp-based
// Parameters comparisons.
var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
})

// TestConstructIsReproducibleUnderSameSeed pins that construction is a pure
// function of its injected randomness: two Repartitions built from
// independently-seeded sources carrying the same seed (spec.md section 5/9:
// "replace any implicit process-level randomness with an explicit RNG
// parameter to make tests deterministic") must end up structurally
// identical, down to q, sigma, ell, mu, x_images, and the lambda tensor.
func TestConstructIsReproducibleUnderSameSeed(t *testing.T) {
	seed := rng.NewSeed()

	r1 := New(rng.NewSeededSource(seed), 5, 2, 47601551)
	require.NoError(t, r1.Construct())

	r2 := New(rng.NewSeededSource(seed), 5, 2, 47601551)
	require.NoError(t, r2.Construct())

	diff := cmp.Diff(r1, r2, bigIntComparer, cmpopts.IgnoreFields(Repartition{}, "primes", "source"))
	require.Empty(t, diff, "same-seed constructions diverged:\n%s", diff)
}

func TestConstructBezoutIdentity(t *testing.T) {
	source := rng.NewSeededSource(rng.NewSeed())
	r := New(source, 5, 2, 47601551)
	require.NoError(t, r.Construct())

	sum := big.NewInt(0)
	for k := 0; k < r.N; k++ {
		factor := big.NewInt(r.Factors[r.SigmaImg[k]])
		term := new(big.Int).Mul(factor, r.Mus[k])
		term.Mul(term, r.XImages[k])
		sum.Add(sum, term)
	}
	sum.Mod(sum, r.Q)
	require.Equal(t, int64(1), sum.Int64())
}

func TestLambdaRelation(t *testing.T) {
	source := rng.NewSeededSource(rng.NewSeed())
	r := New(source, 5, 2, 47601551)
	require.NoError(t, r.Construct())

	for i := 0; i < r.N; i++ {
		for j := 0; j < r.N; j++ {
			sum := big.NewInt(0)
			for k := 0; k < r.N; k++ {
				term := new(big.Int).Mul(r.Lambda[k][i][j], r.XImages[k])
				sum.Add(sum, term)
			}
			sum.Mod(sum, r.Q)

			xixj := new(big.Int).Mul(r.XImages[i], r.XImages[j])
			ellTerm := new(big.Int).Mul(r.Ell[i][j], r.SigmaQ(i, j))
			want := new(big.Int).Sub(xixj, ellTerm)
			want.Mod(want, r.Q)

			require.Equal(t, want.String(), sum.String(), "mismatch at (%d,%d)", i, j)
		}
	}
}

func TestEllSymmetric(t *testing.T) {
	source := rng.NewSeededSource(rng.NewSeed())
	r := New(source, 5, 2, 47601551)
	require.NoError(t, r.Construct())

	for i := 0; i < r.N; i++ {
		for j := 0; j < r.N; j++ {
			require.Equal(t, r.Ell[i][j].String(), r.Ell[j][i].String())
		}
	}
}

func TestReconstructSigmaTrivial(t *testing.T) {
	source := rng.NewSeededSource(rng.NewSeed())
	r := New(source, 5, 2, 47601551)
	require.NoError(t, r.Construct())

	require.NoError(t, r.ReconstructSigma(false, true))
	for _, v := range r.SigmaImg {
		require.Equal(t, 0, v)
	}
}
