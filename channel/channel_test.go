package channel

import (
	"math/big"
	"testing"

	"github.com/remytuyeras/aces-go/repartition"
	"github.com/remytuyeras/aces-go/rng"
	"github.com/stretchr/testify/require"
)

func buildTestChannel(t *testing.T) *ArithChannel {
	t.Helper()
	source := rng.NewSeededSource(rng.NewSeed())
	r := repartition.New(source, 5, 2, 47601551)
	require.NoError(t, r.Construct())

	ac, err := New(source, big.NewInt(2), 10, 3, r, nil)
	require.NoError(t, err)
	return ac
}

func TestNewChannelProducesWellFormedState(t *testing.T) {
	ac := buildTestChannel(t)

	require.Len(t, ac.X, ac.Dim)
	require.Len(t, ac.F0, ac.Rows)
	require.Len(t, ac.F1, ac.Rows)
	for _, row := range ac.F0 {
		require.Len(t, row, ac.Dim)
	}

	uAt1 := ac.U.Evaluate(big.NewInt(1))
	require.Zero(t, uAt1.Sign(), "u(1) should reduce to 0 mod q, got %s", uAt1.String())
}

func TestSecretKeyMatchesXImages(t *testing.T) {
	ac := buildTestChannel(t)
	for k, xk := range ac.X {
		got := xk.Evaluate(big.NewInt(1))
		require.Equal(t, ac.R.XImages[k].String(), got.String())
	}
}

func TestPublishBundlesParameters(t *testing.T) {
	ac := buildTestChannel(t)
	params := ac.Publish()

	require.Equal(t, ac.Dim, params.N)
	require.Equal(t, ac.Rows, params.NN)
	require.Equal(t, ac.Q, params.Q)
	require.GreaterOrEqual(t, params.MaxSaturation, 0.0)
}
