package aces

import (
	"math/big"
	"testing"

	"github.com/remytuyeras/aces-go/channel"
	"github.com/remytuyeras/aces-go/repartition"
	"github.com/remytuyeras/aces-go/rng"
	"github.com/stretchr/testify/require"
)

type testSetup struct {
	ac        *channel.ArithChannel
	encryptor *Encryptor
	decryptor *Decryptor
	p         *big.Int
	source    rng.Source
}

func newTestSetup(t *testing.T, n int, p int64, upperbound int64, degU, rows int) testSetup {
	t.Helper()
	source := rng.NewSeededSource(rng.NewSeed())
	r := repartition.New(source, n, p, upperbound)
	require.NoError(t, r.Construct())

	ac, err := channel.New(source, big.NewInt(p), rows, degU, r, nil)
	require.NoError(t, err)

	params := ac.Publish()
	return testSetup{
		ac:        ac,
		encryptor: NewEncryptor(source, params, degU, nil),
		decryptor: NewDecryptor(source, ac, degU),
		p:         big.NewInt(p),
		source:    source,
	}
}

func TestPublicEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)

	for _, m := range []int64{0, 1} {
		c, err := s.encryptor.Encrypt(big.NewInt(m))
		require.NoError(t, err)
		got := s.decryptor.Decrypt(c)
		require.Equal(t, m, got.Int64())
	}
}

func TestSymmetricEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)

	for _, m := range []int64{0, 1} {
		c, err := s.decryptor.EncryptSymmetric(big.NewInt(m), 0, 5)
		require.NoError(t, err)
		got := s.decryptor.Decrypt(c)
		require.Equal(t, m, got.Int64())
	}
}

func TestPlaintextOverflowIsWarningOnly(t *testing.T) {
	s := newTestSetup(t, 5, 4, 47601551, 3, 10)

	c, err := s.encryptor.Encrypt(big.NewInt(5))
	require.ErrorIs(t, err, ErrPlaintextOverflow)
	require.NotNil(t, c)

	got := s.decryptor.Decrypt(c)
	require.Equal(t, int64(5%4), got.Int64())
}

func TestPseudoAndCorefresher(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)

	c, err := s.encryptor.Encrypt(big.NewInt(1))
	require.NoError(t, err)

	pseudo := c.Pseudo()
	require.Len(t, pseudo.Dec, len(c.Dec))

	a, b, err := c.Corefresher(s.p, s.encryptor.Encrypt)
	require.NoError(t, err)
	require.Len(t, a, len(c.Dec))
	require.NotNil(t, b)
}

func TestGenerateRefresher(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)

	refresher, err := s.decryptor.GenerateRefresher(0, 80)
	require.NoError(t, err)
	require.Len(t, refresher, s.ac.Dim)
	for _, c := range refresher {
		require.NotNil(t, c)
	}
}
