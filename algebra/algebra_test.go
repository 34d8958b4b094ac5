package algebra

import (
	"math/big"
	"testing"

	"github.com/remytuyeras/aces-go/aces"
	"github.com/remytuyeras/aces-go/channel"
	"github.com/remytuyeras/aces-go/classifier"
	"github.com/remytuyeras/aces-go/repartition"
	"github.com/remytuyeras/aces-go/rng"
	"github.com/stretchr/testify/require"
)

type testSetup struct {
	evaluator *Evaluator
	encryptor *aces.Encryptor
	decryptor *aces.Decryptor
	p         int64
}

func newTestSetup(t *testing.T, n int, p, upperbound int64, degU, rows int) testSetup {
	t.Helper()
	source := rng.NewSeededSource(rng.NewSeed())
	r := repartition.New(source, n, p, upperbound)
	require.NoError(t, r.Construct())

	ac, err := channel.New(source, big.NewInt(p), rows, degU, r, nil)
	require.NoError(t, err)

	params := ac.Publish()
	encryptor := aces.NewEncryptor(source, params, degU, nil)
	decryptor := aces.NewDecryptor(source, ac, degU)

	ev := New(params)
	ev.Encrypt = encryptor.Encrypt
	ev.Classifier = classifier.New(r.XImages, r.Q, big.NewInt(p))
	refresher, err := decryptor.GenerateRefresher(0, 80)
	require.NoError(t, err)
	ev.Refresher = refresher

	return testSetup{evaluator: ev, encryptor: encryptor, decryptor: decryptor, p: p}
}

func encryptOrFail(t *testing.T, enc *aces.Encryptor, m int64) *aces.Cipher {
	t.Helper()
	c, err := enc.Encrypt(big.NewInt(m))
	if err != nil {
		require.ErrorIs(t, err, aces.ErrPlaintextOverflow)
	}
	return c
}

func TestAddAndMultCorrectness(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)

	for _, m1 := range []int64{0, 1} {
		for _, m2 := range []int64{0, 1} {
			c1 := encryptOrFail(t, s.encryptor, m1)
			c2 := encryptOrFail(t, s.encryptor, m2)

			sum, err := s.evaluator.Add(c1, c2)
			require.NoError(t, err)
			require.Equal(t, (m1+m2)%2, s.decryptor.Decrypt(sum).Int64())

			prod, err := s.evaluator.Mult(c1, c2)
			require.NoError(t, err)
			require.Equal(t, (m1*m2)%2, s.decryptor.Decrypt(prod).Int64())
		}
	}
}

func TestAddCommutative(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)
	a := encryptOrFail(t, s.encryptor, 1)
	b := encryptOrFail(t, s.encryptor, 0)

	ab, err := s.evaluator.Add(a, b)
	require.NoError(t, err)
	ba, err := s.evaluator.Add(b, a)
	require.NoError(t, err)

	require.True(t, ab.Enc.Equal(ba.Enc))
	for k := range ab.Dec {
		require.True(t, ab.Dec[k].Equal(ba.Dec[k]))
	}
}

func TestMultAssociativeOnEnc(t *testing.T) {
	s := newTestSetup(t, 5, 2, 47601551, 3, 10)
	a := encryptOrFail(t, s.encryptor, 1)
	b := encryptOrFail(t, s.encryptor, 1)
	c := encryptOrFail(t, s.encryptor, 0)

	ab, err := s.evaluator.Mult(a, b)
	require.NoError(t, err)
	abc, err := s.evaluator.Mult(ab, c)
	require.NoError(t, err)

	bc, err := s.evaluator.Mult(b, c)
	require.NoError(t, err)
	abc2, err := s.evaluator.Mult(a, bc)
	require.NoError(t, err)

	require.True(t, abc.Enc.Equal(abc2.Enc))
}
