package algebra

import (
	"math/big"
	"testing"

	"github.com/remytuyeras/aces-go/aces"
	"github.com/remytuyeras/aces-go/channel"
	"github.com/remytuyeras/aces-go/classifier"
	"github.com/remytuyeras/aces-go/compile"
	"github.com/remytuyeras/aces-go/repartition"
	"github.com/remytuyeras/aces-go/rng"
	"github.com/stretchr/testify/require"
)

// *Evaluator satisfies compile.Algebra[*aces.Cipher] directly: Add and Mult
// already return (*aces.Cipher, error).
var _ compile.Algebra[*aces.Cipher] = (*Evaluator)(nil)

// Scenario 3 (spec.md section 8): compile and evaluate
// "0*1+2*5+3*4+6*7+1*5" over an 8-vector of random plaintexts mod p, and
// check the decrypted result against the same expression evaluated directly
// mod p.
func TestCompiledExpressionMatchesPlaintext(t *testing.T) {
	const n, p, upperbound, degU, rows = 5, 2, 476015501, 3, 10
	const expr = "0*1+2*5+3*4+6*7+1*5"

	source := rng.NewSeededSource(rng.NewSeed())
	r := repartition.New(source, n, p, upperbound)
	require.NoError(t, r.Construct())

	ac, err := channel.New(source, big.NewInt(p), rows, degU, r, nil)
	require.NoError(t, err)

	params := ac.Publish()
	encryptor := aces.NewEncryptor(source, params, degU, nil)
	decryptor := aces.NewDecryptor(source, ac, degU)
	ev := New(params)

	plaintexts := make([]int64, 8)
	operands := make([]*aces.Cipher, 8)
	for i := range plaintexts {
		plaintexts[i] = int64(source.Intn(p))
		c, encErr := encryptor.Encrypt(big.NewInt(plaintexts[i]))
		require.NoError(t, encErr)
		operands[i] = c
	}

	intOperands := make([]int64, 8)
	copy(intOperands, plaintexts)
	want, err := compile.Eval(expr, intOperands, int64Algebra{p})
	require.NoError(t, err)

	got, err := compile.Eval(expr, operands, ev)
	require.NoError(t, err)

	require.Equal(t, want, decryptor.Decrypt(got).Int64())
}

// Scenario 4 (spec.md section 8): same, but with p=4 and an expression
// nesting enough multiplications to require automatic refresh.
func TestCompiledExpressionWithAutomaticRefresh(t *testing.T) {
	const n, p, upperbound, degU, rows = 5, 4, 476015501, 3, 10
	const expr = "(((0*1+2*3+4*5)*6+7)*3)*2"

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

	plaintexts := make([]int64, 8)
	operands := make([]*aces.Cipher, 8)
	for i := range plaintexts {
		plaintexts[i] = int64(source.Intn(p))
		c, encErr := encryptor.Encrypt(big.NewInt(plaintexts[i]))
		require.NoError(t, encErr)
		operands[i] = c
	}

	intOperands := make([]int64, 8)
	copy(intOperands, plaintexts)
	want, err := compile.Eval(expr, intOperands, int64Algebra{p})
	require.NoError(t, err)

	got, err := compile.Eval(expr, operands, ev)
	require.NoError(t, err)

	require.Equal(t, want, decryptor.Decrypt(got).Int64())
}

// int64Algebra is the plain-integer reference oracle the compiler is also
// exercised against, mirroring the reference implementation's pyc.Algebra()
// used beside pyc.ACESAlgebra() in its own compiler tests.
type int64Algebra struct {
	p int64
}

func (a int64Algebra) Add(x, y int64) (int64, error) {
	return mod64(x+y, a.p), nil
}

func (a int64Algebra) Mult(x, y int64) (int64, error) {
	return mod64(x*y, a.p), nil
}

func mod64(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}
