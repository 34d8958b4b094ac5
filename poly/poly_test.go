package poly

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestAddSubMulModulusCombination(t *testing.T) {
	m := bi(97)

	t.Run("SameModulusCarried", func(t *testing.T) {
		a := NewMod(m, bi(3), bi(4))
		b := NewMod(m, bi(5), bi(6))
		sum := a.Add(b)
		require.True(t, sum.Mod.IsSet())
		require.Equal(t, "[10]^1+[8]^0 (97)", sum.String())
	})

	t.Run("DifferentModuliProduceNoMod", func(t *testing.T) {
		a := NewMod(bi(97), bi(3))
		b := NewMod(bi(11), bi(5))
		sum := a.Add(b)
		require.False(t, sum.Mod.IsSet())
		require.Equal(t, int64(8), sum.Coeffs[0].Int64())
	})

	t.Run("OneSidedModulusProducesNoMod", func(t *testing.T) {
		a := NewMod(m, bi(3))
		b := New(bi(5))
		sum := a.Add(b)
		require.False(t, sum.Mod.IsSet())
	})
}

func TestDivModProperty(t *testing.T) {
	U := New(bi(1), bi(0), bi(1)) // X^2 + 1, monic
	A := New(bi(5), bi(4), bi(3), bi(2))

	Q, R := DivMod(A, U)
	reconstructed := Q.Mul(U).Add(R)
	require.True(t, A.Equal(reconstructed))
	require.LessOrEqual(t, R.Degree(), U.Degree()-1)
}

func TestExtendedGCDComposite(t *testing.T) {
	// F = (14+X)(45+3X)(1+6X)(25+2X), A = F*(1+X+X^3+2X^4), B = F*(X+X^2+3X^4)
	f1 := New(bi(14), bi(1))
	f2 := New(bi(45), bi(3))
	f3 := New(bi(1), bi(6))
	f4 := New(bi(25), bi(2))
	F := f1.Mul(f2).Mul(f3).Mul(f4)

	aPrime := New(bi(1), bi(1), bi(0), bi(1), bi(2))
	bPrime := New(bi(0), bi(1), bi(1), bi(0), bi(3))

	A := F.Mul(aPrime)
	B := F.Mul(bPrime)

	g, v, w := ExtendedGCD(A, B)
	_ = g

	lhs := A.Mul(v).Add(B.Mul(w))
	_, remainder := DivMod(lhs, F)
	require.True(t, remainder.IsNull(), "remainder was %s", remainder.String())
}

func TestEvaluateHorner(t *testing.T) {
	p := New(bi(1), bi(2), bi(3)) // 1 + 2X + 3X^2
	v := p.Evaluate(bi(2))
	require.Equal(t, int64(1+2*2+3*4), v.Int64())
}

func TestIsNullAndDegree(t *testing.T) {
	z := Zero(NoMod())
	require.True(t, z.IsNull())
	require.Equal(t, 0, z.Degree())

	p := New(bi(0), bi(0), bi(5))
	require.Equal(t, 2, p.Degree())
	require.Equal(t, int64(5), p.LeadCoef().Int64())
}
