// Package channel builds the ACES "arithmetic channel": the modulus
// polynomial u, the secret key x, the public initializer matrix f0, and the
// noisy public vector f1, on top of a completed [repartition.Repartition].
// Its Publish method assembles the flat parameter bundle handed to
// encryptors, decryptors, and the homomorphic evaluator.
package channel

import (
	"fmt"
	"math/big"

	"github.com/remytuyeras/aces-go/poly"
	"github.com/remytuyeras/aces-go/repartition"
	"github.com/remytuyeras/aces-go/rng"
)

// AnchorFunc returns the set of allowed noise levels k for vanisher index i.
// The default, DefaultAnchor, allows {0, 1}.
type AnchorFunc func(i int) []int

// DefaultAnchor allows noise levels {0, 1} for every index, matching
// spec.md section 3's default vanisher anchor set.
func DefaultAnchor(i int) []int {
	return []int{0, 1}
}

// ArithChannel is the completed arithmetic channel: modulus polynomial u,
// secret key x, initializer f0, and noisy public component f1.
type ArithChannel struct {
	P    *big.Int // plaintext modulus
	Dim  int      // n: secret-key dimension
	Rows int      // N: number of public rows

	R *repartition.Repartition
	Q *big.Int

	U      *poly.Polynomial
	X      []*poly.Polynomial
	F0     [][]*poly.Polynomial
	F1     []*poly.Polynomial
	Levels []int
}

// New assembles a new ArithChannel: it draws u, the secret key x, the
// initializer f0, and the noisy public vector f1, in that order, following
// spec.md section 4.4. r must already be fully constructed (r.Construct()
// called). anchor may be nil, defaulting to DefaultAnchor.
func New(source rng.Source, p *big.Int, rows, degU int, r *repartition.Repartition, anchor AnchorFunc) (*ArithChannel, error) {
	if r.Q == nil || r.Lambda == nil {
		return nil, fmt.Errorf("channel: repartition must be constructed before building a channel")
	}
	if anchor == nil {
		anchor = DefaultAnchor
	}

	ac := &ArithChannel{
		P:    new(big.Int).Set(p),
		Dim:  r.N,
		Rows: rows,
		R:    r,
		Q:    r.Q,
	}

	ac.U = ac.generateU(source, degU)
	ac.X = ac.generateSecret(source, degU)
	ac.F0 = ac.generateInitializer(source, degU)
	f1, levels, err := ac.generateNoisyKey(source, degU, anchor)
	if err != nil {
		return nil, err
	}
	ac.F1, ac.Levels = f1, levels

	return ac, nil
}

func (ac *ArithChannel) generateU(source rng.Source, degU int) *poly.Polynomial {
	P := poly.Random(source, ac.Q, degU)
	coeffs := make([]*big.Int, degU+1)
	copy(coeffs, P.Coeffs)
	coeffs[degU] = big.NewInt(1)
	monic := &poly.Polynomial{Coeffs: coeffs, Mod: poly.Mod(ac.Q)}

	pAt1 := monic.Evaluate(big.NewInt(1))
	shiftVal := new(big.Int).Sub(ac.Q, pAt1)
	shift := poly.RandomShift(source, shiftVal, ac.Q, degU)

	return monic.Add(shift)
}

func (ac *ArithChannel) generateSecret(source rng.Source, degU int) []*poly.Polynomial {
	x := make([]*poly.Polynomial, ac.Dim)
	for k := 0; k < ac.Dim; k++ {
		P := poly.Random(source, ac.Q, degU)
		shiftVal := new(big.Int).Sub(ac.R.XImages[k], P.Evaluate(big.NewInt(1)))
		shift := poly.RandomShift(source, shiftVal, ac.Q, degU)
		x[k] = poly.ModReduce(P.Add(shift), ac.U)
	}
	return x
}

func (ac *ArithChannel) generateInitializer(source rng.Source, degU int) [][]*poly.Polynomial {
	f0 := make([][]*poly.Polynomial, ac.Rows)
	for i := range f0 {
		row := make([]*poly.Polynomial, ac.Dim)
		for j := 0; j < ac.Dim; j++ {
			rVal := source.BigInt(ac.Q)
			target := new(big.Int).Mul(big.NewInt(ac.R.Factors[ac.R.SigmaImg[j]]), rVal)
			target.Mod(target, ac.Q)
			P := poly.Random(source, ac.Q, degU)
			shiftVal := new(big.Int).Sub(target, P.Evaluate(big.NewInt(1)))
			shift := poly.RandomShift(source, shiftVal, ac.Q, degU)
			row[j] = P.Add(shift)
		}
		f0[i] = row
	}
	return f0
}

func (ac *ArithChannel) generateNoisyKey(source rng.Source, degU int, anchor AnchorFunc) ([]*poly.Polynomial, []int, error) {
	f1 := make([]*poly.Polynomial, ac.Rows)
	levels := make([]int, ac.Rows)

	for i := 0; i < ac.Rows; i++ {
		allowed := anchor(i)
		if len(allowed) == 0 {
			return nil, nil, fmt.Errorf("channel: anchor(%d) returned no allowed noise levels", i)
		}
		k := allowed[source.Intn(len(allowed))]
		maxK := allowed[0]
		for _, v := range allowed {
			if v > maxK {
				maxK = v
			}
		}
		levels[i] = maxK

		target := new(big.Int).Mul(ac.P, big.NewInt(int64(k)))
		target.Mod(target, ac.Q)
		P := poly.Random(source, ac.Q, degU)
		shiftVal := new(big.Int).Sub(target, P.Evaluate(big.NewInt(1)))
		shift := poly.RandomShift(source, shiftVal, ac.Q, degU)
		e := P.Add(shift)

		acc := poly.Zero(poly.Mod(ac.Q))
		for j := 0; j < ac.Dim; j++ {
			acc = acc.Add(ac.F0[i][j].Mul(ac.X[j]))
		}
		acc = poly.ModReduce(acc, ac.U)
		f1[i] = poly.ModReduce(acc.Add(e), ac.U)
	}

	return f1, levels, nil
}

// PublicParameters is the flat bundle Publish returns: everything an
// [github.com/remytuyeras/aces-go/aces.Encryptor] or
// [github.com/remytuyeras/aces-go/algebra.Evaluator] needs, and nothing
// that requires the secret key.
type PublicParameters struct {
	F0            [][]*poly.Polynomial
	F1            []*poly.Polynomial
	P             *big.Int
	Q             *big.Int
	N             int // secret-key dimension
	NN            int // number of rows (N in spec.md)
	U             *poly.Polynomial
	Tensor        [][][]*big.Int
	Levels        []int
	MaxSaturation float64
}

// Publish returns the public parameter bundle derived from this channel.
func (ac *ArithChannel) Publish() PublicParameters {
	maxLevel := 0
	for _, l := range ac.Levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	qPlus1 := new(big.Int).Add(ac.Q, big.NewInt(1))
	denom := new(big.Int).Quo(qPlus1, ac.P)
	denom.Sub(denom, big.NewInt(1))

	var maxSaturation float64
	if denom.Sign() > 0 {
		num := new(big.Float).SetInt64(int64(100 * maxLevel))
		den := new(big.Float).SetInt(denom)
		ratio := new(big.Float).Quo(num, den)
		maxSaturation, _ = ratio.Float64()
	}

	return PublicParameters{
		F0:            ac.F0,
		F1:            ac.F1,
		P:             ac.P,
		Q:             ac.Q,
		N:             ac.Dim,
		NN:            ac.Rows,
		U:             ac.U,
		Tensor:        ac.R.Lambda,
		Levels:        ac.Levels,
		MaxSaturation: maxSaturation,
	}
}
