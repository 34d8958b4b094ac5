// Package algebra implements the ACES homomorphic evaluator (C6): noise-
// aware Add and Mult over ciphertexts, the shared automatic-refresh driver
// spec.md section 9 asks to be factored out of the (originally duplicated)
// add/mult refresh logic, and the Refresh primitive itself.
package algebra

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/remytuyeras/aces-go/aces"
	"github.com/remytuyeras/aces-go/channel"
	"github.com/remytuyeras/aces-go/poly"
)

// ErrSaturation is returned when a projected noise level exceeds 99% of
// the available bandwidth and no refresh path brought it back down, per
// spec.md section 7's ESaturation kind.
var ErrSaturation = errors.New("algebra: noise saturation exceeded")

// ErrRefreshNotConfigured is returned when saturation is hit but the
// Evaluator was built without an encrypt function, refresher, or
// classifier, per spec.md section 7's ERefreshNotConfigured kind.
var ErrRefreshNotConfigured = errors.New("algebra: refresh path not configured")

// Classifier decides whether a cipher is (over-approximately) refreshable.
// Both [github.com/remytuyeras/aces-go/classifier.RefreshClassifier] and
// [github.com/remytuyeras/aces-go/classifier.PublicClassifier] satisfy
// this directly.
type Classifier interface {
	Classify(c *aces.Cipher) bool
}

// Evaluator is the homomorphic evaluator: it holds the public parameters
// needed for Add/Mult and, optionally, the refresh machinery (an encrypt
// function for neutral zeros and refresher ciphertexts, plus a
// Classifier) needed to automatically bring a saturated operand back down.
type Evaluator struct {
	Params channel.PublicParameters

	Encrypt            aces.EncryptFunc
	Refresher          []*aces.Cipher
	Classifier         Classifier
	MaxRefreshAttempts int
}

// New builds an Evaluator over params. The refresh fields may be left
// zero; Add/Mult work normally until saturation is hit, at which point
// [ErrRefreshNotConfigured] is returned.
func New(params channel.PublicParameters) *Evaluator {
	return &Evaluator{Params: params, MaxRefreshAttempts: 1000}
}

type opKind int

const (
	opAdd opKind = iota
	opMult
)

// projectedNoise computes the noise-level projection for op(a, b), per
// spec.md section 4.6, using integer (floor) division throughout.
func (e *Evaluator) projectedNoise(op opKind, a, b *aces.Cipher) int64 {
	p := e.Params.P.Int64()
	switch op {
	case opAdd:
		return int64(a.Lvl+b.Lvl) + (2*(p-1))/p
	default:
		return (int64(a.Lvl+b.Lvl)+int64(a.Lvl)*int64(b.Lvl))*p + (p-1)*(p-1)/p
	}
}

func (e *Evaluator) noiseMax() int64 {
	q, p := e.Params.Q, e.Params.P
	v := new(big.Int).Quo(new(big.Int).Add(q, big.NewInt(1)), p)
	v.Sub(v, big.NewInt(1))
	return v.Int64()
}

func (e *Evaluator) saturated(projected int64) bool {
	nmax := e.noiseMax()
	if nmax <= 0 {
		return true
	}
	return float64(projected)/float64(nmax) >= 0.99
}

// Add returns a + b, homomorphically, refreshing operands automatically if
// the projected noise level would saturate the ciphertext modulus.
func (e *Evaluator) Add(a, b *aces.Cipher) (*aces.Cipher, error) {
	return e.evalWithRefresh(opAdd, a, b, true)
}

// Mult returns a * b, homomorphically, refreshing operands automatically
// if the projected noise level would saturate the ciphertext modulus.
func (e *Evaluator) Mult(a, b *aces.Cipher) (*aces.Cipher, error) {
	return e.evalWithRefresh(opMult, a, b, true)
}

func (e *Evaluator) evalWithRefresh(op opKind, a, b *aces.Cipher, allowRefresh bool) (*aces.Cipher, error) {
	projected := e.projectedNoise(op, a, b)
	if !e.saturated(projected) {
		return e.rawCompute(op, a, b, projected), nil
	}
	if !allowRefresh {
		return nil, fmt.Errorf("algebra: %w (projected=%d, max=%d)", ErrSaturation, projected, e.noiseMax())
	}
	if e.Refresher == nil || e.Encrypt == nil || e.Classifier == nil {
		return nil, ErrRefreshNotConfigured
	}

	a2, err := e.autoRefresh(a)
	if err != nil {
		return nil, err
	}
	b2, err := e.autoRefresh(b)
	if err != nil {
		return nil, err
	}
	return e.evalWithRefresh(op, a2, b2, false)
}

func (e *Evaluator) rawCompute(op opKind, a, b *aces.Cipher, lvl int64) *aces.Cipher {
	q, u := e.Params.Q, e.Params.U
	n := e.Params.N

	dec := make([]*poly.Polynomial, n)
	switch op {
	case opAdd:
		for k := 0; k < n; k++ {
			dec[k] = poly.ModReduce(a.Dec[k].Add(b.Dec[k]), u)
		}
	default:
		tensor := e.Params.Tensor
		for k := 0; k < n; k++ {
			term1 := b.Enc.Mul(a.Dec[k])
			term2 := a.Enc.Mul(b.Dec[k])
			relin := poly.Zero(poly.Mod(q))
			for i := 0; i < n; i++ {
				inner := poly.Zero(poly.Mod(q))
				for j := 0; j < n; j++ {
					lambda := poly.NewMod(q, tensor[k][i][j])
					inner = inner.Add(lambda.Mul(b.Dec[j]))
				}
				relin = relin.Add(a.Dec[i].Mul(inner))
			}
			dec[k] = poly.ModReduce(term1.Add(term2).Sub(relin), u)
		}
	}

	var enc *poly.Polynomial
	if op == opAdd {
		enc = poly.ModReduce(a.Enc.Add(b.Enc), u)
	} else {
		enc = poly.ModReduce(a.Enc.Mul(b.Enc), u)
	}

	return &aces.Cipher{Dec: dec, Enc: enc, Lvl: int(lvl), Q: q}
}

// Refresh computes b_c + Sum_i a_c[i]*refresher[i], using this evaluator's
// own Add/Mult but with automatic refresh disabled, per spec.md section
// 4.6's "refresh=false" recursion guard.
func (e *Evaluator) Refresh(refresher []*aces.Cipher, aC []*aces.Cipher, bC *aces.Cipher) (*aces.Cipher, error) {
	result := bC
	for i, ai := range aC {
		term, err := e.evalWithRefresh(opMult, ai, refresher[i], false)
		if err != nil {
			return nil, fmt.Errorf("algebra: refresh: %w", err)
		}
		result, err = e.evalWithRefresh(opAdd, result, term, false)
		if err != nil {
			return nil, fmt.Errorf("algebra: refresh: %w", err)
		}
	}
	return result, nil
}

// assessRefreshLevel estimates the noise level a refresh of operand would
// land at, per spec.md section 4.6's "assess_refresh_level".
func (e *Evaluator) assessRefreshLevel(aC []*aces.Cipher, bC *aces.Cipher) int64 {
	p := e.Params.P.Int64()
	n := int64(e.Params.N)
	xi := ((p - 1) + n*(p-1)*(p-1)) / p

	est := xi + int64(bC.Lvl)
	for i, ai := range aC {
		rl := int64(e.Refresher[i].Lvl)
		est += p * (int64(ai.Lvl) + rl + int64(ai.Lvl)*rl)
	}
	return est
}

// autoRefresh implements spec.md section 4.6's automatic refresh driver
// for a single operand: it estimates the post-refresh noise level, and
// only pursues an actual refresh (pushing neutral zeros in until the
// classifier agrees the operand is refreshable) if that estimate is an
// improvement; it returns whichever of {original, refreshed} ends up with
// the lower noise level.
func (e *Evaluator) autoRefresh(operand *aces.Cipher) (*aces.Cipher, error) {
	p := e.Params.P

	aC, bC, err := operand.Corefresher(p, e.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("algebra: auto refresh: %w", err)
	}

	estimated := e.assessRefreshLevel(aC, bC)
	if estimated >= int64(operand.Lvl) {
		return operand, nil
	}

	candidate := operand
	for attempt := 0; !e.Classifier.Classify(candidate); attempt++ {
		if attempt >= e.MaxRefreshAttempts {
			return nil, fmt.Errorf("algebra: auto refresh: %w (classifier never agreed after %d neutral additions)", ErrSaturation, attempt)
		}
		neutral, err := e.Encrypt(big.NewInt(0))
		if err != nil && !errors.Is(err, aces.ErrPlaintextOverflow) {
			return nil, fmt.Errorf("algebra: auto refresh: %w", err)
		}
		candidate, err = e.evalWithRefresh(opAdd, candidate, neutral, false)
		if err != nil {
			return nil, fmt.Errorf("algebra: auto refresh: %w", err)
		}
	}

	aC2, bC2, err := candidate.Corefresher(p, e.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("algebra: auto refresh: %w", err)
	}
	refreshed, err := e.Refresh(e.Refresher, aC2, bC2)
	if err != nil {
		return nil, fmt.Errorf("algebra: auto refresh: %w", err)
	}

	if refreshed.Lvl < operand.Lvl {
		return refreshed, nil
	}
	return operand, nil
}
