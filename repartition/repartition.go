// Package repartition constructs the ACES "repartition" structure: the
// ciphertext modulus q, a partition sigma of secret-key indices across the
// prime factors of q, a symmetric matrix ell, Bezout coefficients mu, the
// secret-key images x_images, and the rank-3 relinearization tensor lambda.
//
// This is the correctness-critical artifact of the whole scheme: the
// property that, for every (i, j), sum_k lambda[k][i][j]*x_images[k] equals
// x_images[i]*x_images[j] - ell[i][j]*sigma_q(i,j) (mod q) is what lets
// [github.com/remytuyeras/aces-go/algebra.Evaluator.Mult] relinearize a quadratic combination of decryption
// components back into a linear one.
package repartition

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/remytuyeras/aces-go/arith"
	"github.com/remytuyeras/aces-go/rng"
)

// ErrCandidateExhausted is returned when no candidate q could be found
// above Upperbound, per spec.md section 7's ECandidateExhausted kind.
var ErrCandidateExhausted = errors.New("repartition: find_candidates produced no candidate q")

// ErrMusExhausted is returned when ConstructMus could not find mu/x_images
// satisfying the Bezout identity within its retry budget — a parameter
// inconsistency in the same family as spec.md section 7's ETensorDimension.
var ErrMusExhausted = errors.New("repartition: could not construct mu/x_images satisfying the Bezout identity")

// Repartition holds the completed (or partially completed) repartition
// state for a secret key of dimension N under plaintext modulus P.
type Repartition struct {
	N int
	P int64

	Upperbound   int64
	ZeroDivisors []int64

	Candidate arith.Candidate
	Q         *big.Int
	Factors   []int64 // Factors[0] == 1, Factors[1:] are the distinct prime factors of Q.
	N0        int

	SigmaDone   bool
	SigmaImg    []int
	SigmaFibers map[int][]int

	Mus     []*big.Int
	XImages []*big.Int

	Ell    [][]*big.Int
	Lambda [][][]*big.Int

	primes *arith.Primes
	source rng.Source
}

// New instantiates a Repartition for a secret key of dimension n under
// plaintext modulus p, searching for q among candidates at least upperbound.
// zeroDivisors lists primes that q must be divisible by (may be empty).
func New(source rng.Source, n int, p, upperbound int64, zeroDivisors ...int64) *Repartition {
	return &Repartition{
		N:            n,
		P:            p,
		Upperbound:   upperbound,
		ZeroDivisors: zeroDivisors,
		source:       source,
	}
}

// chooseQ runs the candidate-q search (spec.md section 4.3 step 1).
func (r *Repartition) chooseQ() error {
	r.primes = arith.NewPrimes(r.Upperbound, nil)
	r.primes.AddUnits(r.P)

	candidates := r.primes.FindCandidates(r.ZeroDivisors)
	if len(candidates) == 0 {
		return fmt.Errorf("%w (upperbound %d)", ErrCandidateExhausted, r.Upperbound)
	}
	r.Candidate = candidates[len(candidates)-1]
	r.Q = big.NewInt(r.Candidate.Q)

	r.Factors = []int64{1}
	primes := make([]int64, 0, len(r.Candidate.Factorization))
	for prime := range r.Candidate.Factorization {
		primes = append(primes, prime)
	}
	sortInt64(primes)
	r.Factors = append(r.Factors, primes...)
	r.N0 = len(primes)
	return nil
}

// Construct runs the full construction sequence: choosing q and ell (each
// only if not already built), then always redrawing sigma and mu/x_images,
// and finally computing lambda.
func (r *Repartition) Construct() error {
	return r.ConstructLambdas(true, true)
}

// ConstructSigma builds sigma with one of three modes, per spec.md section
// 4.3 step 2:
//   - default (trivialFactor=false, trivialSigma=false): SigmaImg[i] in
//     [1, N0], no zero values, balanced fiber sizes via a shuffled cyclic
//     shift.
//   - trivialFactor: SigmaImg[i] in [0, N0], zero allowed.
//   - trivialSigma: SigmaImg[i] = 0 for every i.
func (r *Repartition) ConstructSigma(trivialFactor, trivialSigma bool) {
	perm := shuffle(r.source, r.N)
	r.SigmaImg = make([]int, r.N)

	switch {
	case trivialSigma:
		for i := range r.SigmaImg {
			r.SigmaImg[i] = 0
		}
	case trivialFactor:
		s := r.source.Intn(r.N0 + 1)
		for idx, orig := range perm {
			r.SigmaImg[orig] = (s + idx) % (r.N0 + 1)
		}
	default:
		s := r.source.Intn(r.N0)
		for idx, orig := range perm {
			r.SigmaImg[orig] = 1 + (s+idx)%r.N0
		}
	}

	r.SigmaFibers = make(map[int][]int)
	for k, v := range r.SigmaImg {
		r.SigmaFibers[v] = append(r.SigmaFibers[v], k)
	}
	r.SigmaDone = true
}

// ReconstructSigma resets and rebuilds sigma only, leaving q untouched.
func (r *Repartition) ReconstructSigma(trivialFactor, trivialSigma bool) error {
	if r.Q == nil {
		if err := r.chooseQ(); err != nil {
			return err
		}
	}
	r.ConstructSigma(trivialFactor, trivialSigma)
	return nil
}

// ConstructEll builds the symmetric N x N matrix ell, uniformly random in
// [0, Q), diagonal included.
func (r *Repartition) ConstructEll() {
	r.Ell = make([][]*big.Int, r.N)
	for i := range r.Ell {
		r.Ell[i] = make([]*big.Int, r.N)
	}
	for i := 0; i < r.N; i++ {
		for j := i; j < r.N; j++ {
			v := r.source.BigInt(r.Q)
			r.Ell[i][j] = v
			r.Ell[j][i] = new(big.Int).Set(v)
		}
	}
}

// inclusive0ToQ draws a uniform value in [0, Q], matching spec.md's
// construct_mus wording (a closed interval, unlike the half-open [0, Q)
// used for ell/mu storage elsewhere).
func (r *Repartition) inclusive0ToQ() *big.Int {
	return r.source.BigInt(new(big.Int).Add(r.Q, big.NewInt(1)))
}

// ConstructMus draws mu and x_images satisfying the Bezout identity
// sum_k factors[sigma_img[k]]*x_images[k]*mu[k] = 1 (mod Q), retrying the
// random draw until the extended GCD yields 1. Returns whether it
// succeeded without exceeding maxAttempts retries (always true unless
// maxAttempts is hit, which would indicate a parameter pathology).
func (r *Repartition) ConstructMus() bool {
	const maxAttempts = 10000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		k0 := r.source.Intn(r.N)

		mus := make([]*big.Int, r.N)
		xImages := make([]*big.Int, r.N)

		s := big.NewInt(0)
		for k := 0; k < r.N; k++ {
			if k == k0 {
				continue
			}
			mus[k] = r.inclusive0ToQ()
			xImages[k] = r.inclusive0ToQ()
			factor := big.NewInt(r.Factors[r.SigmaImg[k]])
			term := new(big.Int).Mul(factor, xImages[k])
			term.Mul(term, mus[k])
			s.Add(s, term)
		}

		xImages[k0] = r.inclusive0ToQ()
		factorK0 := big.NewInt(r.Factors[r.SigmaImg[k0]])
		rhs := new(big.Int).Mul(factorK0, xImages[k0])

		g, alpha, beta := arith.ExtendedGCDBig(s, rhs)

		if g.CmpAbs(big.NewInt(1)) != 0 {
			continue
		}
		// Normalize so that g = 1 exactly (ExtendedGCDBig can return -1).
		if g.Sign() < 0 {
			alpha = new(big.Int).Neg(alpha)
			beta = new(big.Int).Neg(beta)
		}

		mus[k0] = new(big.Int).Mod(beta, r.Q)
		for k := 0; k < r.N; k++ {
			if k == k0 {
				continue
			}
			mus[k] = new(big.Int).Mod(new(big.Int).Mul(mus[k], alpha), r.Q)
		}

		r.Mus = mus
		r.XImages = xImages
		return true
	}
	return false
}

// SigmaQDivisor returns the divisor used to define sigma_q(i, j):
// factors[sigma_img[i]] when sigma_img[i] == sigma_img[j], else the
// product of both.
func (r *Repartition) SigmaQDivisor(i, j int) int64 {
	fi := r.Factors[r.SigmaImg[i]]
	if r.SigmaImg[i] == r.SigmaImg[j] {
		return fi
	}
	return fi * r.Factors[r.SigmaImg[j]]
}

// SigmaQ returns q / sigma_q_divisor(i, j).
func (r *Repartition) SigmaQ(i, j int) *big.Int {
	divisor := big.NewInt(r.SigmaQDivisor(i, j))
	return new(big.Int).Quo(r.Q, divisor)
}

// ConstructLambdas runs the full construction sequence: choosing q (unless
// already chosen), sigma (if newSigma or not yet built), ell (unless already
// built), mu/x_images (if newMus or not yet built), and finally the lambda
// tensor itself.
func (r *Repartition) ConstructLambdas(newSigma, newMus bool) error {
	if r.Q == nil {
		if err := r.chooseQ(); err != nil {
			return err
		}
	}
	if newSigma || !r.SigmaDone {
		r.ConstructSigma(false, false)
	}
	if r.Ell == nil {
		r.ConstructEll()
	}
	if newMus || r.Mus == nil {
		if !r.ConstructMus() {
			return ErrMusExhausted
		}
	}

	r.Lambda = make([][][]*big.Int, r.N)
	for k := 0; k < r.N; k++ {
		r.Lambda[k] = make([][]*big.Int, r.N)
		factorMu := new(big.Int).Mul(big.NewInt(r.Factors[r.SigmaImg[k]]), r.Mus[k])
		for i := 0; i < r.N; i++ {
			r.Lambda[k][i] = make([]*big.Int, r.N)
			for j := 0; j < r.N; j++ {
				xixj := new(big.Int).Mul(r.XImages[i], r.XImages[j])
				ellTerm := new(big.Int).Mul(r.Ell[i][j], r.SigmaQ(i, j))
				diff := new(big.Int).Sub(xixj, ellTerm)
				v := new(big.Int).Mul(factorMu, diff)
				r.Lambda[k][i][j] = v.Mod(v, r.Q)
			}
		}
	}
	return nil
}

func shuffle(source rng.Source, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := source.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func sortInt64(a []int64) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}
