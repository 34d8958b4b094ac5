// Package arith implements the integer-layer primitives ACES needs to
// choose its ciphertext modulus q: extended Euclid over plain integers,
// rejection-sampled invertibles, a trial-division prime sieve, and the
// "candidate q" search spec.md section 4.2 describes.
//
// Every modulus ACES ever picks (q itself, and the search bound used to
// find it) comfortably fits in an int64 — it is the polynomial coefficient
// arithmetic three levels up (poly, channel, algebra) that needs math/big
// headroom, not the prime search itself.
package arith

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"

	"github.com/remytuyeras/aces-go/rng"
)

// ExtendedGCD computes the extended greatest common divisor of a and b,
// returning g, s, t such that a*s + b*t = g.
func ExtendedGCD(a, b int64) (g, s, t int64) {
	r0, r1 := a, b
	s0, s1 := int64(1), int64(0)
	t0, t1 := int64(0), int64(1)
	for r1 != 0 {
		q := r0 / r1
		r0, r1 = r1, r0-q*r1
		s0, s1 = s1, s0-q*s1
		t0, t1 = t1, t0-q*t1
	}
	return r0, s0, t0
}

// ExtendedGCDBig is the math/big counterpart of [ExtendedGCD], used by the
// repartition construction where intermediate Bezout sums outgrow int64.
func ExtendedGCDBig(a, b *big.Int) (g, s, t *big.Int) {
	r0, r1 := new(big.Int).Set(a), new(big.Int).Set(b)
	s0, s1 := big.NewInt(1), big.NewInt(0)
	t0, t1 := big.NewInt(0), big.NewInt(1)
	for r1.Sign() != 0 {
		q := new(big.Int).Quo(r0, r1)
		r2 := new(big.Int).Sub(r0, new(big.Int).Mul(q, r1))
		s2 := new(big.Int).Sub(s0, new(big.Int).Mul(q, s1))
		t2 := new(big.Int).Sub(t0, new(big.Int).Mul(q, t1))
		r0, r1 = r1, r2
		s0, s1 = s1, s2
		t0, t1 = t1, t2
	}
	return r0, s0, t0
}

// mod returns the Euclidean (always non-negative when m > 0) remainder of a
// modulo m.
func mod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// RandInvertible rejection-samples a in [1, m) until gcd(a, m) = 1 and
// returns a along with its modular inverse.
func RandInvertible(source rng.Source, m int64) (a, inv int64) {
	if m <= 1 {
		panic("arith: RandInvertible requires m > 1")
	}
	for {
		a = int64(source.Intn(int(m-1))) + 1
		g, s, _ := ExtendedGCD(a, m)
		if g == 1 {
			return a, mod(s, m)
		}
	}
}

func isqrt(n int64) int64 {
	if n < 0 {
		panic("arith: isqrt of negative number")
	}
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Primes manages a trial-division prime sieve up to sqrt(upperbound), a
// forbidden-factor multiset ("units"), and the candidate-q search spec.md
// section 4.2 describes.
type Primes struct {
	Upperbound int64
	list       []int64
	units      map[int64]int
}

// NewPrimes builds primes up to sqrt(upperbound) by trial division,
// extending from cache (if non-nil and non-empty) rather than restarting
// from scratch.
func NewPrimes(upperbound int64, cache []int64) *Primes {
	p := &Primes{
		Upperbound: upperbound,
		units:      make(map[int64]int),
	}
	bound := isqrt(upperbound)

	p.list = append(p.list, cache...)
	start := int64(2)
	if n := len(p.list); n > 0 {
		start = p.list[n-1] + 1
	}
	for n := start; n <= bound; n++ {
		isPrime := true
		for _, q := range p.list {
			if q*q > n {
				break
			}
			if n%q == 0 {
				isPrime = false
				break
			}
		}
		if isPrime {
			p.list = append(p.list, n)
		}
	}
	return p
}

// List returns the sieved primes up to sqrt(Upperbound), in ascending order.
func (p *Primes) List() []int64 {
	out := make([]int64, len(p.list))
	copy(out, p.list)
	return out
}

// defaultLimit returns (floor(sqrt(Upperbound))+1)^2, the largest n the
// sieved prime list can fully factorize.
func (p *Primes) defaultLimit() int64 {
	b := isqrt(p.Upperbound) + 1
	return b * b
}

// Factorize trial-divides n by the sieved primes (up to sqrt(Upperbound)),
// treating a remaining factor greater than 1 as prime. It returns (nil,
// false) when n is not in (0, limit); limit defaults to
// (floor(sqrt(Upperbound))+1)^2.
func (p *Primes) Factorize(n int64, limit ...int64) (map[int64]int, bool) {
	lim := p.defaultLimit()
	if len(limit) > 0 {
		lim = limit[0]
	}
	if n <= 0 || n >= lim {
		return nil, false
	}
	if n == 1 {
		return map[int64]int{}, true
	}
	factors := make(map[int64]int)
	remaining := n
	for _, q := range p.list {
		if q*q > remaining {
			break
		}
		for remaining%q == 0 {
			factors[q]++
			remaining /= q
		}
	}
	if remaining > 1 {
		factors[remaining]++
	}
	return factors, true
}

// AddUnits inserts every prime factor of n into the forbidden-factor set.
func (p *Primes) AddUnits(n int64) {
	f, ok := p.Factorize(n)
	if !ok {
		return
	}
	for prime, count := range f {
		p.units[prime] += count
	}
}

// Candidate is one accepted record from FindCandidates.
type Candidate struct {
	Q             int64
	FactorCount   int
	MinFactor     int64
	MaxFactor     int64
	Factorization map[int64]int
}

// FindCandidates iterates k from Upperbound to (floor(sqrt(Upperbound))+1)^2
// - 1, accepting k iff its factorization includes every prime in
// zeroDivisors and excludes every prime registered via AddUnits. Results
// are sorted ascending by (factor_count, q, min_factor, max_factor);
// callers pick the last (largest, most-factored) entry.
func (p *Primes) FindCandidates(zeroDivisors []int64) []Candidate {
	lim := p.defaultLimit()
	var out []Candidate
	for k := p.Upperbound; k < lim; k++ {
		f, ok := p.Factorize(k, lim)
		if !ok {
			continue
		}
		accepted := true
		for _, zd := range zeroDivisors {
			if f[zd] == 0 {
				accepted = false
				break
			}
		}
		if accepted {
			for unit := range p.units {
				if f[unit] != 0 {
					accepted = false
					break
				}
			}
		}
		if !accepted {
			continue
		}
		minF, maxF := int64(0), int64(0)
		first := true
		for prime := range f {
			if first || prime < minF {
				minF = prime
			}
			if first || prime > maxF {
				maxF = prime
			}
			first = false
		}
		out = append(out, Candidate{
			Q:             k,
			FactorCount:   len(f),
			MinFactor:     minF,
			MaxFactor:     maxF,
			Factorization: f,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FactorCount != b.FactorCount {
			return a.FactorCount < b.FactorCount
		}
		if a.Q != b.Q {
			return a.Q < b.Q
		}
		if a.MinFactor != b.MinFactor {
			return a.MinFactor < b.MinFactor
		}
		return a.MaxFactor < b.MaxFactor
	})
	return out
}

// WriteTo serializes the sieved prime list (keyed by Upperbound) to w,
// implementing io.WriterTo the way utils/structs/map.go does for the
// teacher's binary-serializable values, against encoding/binary directly
// since the teacher's own buffer package was not available to adapt (see
// DESIGN.md).
func (p *Primes) WriteTo(w io.Writer) (n int64, err error) {
	bw := bufio.NewWriter(w)
	if err = binary.Write(bw, binary.BigEndian, p.Upperbound); err != nil {
		return 0, err
	}
	n += 8
	if err = binary.Write(bw, binary.BigEndian, uint64(len(p.list))); err != nil {
		return n, err
	}
	n += 8
	for _, v := range p.list {
		if err = binary.Write(bw, binary.BigEndian, v); err != nil {
			return n, err
		}
		n += 8
	}
	return n, bw.Flush()
}

// ReadFrom deserializes a prime cache written by WriteTo.
func (p *Primes) ReadFrom(r io.Reader) (n int64, err error) {
	br := bufio.NewReader(r)
	if err = binary.Read(br, binary.BigEndian, &p.Upperbound); err != nil {
		return 0, err
	}
	n += 8
	var size uint64
	if err = binary.Read(br, binary.BigEndian, &size); err != nil {
		return n, err
	}
	n += 8
	p.list = make([]int64, size)
	for i := range p.list {
		if err = binary.Read(br, binary.BigEndian, &p.list[i]); err != nil {
			return n, err
		}
		n += 8
	}
	if p.units == nil {
		p.units = make(map[int64]int)
	}
	return n, nil
}

// MarshalBinary encodes the prime cache into a newly allocated byte slice.
func (p *Primes) MarshalBinary() ([]byte, error) {
	var buf writeBuffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("arith: MarshalBinary: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a prime cache produced by MarshalBinary.
func (p *Primes) UnmarshalBinary(data []byte) error {
	_, err := p.ReadFrom(&readBuffer{data: data})
	return err
}

type writeBuffer struct {
	b []byte
}

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *writeBuffer) Bytes() []byte {
	return w.b
}

type readBuffer struct {
	data []byte
	pos  int
}

func (r *readBuffer) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
