// Package poly implements the polynomial ring Z/mZ[X] (or Z[X] when no
// modulus is carried) that underlies the ACES cryptosystem: coefficient
// arithmetic, Horner evaluation, leading-term reduction against a modulus
// polynomial, Euclidean division, and an extended-GCD variant adapted to a
// non-field coefficient ring (composite modulus q).
//
// Values are immutable: every operation returns a new [Polynomial] rather
// than mutating a receiver, matching the teacher ring package's copy-on-write
// discipline.
package poly

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/remytuyeras/aces-go/numeric"
	"github.com/remytuyeras/aces-go/rng"
)

// Modulus is a total-function replacement for a nullable coefficient
// modulus: either NoMod (plain Z[X]) or a concrete modulus. See spec.md
// section 9 ("Cyclic references / numerical modulus across polynomials").
type Modulus struct {
	isSet bool
	m     *big.Int
}

// NoMod returns the absent-modulus state.
func NoMod() Modulus {
	return Modulus{}
}

// Mod returns the modulus state carrying m. Panics if m is nil or <= 0.
func Mod(m *big.Int) Modulus {
	if m == nil || m.Sign() <= 0 {
		panic("poly: modulus must be a positive integer")
	}
	return Modulus{isSet: true, m: new(big.Int).Set(m)}
}

// IsSet reports whether a concrete modulus is carried.
func (m Modulus) IsSet() bool {
	return m.isSet
}

// Int returns the modulus value. Panics if IsSet is false.
func (m Modulus) Int() *big.Int {
	if !m.isSet {
		panic("poly: Modulus.Int called on NoMod")
	}
	return m.m
}

// Equal reports whether two Modulus values carry the same state.
func (m Modulus) Equal(o Modulus) bool {
	if m.isSet != o.isSet {
		return false
	}
	if !m.isSet {
		return true
	}
	return m.m.Cmp(o.m) == 0
}

func (m Modulus) reduce(v *big.Int) *big.Int {
	if !m.isSet {
		return new(big.Int).Set(v)
	}
	r := new(big.Int).Mod(v, m.m)
	return r
}

// common implements the combination rule used throughout ACES arithmetic:
// if both operands carry the same modulus, the result carries it too; in
// every other case (one or both absent, or the two moduli differ) the
// result is unmoduloed Z[X] arithmetic on the raw coefficient values. This
// mirrors the reference implementation's `mod = None if self.intmod !=
// other.intmod else self.intmod`.
func common(a, b Modulus) Modulus {
	if a.isSet && b.isSet && a.m.Cmp(b.m) == 0 {
		return a
	}
	return NoMod()
}

// Polynomial is an ordered coefficient sequence a0, a1, ..., a_d (index =
// degree) with an optional coefficient modulus.
type Polynomial struct {
	Coeffs []*big.Int
	Mod    Modulus
}

// New builds a Polynomial from coefficients (index = degree), with no
// modulus. Coefficients are copied.
func New(coeffs ...*big.Int) *Polynomial {
	return &Polynomial{Coeffs: cloneSlice(coeffs), Mod: NoMod()}
}

// NewMod builds a Polynomial from coefficients reduced modulo m.
func NewMod(m *big.Int, coeffs ...*big.Int) *Polynomial {
	mo := Mod(m)
	c := make([]*big.Int, len(coeffs))
	for i, v := range coeffs {
		c[i] = mo.reduce(v)
	}
	return &Polynomial{Coeffs: c, Mod: mo}
}

// Zero returns the null polynomial carrying mod (NoMod() is valid).
func Zero(mod Modulus) *Polynomial {
	return &Polynomial{Coeffs: []*big.Int{big.NewInt(0)}, Mod: mod}
}

func cloneSlice(a []*big.Int) []*big.Int {
	out := make([]*big.Int, len(a))
	for i, v := range a {
		if v == nil {
			out[i] = big.NewInt(0)
		} else {
			out[i] = new(big.Int).Set(v)
		}
	}
	if len(out) == 0 {
		out = []*big.Int{big.NewInt(0)}
	}
	return out
}

// Clone returns a deep copy of p.
func (p *Polynomial) Clone() *Polynomial {
	return &Polynomial{Coeffs: cloneSlice(p.Coeffs), Mod: p.Mod}
}

func (p *Polynomial) coeffAt(i int) *big.Int {
	if i < 0 || i >= len(p.Coeffs) {
		return big.NewInt(0)
	}
	return p.Coeffs[i]
}

// Degree returns the largest index with a non-zero coefficient, or 0 if p
// is the null polynomial.
func (p *Polynomial) Degree() int {
	for i := len(p.Coeffs) - 1; i > 0; i-- {
		if p.Coeffs[i].Sign() != 0 {
			return i
		}
	}
	return 0
}

// LeadCoef returns the coefficient at Degree().
func (p *Polynomial) LeadCoef() *big.Int {
	return new(big.Int).Set(p.coeffAt(p.Degree()))
}

// IsNull reports whether every coefficient of p is zero.
func (p *Polynomial) IsNull() bool {
	for _, c := range p.Coeffs {
		if c.Sign() != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether p and o represent the same polynomial under the
// same modulus state.
func (p *Polynomial) Equal(o *Polynomial) bool {
	if !p.Mod.Equal(o.Mod) {
		return false
	}
	d := numeric.Max(p.Degree(), o.Degree())
	for i := 0; i <= d; i++ {
		if p.coeffAt(i).Cmp(o.coeffAt(i)) != 0 {
			return false
		}
	}
	return true
}

// String renders p as a sum of "[coef]^degree" terms, high to low degree,
// matching the reference implementation's __repr__.
func (p *Polynomial) String() string {
	d := p.Degree()
	var terms []string
	for k := d; k >= 0; k-- {
		c := p.coeffAt(k)
		if c.Sign() == 0 {
			continue
		}
		terms = append(terms, fmt.Sprintf("[%s]^%d", c.String(), k))
	}
	body := strings.Join(terms, "+")
	if body == "" {
		body = "[0]^0"
	}
	if p.Mod.IsSet() {
		return fmt.Sprintf("%s (%s)", body, p.Mod.Int().String())
	}
	return fmt.Sprintf("%s (<nil>)", body)
}

// Add returns p + o.
func (p *Polynomial) Add(o *Polynomial) *Polynomial {
	mod := common(p.Mod, o.Mod)
	d := numeric.Max(p.Degree(), o.Degree())
	coeffs := make([]*big.Int, d+1)
	for i := 0; i <= d; i++ {
		v := new(big.Int).Add(p.coeffAt(i), o.coeffAt(i))
		coeffs[i] = mod.reduce(v)
	}
	return &Polynomial{Coeffs: coeffs, Mod: mod}
}

// Sub returns p - o.
func (p *Polynomial) Sub(o *Polynomial) *Polynomial {
	mod := common(p.Mod, o.Mod)
	d := numeric.Max(p.Degree(), o.Degree())
	coeffs := make([]*big.Int, d+1)
	for i := 0; i <= d; i++ {
		v := new(big.Int).Sub(p.coeffAt(i), o.coeffAt(i))
		coeffs[i] = mod.reduce(v)
	}
	return &Polynomial{Coeffs: coeffs, Mod: mod}
}

// Mul returns p * o.
func (p *Polynomial) Mul(o *Polynomial) *Polynomial {
	mod := common(p.Mod, o.Mod)
	dp, do := p.Degree(), o.Degree()
	coeffs := make([]*big.Int, dp+do+1)
	for i := range coeffs {
		coeffs[i] = big.NewInt(0)
	}
	tmp := new(big.Int)
	for i := 0; i <= dp; i++ {
		ci := p.coeffAt(i)
		if ci.Sign() == 0 {
			continue
		}
		for j := 0; j <= do; j++ {
			cj := o.coeffAt(j)
			if cj.Sign() == 0 {
				continue
			}
			tmp.Mul(ci, cj)
			coeffs[i+j].Add(coeffs[i+j], tmp)
		}
	}
	for i, c := range coeffs {
		coeffs[i] = mod.reduce(c)
	}
	return &Polynomial{Coeffs: coeffs, Mod: mod}
}

// MulScalar returns p with every coefficient multiplied by c (reduced
// modulo p.Mod if set).
func (p *Polynomial) MulScalar(c *big.Int) *Polynomial {
	coeffs := make([]*big.Int, len(p.Coeffs))
	for i, v := range p.Coeffs {
		coeffs[i] = p.Mod.reduce(new(big.Int).Mul(v, c))
	}
	return &Polynomial{Coeffs: coeffs, Mod: p.Mod}
}

// Evaluate evaluates p at omega using Horner's rule, reducing modulo
// p.Mod after each step when set.
func (p *Polynomial) Evaluate(omega *big.Int) *big.Int {
	d := p.Degree()
	out := big.NewInt(0)
	for i := d; i >= 0; i-- {
		out.Mul(out, omega)
		out.Add(out, p.coeffAt(i))
		out = p.Mod.reduce(out)
	}
	return out
}

// IntegerReduce determines whether lead coefficient a can be reduced by
// lead coefficient b: if a is exactly divisible by b, the quotient is
// returned directly; otherwise, when mod is set, it searches for the
// smallest k in [1, b) such that (a + k*mod) is divisible by b. Returns
// ok=false when no such adjustment exists (including when mod is NoMod and
// a is not a multiple of b).
func IntegerReduce(a, b *big.Int, mod Modulus) (quotient *big.Int, ok bool) {
	if b.Sign() == 0 {
		return nil, false
	}
	if r := new(big.Int).Mod(a, b); r.Sign() == 0 {
		return new(big.Int).Quo(a, b), true
	}
	if !mod.IsSet() {
		return nil, false
	}
	m := mod.Int()
	absB := new(big.Int).Abs(b)
	for k := int64(1); big.NewInt(k).Cmp(absB) < 0; k++ {
		cand := new(big.Int).Add(a, new(big.Int).Mul(big.NewInt(k), m))
		if new(big.Int).Mod(cand, b).Sign() == 0 {
			return new(big.Int).Quo(cand, b), true
		}
	}
	return nil, false
}

// monomial returns c * X^degree as a Polynomial carrying mod.
func monomial(c *big.Int, degree int, mod Modulus) *Polynomial {
	coeffs := make([]*big.Int, degree+1)
	for i := range coeffs {
		coeffs[i] = big.NewInt(0)
	}
	coeffs[degree] = mod.reduce(c)
	return &Polynomial{Coeffs: coeffs, Mod: mod}
}

// ReduceStep performs one leading-term reduction step of A by U: it
// returns the remainder after subtracting the unique monomial multiple of
// U that cancels A's leading term, the quotient monomial subtracted, and
// whether the step succeeded. Failure (ok=false) occurs when deg(A) <
// deg(U), or when the leading coefficients are not compatible (see
// [IntegerReduce]).
func ReduceStep(A, U *Polynomial) (R, QStep *Polynomial, ok bool) {
	mod := common(A.Mod, U.Mod)
	if A.Degree() < U.Degree() {
		return A, Zero(mod), false
	}
	a, b := A.LeadCoef(), U.LeadCoef()
	quotient, okReduce := IntegerReduce(a, b, mod)
	if !okReduce {
		return A, Zero(mod), false
	}
	degDiff := A.Degree() - U.Degree()
	QStep = monomial(quotient, degDiff, mod)
	R = A.Sub(QStep.Mul(U))
	return R, QStep, true
}

// ModReduce repeatedly applies ReduceStep until it fails, and returns the
// final remainder.
func ModReduce(A, U *Polynomial) *Polynomial {
	R := A
	for {
		next, _, ok := ReduceStep(R, U)
		if !ok {
			return R
		}
		R = next
	}
}

// DivMod performs the same loop as [ModReduce] while also accumulating the
// quotient Q as the sum of every QStep.
func DivMod(A, U *Polynomial) (Q, R *Polynomial) {
	mod := common(A.Mod, U.Mod)
	Q = Zero(mod)
	R = A
	for {
		next, qstep, ok := ReduceStep(R, U)
		if !ok {
			return Q, R
		}
		Q = Q.Add(qstep)
		R = next
	}
}

// ExtendedGCD runs a classical extended Euclidean loop over A, B using
// [DivMod]. Because Z/qZ[X] is not a field when q is composite, division
// can stall with no progress (DivMod returns Q=0, R=A unchanged); when that
// happens the algorithm rescues progress by multiplying the stalled
// remainder by the other side's leading coefficient before retrying, and
// carries that scalar into the Bezout coefficient update. The returned g
// may therefore be a scalar multiple of the true GCD; callers must rely on
// divisibility, not equality (spec.md section 4.1/9).
func ExtendedGCD(A, B *Polynomial) (g, s, t *Polynomial) {
	mod := common(A.Mod, B.Mod)
	one := monomial(big.NewInt(1), 0, mod)
	zero := Zero(mod)

	r := []*Polynomial{A, B}
	ss := []*Polynomial{one, zero}
	tt := []*Polynomial{zero, one}

	for !r[len(r)-1].IsNull() {
		r0 := r[len(r)-2]
		r1 := r[len(r)-1]

		Q, R2 := DivMod(r0, r1)

		if R2.Equal(r0) && !r1.IsNull() && r0.Degree() >= r1.Degree() {
			// Stalled: rescue by multiplying r0 by lead(r1) and retry.
			lead := r1.LeadCoef()
			r0Rescued := r0.MulScalar(lead)
			Q, R2 = DivMod(r0Rescued, r1)

			leadPoly := monomial(lead, 0, mod)
			sPrev := ss[len(ss)-2].Mul(leadPoly)
			tPrev := tt[len(tt)-2].Mul(leadPoly)
			ss = append(ss, sPrev.Sub(Q.Mul(ss[len(ss)-1])))
			tt = append(tt, tPrev.Sub(Q.Mul(tt[len(tt)-1])))
		} else {
			ss = append(ss, ss[len(ss)-2].Sub(Q.Mul(ss[len(ss)-1])))
			tt = append(tt, tt[len(tt)-2].Sub(Q.Mul(tt[len(tt)-1])))
		}
		r = append(r, R2)
	}

	return r[len(r)-2], ss[len(ss)-2], tt[len(tt)-2]
}

// Random returns a polynomial of length d with uniformly random
// coefficients in [0, m).
func Random(source rng.Source, m *big.Int, d int) *Polynomial {
	coeffs := make([]*big.Int, d)
	for i := range coeffs {
		coeffs[i] = source.BigInt(m)
	}
	return &Polynomial{Coeffs: coeffs, Mod: Mod(m)}
}

// RandomShift picks a random k in [0, d) and returns the polynomial with a
// single non-zero coefficient, c mod m, at position k; the result has
// length k+1.
func RandomShift(source rng.Source, c, m *big.Int, d int) *Polynomial {
	k := source.Intn(d)
	return monomial(c, k, Mod(m))
}

