// Package aces implements ACES encryption and decryption (C5): the public
// and symmetric encryptors, the secret-key decryptor, and the pseudo-cipher
// / corefresher machinery the homomorphic algebra uses to drive refresh.
package aces

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/remytuyeras/aces-go/channel"
	"github.com/remytuyeras/aces-go/poly"
	"github.com/remytuyeras/aces-go/rng"
)

// ErrPlaintextOverflow is a non-fatal diagnostic: the message passed to
// Encrypt was >= p. Encryption still proceeds, folding floor(m/p) into the
// returned cipher's noise level, per spec.md section 7's
// "EPlaintextOverflow" warning kind.
var ErrPlaintextOverflow = errors.New("aces: plaintext m >= p")

// Cipher is an ACES ciphertext: a decryption vector over n secret-key
// components, a combined encoding polynomial, the current noise level, and
// the ciphertext modulus it was built under (carried so Cipher is
// self-contained for pseudo/corefresher use).
type Cipher struct {
	Dec []*poly.Polynomial
	Enc *poly.Polynomial
	Lvl int
	Q   *big.Int
}

// PseudoCipher is the evaluate-at-1 projection of a Cipher used by
// [Cipher.Pseudo] and consumed by [Cipher.Corefresher].
type PseudoCipher struct {
	Dec []*big.Int
	Enc *big.Int
	Lvl int
}

// EncAnchor samples the evaluation-at-1 value used to build the i-th
// blinding component of a public encryption. The default,
// DefaultEncAnchor, samples uniformly in the closed interval [0, p].
type EncAnchor func(source rng.Source, i int, p *big.Int) *big.Int

// DefaultEncAnchor samples uniformly in [0, p] (closed), per spec.md
// section 4.5's default anchor.
func DefaultEncAnchor(source rng.Source, i int, p *big.Int) *big.Int {
	return source.BigInt(new(big.Int).Add(p, big.NewInt(1)))
}

// withValue returns a polynomial of length degU with coefficients in
// [0, q), shifted so its evaluation at 1 is value mod q. Every channel- and
// cipher-construction step in ACES builds its randomized polynomials this
// way (see channel.ArithChannel's generateU/generateSecret/etc).
func withValue(source rng.Source, value, q *big.Int, degU int) *poly.Polynomial {
	P := poly.Random(source, q, degU)
	shiftVal := new(big.Int).Mod(new(big.Int).Sub(value, P.Evaluate(big.NewInt(1))), q)
	shift := poly.RandomShift(source, shiftVal, q, degU)
	return P.Add(shift)
}

func ceilDivInt64(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Encryptor performs public-key (asymmetric) ACES encryption.
type Encryptor struct {
	Params channel.PublicParameters
	DegU   int
	Anchor EncAnchor
	source rng.Source
}

// NewEncryptor builds an Encryptor over params. anchor may be nil,
// defaulting to DefaultEncAnchor.
func NewEncryptor(source rng.Source, params channel.PublicParameters, degU int, anchor EncAnchor) *Encryptor {
	if anchor == nil {
		anchor = DefaultEncAnchor
	}
	return &Encryptor{Params: params, DegU: degU, Anchor: anchor, source: source}
}

// Encrypt performs asymmetric (public-key) encryption of m, per spec.md
// section 4.5. A non-nil, non-fatal [ErrPlaintextOverflow] is returned
// alongside a fully valid cipher when m >= p.
func (e *Encryptor) Encrypt(m *big.Int) (*Cipher, error) {
	q, p, u := e.Params.Q, e.Params.P, e.Params.U
	n, N := e.Params.N, e.Params.NN

	bVals := make([]*big.Int, N)
	b := make([]*poly.Polynomial, N)
	for i := 0; i < N; i++ {
		bVals[i] = e.Anchor(e.source, i, p)
		b[i] = withValue(e.source, bVals[i], q, e.DegU)
	}

	rm := withValue(e.source, m, q, e.DegU)

	encSum := poly.Zero(poly.Mod(q))
	for i := 0; i < N; i++ {
		encSum = encSum.Add(b[i].Mul(e.Params.F1[i]))
	}
	enc := poly.ModReduce(rm.Add(encSum), u)

	dec := make([]*poly.Polynomial, n)
	for j := 0; j < n; j++ {
		sum := poly.Zero(poly.Mod(q))
		for i := 0; i < N; i++ {
			sum = sum.Add(b[i].Mul(e.Params.F0[i][j]))
		}
		dec[j] = poly.ModReduce(sum, u)
	}

	pVal := p.Int64()
	noise := new(big.Int)
	for i := 0; i < N; i++ {
		term := ceilDivInt64(bVals[i].Int64(), pVal) * int64(e.Params.Levels[i]) * pVal
		noise.Add(noise, big.NewInt(term))
	}
	mq, _ := new(big.Int).QuoRem(m, p, new(big.Int))
	noise.Add(noise, mq)

	c := &Cipher{Dec: dec, Enc: enc, Lvl: int(noise.Int64()), Q: q}
	if m.Cmp(p) >= 0 {
		return c, fmt.Errorf("%w (m=%s, p=%s)", ErrPlaintextOverflow, m, p)
	}
	return c, nil
}

// Decryptor performs secret-key decryption and symmetric encryption. It
// wraps a completed [channel.ArithChannel], which carries the secret key x,
// the repartition state, and all public parameters needed to blind a
// message under the holder's own key.
type Decryptor struct {
	AC     *channel.ArithChannel
	DegU   int
	source rng.Source
}

// NewDecryptor wraps ac (the secret-key holder's channel) into a Decryptor.
func NewDecryptor(source rng.Source, ac *channel.ArithChannel, degU int) *Decryptor {
	return &Decryptor{AC: ac, DegU: degU, source: source}
}

// EncryptSymmetric performs secret-key encryption of m, choosing a noise
// level k uniformly in [minNoise, min(q/p, maxNoise)], per spec.md section
// 4.5.
func (d *Decryptor) EncryptSymmetric(m *big.Int, minNoise, maxNoise int) (*Cipher, error) {
	ac := d.AC
	q, p, u := ac.Q, ac.P, ac.U
	n := ac.Dim

	dec := make([]*poly.Polynomial, n)
	for k := 0; k < n; k++ {
		r := d.source.BigInt(q)
		factor := big.NewInt(ac.R.Factors[ac.R.SigmaImg[k]])
		value := new(big.Int).Mod(new(big.Int).Mul(factor, r), q)
		dec[k] = withValue(d.source, value, q, d.DegU)
	}

	qOverP := new(big.Int).Quo(q, p).Int64()
	hi := maxNoise
	if qOverP < int64(hi) {
		hi = int(qOverP)
	}
	if hi < minNoise {
		hi = minNoise
	}
	k := minNoise + d.source.Intn(hi-minNoise+1)
	eVal := new(big.Int).Mod(new(big.Int).Mul(p, big.NewInt(int64(k))), q)
	e := withValue(d.source, eVal, q, d.DegU)

	rm := withValue(d.source, m, q, d.DegU)

	sum := poly.Zero(poly.Mod(q))
	for k := 0; k < n; k++ {
		sum = sum.Add(dec[k].Mul(ac.X[k]))
	}
	enc := poly.ModReduce(rm.Add(e).Add(sum), u)

	mq, _ := new(big.Int).QuoRem(m, p, new(big.Int))
	lvl := int64(maxNoise) + mq.Int64()

	c := &Cipher{Dec: dec, Enc: enc, Lvl: int(lvl), Q: q}
	if m.Cmp(p) >= 0 {
		return c, fmt.Errorf("%w (m=%s, p=%s)", ErrPlaintextOverflow, m, p)
	}
	return c, nil
}

// Decrypt reverses encryption using the secret key: it subtracts
// Sum_k dec[k]*x[k] from enc in raw Z/qZ[X] arithmetic (no reduction by u),
// evaluates the result at 1, and reduces mod p.
func (d *Decryptor) Decrypt(c *Cipher) *big.Int {
	pre := c.Enc
	for k, xk := range d.AC.X {
		pre = pre.Sub(c.Dec[k].Mul(xk))
	}
	val := pre.Evaluate(big.NewInt(1))
	val.Mod(val, d.AC.Q)
	val.Mod(val, d.AC.P)
	return val
}

// Pseudo projects c onto its evaluate-at-1 values, negating the dec
// entries modulo q, per spec.md section 4.5's corefresher step 1.
func (c *Cipher) Pseudo() PseudoCipher {
	n := len(c.Dec)
	out := PseudoCipher{Dec: make([]*big.Int, n), Lvl: c.Lvl}
	for i, d := range c.Dec {
		v := d.Evaluate(big.NewInt(1))
		out.Dec[i] = new(big.Int).Mod(new(big.Int).Sub(c.Q, v), c.Q)
	}
	out.Enc = new(big.Int).Mod(c.Enc.Evaluate(big.NewInt(1)), c.Q)
	return out
}

// EncryptFunc encrypts a plaintext, public-key or symmetric, to be used by
// [Cipher.Corefresher].
type EncryptFunc func(m *big.Int) (*Cipher, error)

// Corefresher builds the refresh helper pair (a, b) from c's pseudo
// projection, per spec.md section 4.5: a[i] encrypts pseudo.dec[i] mod p,
// b encrypts pseudo.enc mod p.
func (c *Cipher) Corefresher(p *big.Int, encrypt EncryptFunc) (a []*Cipher, b *Cipher, err error) {
	pseudo := c.Pseudo()

	a = make([]*Cipher, len(pseudo.Dec))
	for i, v := range pseudo.Dec {
		ai, encErr := encrypt(new(big.Int).Mod(v, p))
		if encErr != nil && !errors.Is(encErr, ErrPlaintextOverflow) {
			return nil, nil, fmt.Errorf("aces: corefresher: %w", encErr)
		}
		a[i] = ai
	}

	b, encErr := encrypt(new(big.Int).Mod(pseudo.Enc, p))
	if encErr != nil && !errors.Is(encErr, ErrPlaintextOverflow) {
		return nil, nil, fmt.Errorf("aces: corefresher: %w", encErr)
	}
	return a, b, nil
}

// GenerateRefresher builds the secret-key-side refresher vector, per
// spec.md section 4.5: one symmetric encryption of x_i(1) mod p per
// secret-key component.
func (d *Decryptor) GenerateRefresher(minNoise, maxNoise int) ([]*Cipher, error) {
	n := d.AC.Dim
	refresher := make([]*Cipher, n)
	for i := 0; i < n; i++ {
		xVal := new(big.Int).Mod(d.AC.X[i].Evaluate(big.NewInt(1)), d.AC.P)
		c, err := d.EncryptSymmetric(xVal, minNoise, maxNoise)
		if err != nil && !errors.Is(err, ErrPlaintextOverflow) {
			return nil, fmt.Errorf("aces: generate refresher: %w", err)
		}
		refresher[i] = c
	}
	return refresher, nil
}
