// Package classifier implements the ACES refresh classifiers (C7): the
// secret-key-side RefreshClassifier (is_refreshable, is_locator,
// is_director, and the over-approximate public-side trigger built from
// them) and the key-free PublicClassifier greedy algorithm that decides
// refreshability from a precomputed locator/director table alone.
package classifier

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"

	"github.com/remytuyeras/aces-go/aces"
	"github.com/remytuyeras/aces-go/rng"
)

// ErrClassifierExhausted is returned by FindAffine when it fails to find at
// least one locator and one director within 10x its epoch budget, per
// spec.md section 7's EClassifierExhausted kind.
var ErrClassifierExhausted = errors.New("classifier: find_affine exceeded its search budget")

// RefreshClassifier is the secret-key-side classifier: every method here
// needs XImages (the repartition's secret-key images), so it is only ever
// held by the party that also holds the secret key.
type RefreshClassifier struct {
	XImages []*big.Int
	Q       *big.Int
	P       *big.Int
}

// New builds a RefreshClassifier over the given secret-key images.
func New(xImages []*big.Int, q, p *big.Int) *RefreshClassifier {
	return &RefreshClassifier{XImages: xImages, Q: q, P: p}
}

// IsRefreshable reports whether c is refreshable: it reconstructs
// iota = pseudo.Enc + Sum_i pseudo.Dec[i]*x_images[i] over the integers from
// c's pseudo projection (dec entries negated mod q, see [aces.Cipher.Pseudo]),
// and checks that floor(iota/q) is a multiple of p.
func (rc *RefreshClassifier) IsRefreshable(c *aces.Cipher) bool {
	pseudo := c.Pseudo()
	iota := new(big.Int).Set(pseudo.Enc)
	for i, d := range pseudo.Dec {
		term := new(big.Int).Mul(d, rc.XImages[i])
		iota.Add(iota, term)
	}
	k0p := new(big.Int).Quo(iota, rc.Q)
	return new(big.Int).Mod(k0p, rc.P).Sign() == 0
}

// barycenter splits iota' = Sum_i dec[i]*x_images[i] into its quotient
// (floor(iota'/q)) and fractional remainder (as a float64 in [0, 1)).
func (rc *RefreshClassifier) barycenter(dec []*big.Int) (quotient *big.Int, margin float64) {
	iotaPrime := new(big.Int)
	for i, v := range dec {
		iotaPrime.Add(iotaPrime, new(big.Int).Mul(v, rc.XImages[i]))
	}
	q, r := new(big.Int).QuoRem(iotaPrime, rc.Q, new(big.Int))
	if r.Sign() < 0 {
		r.Add(r, rc.Q)
		q.Sub(q, big.NewInt(1))
	}
	rf, _ := new(big.Float).SetInt(r).Float64()
	qf, _ := new(big.Float).SetInt(rc.Q).Float64()
	return q, rf / qf
}

func (rc *RefreshClassifier) sumXImages() *big.Int {
	s := new(big.Int)
	for _, v := range rc.XImages {
		s.Add(s, v)
	}
	return s
}

// IsLocator reports whether dec is a "locator" vector and its fractional
// margin, per spec.md section 4.7: k0p = Sum(x_images) - floor(bary).
func (rc *RefreshClassifier) IsLocator(dec []*big.Int) (bool, float64) {
	isLoc, margin, _ := rc.classifyK0p(dec, true)
	return isLoc, margin
}

// IsDirector reports whether dec is a "director" vector and its fractional
// margin, per spec.md section 4.7: k0p = floor(bary).
func (rc *RefreshClassifier) IsDirector(dec []*big.Int) (bool, float64) {
	isDir, margin, _ := rc.classifyK0p(dec, false)
	return isDir, margin
}

func (rc *RefreshClassifier) classifyK0p(dec []*big.Int, locator bool) (bool, float64, *big.Int) {
	quotient, margin := rc.barycenter(dec)
	var k0p *big.Int
	if locator {
		k0p = new(big.Int).Sub(rc.sumXImages(), quotient)
	} else {
		k0p = new(big.Int).Set(quotient)
	}
	return new(big.Int).Mod(k0p, rc.P).Sign() == 0, margin, k0p
}

// Classify is the public-side over-approximate trigger (the spec's
// "refresh_classifier"): it combines IsLocator with a noise-budget bound
// derived from c.Lvl.
func (rc *RefreshClassifier) Classify(c *aces.Cipher) bool {
	dec1 := make([]*big.Int, len(c.Dec))
	for i, d := range c.Dec {
		dec1[i] = d.Evaluate(big.NewInt(1))
	}
	isLoc, margin := rc.IsLocator(dec1)

	pf, _ := new(big.Float).SetInt(rc.P).Float64()
	qf, _ := new(big.Float).SetInt(rc.Q).Float64()
	maxMargin := (float64(c.Lvl)*pf + pf - 1) / qf

	return math.Mod(maxMargin, pf) < 1-margin && isLoc
}

// AffineVector is one (vector, factor) pair collected by FindAffine: V is
// the sampled integer vector, F is the k0p value that made it classify as
// a locator or director.
type AffineVector struct {
	V []*big.Int
	F *big.Int
}

// FindAffine random-samples integer vectors with entries in
// [searchMin, searchMax], classifying each as a locator and/or director,
// until both collections are non-empty and at least epochs samples have
// been drawn, aborting with [ErrClassifierExhausted] after 10*epochs
// samples otherwise.
func (rc *RefreshClassifier) FindAffine(source rng.Source, searchMin, searchMax, epochs int) (locators, directors []AffineVector, err error) {
	n := len(rc.XImages)
	span := big.NewInt(int64(searchMax - searchMin + 1))

	sample := 0
	for sample < 10*epochs {
		sample++
		v := make([]*big.Int, n)
		for i := range v {
			v[i] = new(big.Int).Add(big.NewInt(int64(searchMin)), source.BigInt(span))
		}

		if isLoc, _, k0p := rc.classifyK0p(v, true); isLoc {
			locators = append(locators, AffineVector{V: v, F: k0p})
		}
		if isDir, _, k0p := rc.classifyK0p(v, false); isDir {
			directors = append(directors, AffineVector{V: v, F: k0p})
		}

		if sample >= epochs && len(locators) > 0 && len(directors) > 0 {
			return locators, directors, nil
		}
	}

	if len(locators) > 0 && len(directors) > 0 {
		return locators, directors, nil
	}
	return nil, nil, fmt.Errorf("classifier: %w (after %d samples)", ErrClassifierExhausted, sample)
}

// PublicClassifier decides refreshability without the secret key, from a
// precomputed table of locator and director vectors (collected offline by
// RefreshClassifier.FindAffine).
type PublicClassifier struct {
	Locators  []AffineVector
	Directors []AffineVector
	P         *big.Int
	Q         *big.Int
}

// NewPublicClassifier builds a PublicClassifier from a previously computed
// locator/director table.
func NewPublicClassifier(locators, directors []AffineVector, p, q *big.Int) *PublicClassifier {
	return &PublicClassifier{Locators: locators, Directors: directors, P: p, Q: q}
}

// Classify runs the greedy public classification algorithm of spec.md
// section 4.7 on c's dec vector (evaluated at 1).
func (pc *PublicClassifier) Classify(c *aces.Cipher) bool {
	n := len(c.Dec)
	vector := make([]*big.Int, n)
	for i, d := range c.Dec {
		vector[i] = d.Evaluate(big.NewInt(1))
	}

	backtrack := make([]*big.Int, n)
	for i := range backtrack {
		backtrack[i] = big.NewInt(0)
	}
	var margin []*big.Int
	visits := make(map[int]int)
	lastUsed := -1

	for {
		idx, ok := pc.pickNextIndex(vector, lastUsed)
		if !ok {
			break
		}
		if visits[idx] > n {
			break
		}

		director, ok := pc.pickDirector(vector, idx)
		if !ok {
			return false
		}

		factor := new(big.Int).Quo(vector[idx], director.V[idx])
		for j := 0; j < n; j++ {
			term := new(big.Int).Mul(factor, director.V[j])
			vector[j] = new(big.Int).Sub(vector[j], term)
			backtrack[j] = new(big.Int).Add(backtrack[j], term)
		}
		margin = append(margin, new(big.Int).Mul(factor, director.F))

		visits[idx]++
		lastUsed = idx
	}

	for _, loc := range pc.Locators {
		if !vectorsEqual(vector, loc.V) {
			continue
		}
		trial := append(append([]*big.Int{}, margin...), loc.F)
		sum := new(big.Int)
		for _, m := range trial {
			sum.Add(sum, m)
		}
		marginModulo := new(big.Int).Mod(sum, pc.P)

		pf, _ := new(big.Float).SetInt(pc.P).Float64()
		qf, _ := new(big.Float).SetInt(pc.Q).Float64()
		maxMargin := (float64(c.Lvl)*pf + pf - 1) / qf
		marginModuloF, _ := new(big.Float).SetInt(marginModulo).Float64()

		if marginModuloF >= 1 {
			continue
		}
		if !(math.Mod(maxMargin, pf) < 1-marginModuloF) {
			continue
		}
		within := true
		for j := 0; j < n; j++ {
			sumV := new(big.Int).Add(backtrack[j], loc.V[j])
			if sumV.CmpAbs(pc.Q) >= 0 {
				within = false
				break
			}
		}
		if within {
			return true
		}
	}
	return false
}

// pickNextIndex finds the non-zero index of vector with the largest
// absolute value (ties broken toward positive entries), excluding
// lastUsed.
func (pc *PublicClassifier) pickNextIndex(vector []*big.Int, lastUsed int) (int, bool) {
	type cand struct {
		idx int
		abs *big.Int
		neg bool
	}
	var cands []cand
	for i, v := range vector {
		if v.Sign() == 0 || i == lastUsed {
			continue
		}
		cands = append(cands, cand{idx: i, abs: new(big.Int).Abs(v), neg: v.Sign() < 0})
	}
	if len(cands) == 0 {
		return 0, false
	}
	sort.Slice(cands, func(i, j int) bool {
		c := cands[i].abs.Cmp(cands[j].abs)
		if c != 0 {
			return c > 0
		}
		return !cands[i].neg && cands[j].neg
	})
	return cands[0].idx, true
}

// pickDirector picks, among Directors, the one whose idx-th entry has the
// largest value and, among ties, the smallest absolute value, breaking
// further ties by support size (number of non-zero entries).
func (pc *PublicClassifier) pickDirector(vector []*big.Int, idx int) (AffineVector, bool) {
	best := -1
	for i, d := range pc.Directors {
		if idx >= len(d.V) || d.V[idx].Sign() == 0 {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur, chal := pc.Directors[best], d
		if c := chal.V[idx].Cmp(cur.V[idx]); c > 0 {
			best = i
			continue
		} else if c < 0 {
			continue
		}
		curAbs, chalAbs := new(big.Int).Abs(cur.V[idx]), new(big.Int).Abs(chal.V[idx])
		if c := chalAbs.Cmp(curAbs); c < 0 {
			best = i
			continue
		} else if c > 0 {
			continue
		}
		if support(chal.V) < support(cur.V) {
			best = i
		}
	}
	if best == -1 {
		return AffineVector{}, false
	}
	return pc.Directors[best], true
}

func support(v []*big.Int) int {
	n := 0
	for _, x := range v {
		if x.Sign() != 0 {
			n++
		}
	}
	return n
}

func vectorsEqual(a, b []*big.Int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Cmp(b[i]) != 0 {
			return false
		}
	}
	return true
}

// Table is the persistent {locators, directors, p, q} bundle FindAffine
// produces, serialized with encoding/binary the way arith.Primes is.
type Table struct {
	Locators  []AffineVector
	Directors []AffineVector
	P         *big.Int
	Q         *big.Int
}

func writeVectors(w *bufio.Writer, vs []AffineVector) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := binary.Write(w, binary.BigEndian, uint64(len(v.V))); err != nil {
			return err
		}
		for _, c := range v.V {
			if err := writeBigInt(w, c); err != nil {
				return err
			}
		}
		if err := writeBigInt(w, v.F); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(r *bufio.Reader) ([]AffineVector, error) {
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	out := make([]AffineVector, count)
	for i := range out {
		var dim uint64
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, err
		}
		v := make([]*big.Int, dim)
		for j := range v {
			x, err := readBigInt(r)
			if err != nil {
				return nil, err
			}
			v[j] = x
		}
		f, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		out[i] = AffineVector{V: v, F: f}
	}
	return out, nil
}

func writeBigInt(w io.Writer, v *big.Int) error {
	b := v.Bytes()
	neg := v.Sign() < 0
	if err := binary.Write(w, binary.BigEndian, neg); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBigInt(r io.Reader) (*big.Int, error) {
	var neg bool
	if err := binary.Read(r, binary.BigEndian, &neg); err != nil {
		return nil, err
	}
	var size uint64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(b)
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// WriteTo serializes the classifier table to w.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	if err := writeBigInt(bw, t.P); err != nil {
		return 0, err
	}
	if err := writeBigInt(bw, t.Q); err != nil {
		return 0, err
	}
	if err := writeVectors(bw, t.Locators); err != nil {
		return 0, err
	}
	if err := writeVectors(bw, t.Directors); err != nil {
		return 0, err
	}
	return 0, bw.Flush()
}

// ReadFrom deserializes a classifier table written by WriteTo.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	p, err := readBigInt(br)
	if err != nil {
		return 0, err
	}
	q, err := readBigInt(br)
	if err != nil {
		return 0, err
	}
	locators, err := readVectors(br)
	if err != nil {
		return 0, err
	}
	directors, err := readVectors(br)
	if err != nil {
		return 0, err
	}
	t.P, t.Q, t.Locators, t.Directors = p, q, locators, directors
	return 0, nil
}
