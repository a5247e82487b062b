package ur

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Xoshiro256** seeded from SHA-256 of the seed bytes, as the fountain
// code requires both ends to derive identical fragment mixes.
type xoshiro256 struct {
	s [4]uint64
}

const twoPow64 = 18446744073709551616.0

func newXoshiro256(seed []byte) *xoshiro256 {
	digest := sha256.Sum256(seed)
	x := &xoshiro256{}
	for i := 0; i < 4; i++ {
		x.s[i] = binary.BigEndian.Uint64(digest[i*8 : i*8+8])
	}
	return x
}

func (x *xoshiro256) next() uint64 {
	result := bits.RotateLeft64(x.s[1]*5, 7) * 9
	t := x.s[1] << 17

	x.s[2] ^= x.s[0]
	x.s[3] ^= x.s[1]
	x.s[1] ^= x.s[2]
	x.s[0] ^= x.s[3]

	x.s[2] ^= t
	x.s[3] = bits.RotateLeft64(x.s[3], 45)

	return result
}

func (x *xoshiro256) nextDouble() float64 {
	return float64(x.next()) / twoPow64
}

// nextInt returns a value in [low, high].
func (x *xoshiro256) nextInt(low, high uint64) uint64 {
	v := uint64(x.nextDouble()*float64(high-low+1)) + low
	if v > high {
		v = high
	}
	return v
}

// randomSampler is Vose's alias method.
type randomSampler struct {
	probs   []float64
	aliases []int
}

func newRandomSampler(probs []float64) *randomSampler {
	n := len(probs)
	sum := 0.0
	for _, p := range probs {
		sum += p
	}

	P := make([]float64, n)
	for i, p := range probs {
		P[i] = p * float64(n) / sum
	}

	var S, L []int
	for i := n - 1; i >= 0; i-- {
		if P[i] < 1 {
			S = append(S, i)
		} else {
			L = append(L, i)
		}
	}

	rs := &randomSampler{probs: make([]float64, n), aliases: make([]int, n)}
	for len(S) > 0 && len(L) > 0 {
		a := S[len(S)-1]
		S = S[:len(S)-1]
		g := L[len(L)-1]
		L = L[:len(L)-1]

		rs.probs[a] = P[a]
		rs.aliases[a] = g
		P[g] += P[a] - 1
		if P[g] < 1 {
			S = append(S, g)
		} else {
			L = append(L, g)
		}
	}
	for _, i := range L {
		rs.probs[i] = 1
	}
	for _, i := range S {
		rs.probs[i] = 1
	}
	return rs
}

func (rs *randomSampler) next(rng *xoshiro256) int {
	r1 := rng.nextDouble()
	r2 := rng.nextDouble()
	i := int(float64(len(rs.probs)) * r1)
	if i >= len(rs.probs) {
		i = len(rs.probs) - 1
	}
	if r2 < rs.probs[i] {
		return i
	}
	return rs.aliases[i]
}

func chooseDegree(seqLen int, rng *xoshiro256) int {
	probs := make([]float64, seqLen)
	for i := range probs {
		probs[i] = 1.0 / float64(i+1)
	}
	return newRandomSampler(probs).next(rng) + 1
}

func shuffled(items []int, rng *xoshiro256) []int {
	remaining := append([]int(nil), items...)
	result := make([]int, 0, len(items))
	for len(remaining) > 0 {
		index := int(rng.nextInt(0, uint64(len(remaining)-1)))
		result = append(result, remaining[index])
		remaining = append(remaining[:index], remaining[index+1:]...)
	}
	return result
}

// chooseFragments returns the sorted fragment indexes mixed into part seqNum.
func chooseFragments(seqNum uint32, seqLen int, checksum uint32) []int {
	if int(seqNum) <= seqLen {
		return []int{int(seqNum) - 1}
	}

	seed := make([]byte, 8)
	binary.BigEndian.PutUint32(seed[0:4], seqNum)
	binary.BigEndian.PutUint32(seed[4:8], checksum)
	rng := newXoshiro256(seed)

	degree := chooseDegree(seqLen, rng)
	indexes := make([]int, seqLen)
	for i := range indexes {
		indexes[i] = i
	}
	chosen := shuffled(indexes, rng)[:degree]
	sort.Ints(chosen)
	return chosen
}

// Part is one fountain-coded fragment as carried in a multi-part UR.
type Part struct {
	_          struct{} `cbor:",toarray"`
	SeqNum     uint32
	SeqLen     int
	MessageLen int
	Checksum   uint32
	Data       []byte
}

func (p *Part) cbor() ([]byte, error) {
	return cbor.Marshal(p)
}

// MaxSequenceLength bounds the fragment count a multi-part UR may announce.
const MaxSequenceLength = 1024

func partFromCBOR(data []byte) (*Part, error) {
	p := new(Part)
	if err := cbor.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPart, err)
	}
	if p.SeqNum == 0 || p.SeqLen <= 0 || p.MessageLen <= 0 || len(p.Data) == 0 {
		return nil, ErrInvalidPart
	}
	if p.SeqLen > MaxSequenceLength {
		return nil, fmt.Errorf("%w: %d fragments", ErrInvalidSequence, p.SeqLen)
	}
	// the fragments must cover the message with less than one fragment of padding
	if p.MessageLen > p.SeqLen*len(p.Data) || p.MessageLen <= (p.SeqLen-1)*len(p.Data) {
		return nil, fmt.Errorf("%w: message length %d for %d fragments of %d bytes",
			ErrInvalidPart, p.MessageLen, p.SeqLen, len(p.Data))
	}
	return p, nil
}

func findNominalFragmentLength(messageLen, minFragmentLen, maxFragmentLen int) int {
	maxFragmentCount := messageLen / minFragmentLen
	if maxFragmentCount < 1 {
		maxFragmentCount = 1
	}
	fragmentLen := messageLen
	for count := 1; count <= maxFragmentCount; count++ {
		fragmentLen = int(math.Ceil(float64(messageLen) / float64(count)))
		if fragmentLen <= maxFragmentLen {
			break
		}
	}
	return fragmentLen
}

func partitionMessage(message []byte, fragmentLen int) [][]byte {
	padded := append([]byte(nil), message...)
	if rem := len(padded) % fragmentLen; rem != 0 {
		padded = append(padded, make([]byte, fragmentLen-rem)...)
	}
	var fragments [][]byte
	for i := 0; i < len(padded); i += fragmentLen {
		fragments = append(fragments, padded[i:i+fragmentLen])
	}
	return fragments
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

type fountainEncoder struct {
	messageLen  int
	checksum    uint32
	fragmentLen int
	fragments   [][]byte
	seqNum      uint32
}

func newFountainEncoder(message []byte, maxFragmentLen, minFragmentLen int, firstSeqNum uint32) *fountainEncoder {
	fragmentLen := findNominalFragmentLength(len(message), minFragmentLen, maxFragmentLen)
	return &fountainEncoder{
		messageLen:  len(message),
		checksum:    crc32.ChecksumIEEE(message),
		fragmentLen: fragmentLen,
		fragments:   partitionMessage(message, fragmentLen),
		seqNum:      firstSeqNum,
	}
}

func (e *fountainEncoder) seqLen() int {
	return len(e.fragments)
}

// isComplete reports whether every pure fragment has been emitted at least once.
func (e *fountainEncoder) isComplete() bool {
	return int(e.seqNum) >= len(e.fragments)
}

func (e *fountainEncoder) isSinglePart() bool {
	return len(e.fragments) == 1
}

func (e *fountainEncoder) nextPart() *Part {
	e.seqNum++
	indexes := chooseFragments(e.seqNum, len(e.fragments), e.checksum)
	mixed := make([]byte, e.fragmentLen)
	for _, i := range indexes {
		xorInto(mixed, e.fragments[i])
	}
	return &Part{
		SeqNum:     e.seqNum,
		SeqLen:     len(e.fragments),
		MessageLen: e.messageLen,
		Checksum:   e.checksum,
		Data:       mixed,
	}
}

// mixedPart is a received part reduced to the fragment indexes it still mixes.
type mixedPart struct {
	indexes []int
	data    []byte
}

func (p *mixedPart) isSimple() bool {
	return len(p.indexes) == 1
}

func (p *mixedPart) key() string {
	return indexKey(p.indexes)
}

func indexKey(indexes []int) string {
	parts := make([]string, len(indexes))
	for i, v := range indexes {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// isStrictSubset reports whether a is a proper subset of b. Both are sorted.
func isStrictSubset(a, b []int) bool {
	if len(a) >= len(b) {
		return false
	}
	j := 0
	for _, v := range a {
		for j < len(b) && b[j] < v {
			j++
		}
		if j == len(b) || b[j] != v {
			return false
		}
		j++
	}
	return true
}

func difference(a, b []int) []int {
	drop := make(map[int]struct{}, len(b))
	for _, v := range b {
		drop[v] = struct{}{}
	}
	var out []int
	for _, v := range a {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func reducePartByPart(a, b *mixedPart) *mixedPart {
	if !isStrictSubset(b.indexes, a.indexes) {
		return a
	}
	data := append([]byte(nil), a.data...)
	xorInto(data, b.data)
	return &mixedPart{indexes: difference(a.indexes, b.indexes), data: data}
}

type fountainDecoder struct {
	seqLen      int
	messageLen  int
	checksum    uint32
	fragmentLen int

	received       map[int]struct{}
	lastIndexes    []int
	processedCount int

	simple map[int]*mixedPart
	mixed  map[string]*mixedPart
	queue  []*mixedPart

	result []byte
	err    error
}

func newFountainDecoder() *fountainDecoder {
	return &fountainDecoder{
		received: make(map[int]struct{}),
		simple:   make(map[int]*mixedPart),
		mixed:    make(map[string]*mixedPart),
	}
}

func (d *fountainDecoder) isComplete() bool {
	return d.result != nil || d.err != nil
}

func (d *fountainDecoder) validatePart(p *Part) bool {
	if d.seqLen == 0 {
		d.seqLen = p.SeqLen
		d.messageLen = p.MessageLen
		d.checksum = p.Checksum
		d.fragmentLen = len(p.Data)
		return true
	}
	return p.SeqLen == d.seqLen &&
		p.MessageLen == d.messageLen &&
		p.Checksum == d.checksum &&
		len(p.Data) == d.fragmentLen
}

// receivePart returns false when the part was ignored (already complete or inconsistent).
func (d *fountainDecoder) receivePart(p *Part) bool {
	if d.isComplete() {
		return false
	}
	if !d.validatePart(p) {
		return false
	}

	mp := &mixedPart{
		indexes: chooseFragments(p.SeqNum, p.SeqLen, p.Checksum),
		data:    append([]byte(nil), p.Data...),
	}
	d.lastIndexes = mp.indexes
	d.queue = append(d.queue, mp)

	for !d.isComplete() && len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		if next.isSimple() {
			d.processSimple(next)
		} else {
			d.processMixed(next)
		}
	}
	d.processedCount++
	return true
}

func (d *fountainDecoder) processSimple(p *mixedPart) {
	index := p.indexes[0]
	if _, ok := d.received[index]; ok {
		return
	}
	d.simple[index] = p
	d.received[index] = struct{}{}

	if len(d.received) == d.seqLen {
		message := make([]byte, 0, d.seqLen*d.fragmentLen)
		for i := 0; i < d.seqLen; i++ {
			message = append(message, d.simple[i].data...)
		}
		message = message[:d.messageLen]
		if crc32.ChecksumIEEE(message) == d.checksum {
			d.result = message
		} else {
			d.err = ErrInvalidChecksum
		}
		return
	}
	d.reduceMixedBy(p)
}

func (d *fountainDecoder) processMixed(p *mixedPart) {
	if _, dup := d.mixed[p.key()]; dup {
		return
	}

	reduced := p
	for _, s := range d.simple {
		reduced = reducePartByPart(reduced, s)
	}
	for _, m := range d.mixed {
		reduced = reducePartByPart(reduced, m)
	}

	if reduced.isSimple() {
		d.queue = append(d.queue, reduced)
		return
	}
	d.reduceMixedBy(reduced)
	d.mixed[reduced.key()] = reduced
}

func (d *fountainDecoder) reduceMixedBy(p *mixedPart) {
	next := make(map[string]*mixedPart, len(d.mixed))
	for _, m := range d.mixed {
		r := reducePartByPart(m, p)
		if r.isSimple() {
			d.queue = append(d.queue, r)
		} else {
			next[r.key()] = r
		}
	}
	d.mixed = next
}
