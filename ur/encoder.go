package ur

import (
	"fmt"
	"sync"
)

const (
	DefaultMaxFragmentLen = 200
	DefaultMinFragmentLen = 10
)

// Encoder emits the parts of a UR. Messages that fit in one fragment are
// emitted as the single-part form on every call.
type Encoder struct {
	mu       sync.Mutex
	ur       *UR
	fountain *fountainEncoder
}

func NewEncoder(u *UR, maxFragmentLen int) *Encoder {
	if maxFragmentLen <= 0 {
		maxFragmentLen = DefaultMaxFragmentLen
	}
	minFragmentLen := DefaultMinFragmentLen
	if minFragmentLen > maxFragmentLen {
		minFragmentLen = maxFragmentLen
	}
	return &Encoder{
		ur:       u,
		fountain: newFountainEncoder(u.CBOR, maxFragmentLen, minFragmentLen, 0),
	}
}

func (e *Encoder) IsSinglePart() bool {
	return e.fountain.isSinglePart()
}

// PureLen is the number of fragments before mixed parts start.
func (e *Encoder) PureLen() int {
	return e.fountain.seqLen()
}

// IsComplete reports whether every pure fragment has been emitted.
func (e *Encoder) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fountain.isComplete()
}

// NextPart returns the next part string. Past PureLen it yields fountain mixes indefinitely.
func (e *Encoder) NextPart() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fountain.isSinglePart() {
		return e.ur.String(), nil
	}
	return encodePart(e.ur.Type, e.fountain.nextPart())
}

// PartAt renders part seqNum (1-based) without advancing the encoder.
func (e *Encoder) PartAt(seqNum uint32) (string, error) {
	if seqNum == 0 {
		return "", fmt.Errorf("%w: part 0", ErrInvalidSequence)
	}
	if e.fountain.isSinglePart() {
		return e.ur.String(), nil
	}
	at := &fountainEncoder{
		messageLen:  e.fountain.messageLen,
		checksum:    e.fountain.checksum,
		fragmentLen: e.fountain.fragmentLen,
		fragments:   e.fountain.fragments,
		seqNum:      seqNum - 1,
	}
	return encodePart(e.ur.Type, at.nextPart())
}

func encodePart(urType string, p *Part) (string, error) {
	body, err := p.cbor()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%d-%d/%s", scheme, urType, p.SeqNum, p.SeqLen, EncodeBytewords(Minimal, body)), nil
}

// EncodeAll returns the pure parts of u, enough for a decoder that misses nothing.
func EncodeAll(u *UR, maxFragmentLen int) ([]string, error) {
	enc := NewEncoder(u, maxFragmentLen)
	if enc.IsSinglePart() {
		return []string{u.String()}, nil
	}
	if enc.PureLen() > MaxSequenceLength {
		return nil, fmt.Errorf("%w: %d fragments", ErrInvalidSequence, enc.PureLen())
	}
	parts := make([]string, 0, enc.PureLen())
	for !enc.IsComplete() {
		p, err := enc.NextPart()
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}
