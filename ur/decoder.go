package ur

import (
	"fmt"
	"math"
	"sync"
)

// Decoder collects single or multi-part UR strings until the message is whole.
// A result, once set, never changes.
type Decoder struct {
	mu       sync.Mutex
	fountain *fountainDecoder
	urType   string
	result   *UR
	err      error
}

func NewDecoder() *Decoder {
	return &Decoder{fountain: newFountainDecoder()}
}

// ReceivePart feeds one scanned string. It returns false when the part was ignored
// and an error when the part is malformed.
func (d *Decoder) ReceivePart(s string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.result != nil || d.err != nil {
		return false, nil
	}

	urType, components, err := parse(s)
	if err != nil {
		return false, err
	}
	if d.urType == "" {
		d.urType = urType
	} else if d.urType != urType {
		return false, nil
	}

	switch len(components) {
	case 1:
		body, err := DecodeBytewords(Minimal, components[0])
		if err != nil {
			return false, err
		}
		d.result = &UR{Type: urType, CBOR: body}
		return true, nil
	case 2:
	default:
		return false, ErrInvalidPathLength
	}

	seqNum, seqLen, err := parseSequence(components[0])
	if err != nil {
		return false, err
	}
	body, err := DecodeBytewords(Minimal, components[1])
	if err != nil {
		return false, err
	}
	part, err := partFromCBOR(body)
	if err != nil {
		return false, err
	}
	if part.SeqNum != seqNum || part.SeqLen != seqLen {
		return false, fmt.Errorf("%w: header %d-%d, body %d-%d", ErrInvalidSequence, seqNum, seqLen, part.SeqNum, part.SeqLen)
	}

	if !d.fountain.receivePart(part) {
		return false, nil
	}
	if d.fountain.result != nil {
		d.result = &UR{Type: urType, CBOR: d.fountain.result}
	} else if d.fountain.err != nil {
		d.err = d.fountain.err
	}
	return true, nil
}

func (d *Decoder) IsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result != nil || d.err != nil
}

// Result returns the decoded UR, ErrNotComplete while parts are missing, or the
// checksum failure of a completed but corrupt message.
func (d *Decoder) Result() (*UR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.result == nil {
		return nil, ErrNotComplete
	}
	return d.result, nil
}

// ExpectedPartCount is the sequence length, or 0 before the first multi-part fragment.
func (d *Decoder) ExpectedPartCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fountain.seqLen
}

// ReceivedPartCount is the number of pure fragments recovered so far.
func (d *Decoder) ReceivedPartCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fountain.received)
}

// Progress estimates completion in [0, 1].
func (d *Decoder) Progress() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result != nil || d.err != nil {
		return 1
	}
	if d.fountain.seqLen == 0 {
		return 0
	}
	estimated := float64(d.fountain.processedCount) / (float64(d.fountain.seqLen) * 1.75)
	return math.Min(0.99, estimated)
}
