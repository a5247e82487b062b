package ur

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const scheme = "ur:"

// UR is a typed CBOR payload. Type names the registry type, CBOR holds the encoded message.
type UR struct {
	Type string
	CBOR []byte
}

// New checks the type name and returns the UR.
func New(urType string, cborData []byte) (*UR, error) {
	if !isURType(urType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, urType)
	}
	if len(cborData) == 0 {
		return nil, ErrEmptyMessage
	}
	return &UR{Type: urType, CBOR: append([]byte(nil), cborData...)}, nil
}

// FromBytes wraps raw bytes as a "bytes" UR.
func FromBytes(data []byte) (*UR, error) {
	enc, err := cbor.Marshal(data)
	if err != nil {
		return nil, err
	}
	return New("bytes", enc)
}

// Bytes unwraps the CBOR byte string of a "bytes" UR.
func (u *UR) Bytes() ([]byte, error) {
	var out []byte
	if err := cbor.Unmarshal(u.CBOR, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CBORHex is the payload as lowercase hex, the form hardware submission expects.
func (u *UR) CBORHex() string {
	return hex.EncodeToString(u.CBOR)
}

// String renders the single-part form.
func (u *UR) String() string {
	return scheme + u.Type + "/" + EncodeBytewords(Minimal, u.CBOR)
}

func isURType(t string) bool {
	if t == "" {
		return false
	}
	for _, c := range t {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// parse splits "ur:type/comp[/comp]" into its type and path components.
func parse(s string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(lower, scheme) {
		return "", nil, ErrInvalidScheme
	}
	components := strings.Split(lower[len(scheme):], "/")
	if len(components) < 2 {
		return "", nil, ErrInvalidPathLength
	}
	urType := components[0]
	if !isURType(urType) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidType, urType)
	}
	return urType, components[1:], nil
}

func parseSequence(s string) (uint32, int, error) {
	num, length, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSequence, s)
	}
	seqNum, err := strconv.ParseUint(num, 10, 32)
	if err != nil || seqNum == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSequence, s)
	}
	seqLen, err := strconv.Atoi(length)
	if err != nil || seqLen <= 0 || seqLen > MaxSequenceLength {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSequence, s)
	}
	return uint32(seqNum), seqLen, nil
}

// Decode parses a complete single-part UR.
func Decode(s string) (*UR, error) {
	urType, components, err := parse(s)
	if err != nil {
		return nil, err
	}
	if len(components) != 1 {
		return nil, ErrInvalidPathLength
	}
	body, err := DecodeBytewords(Minimal, components[0])
	if err != nil {
		return nil, err
	}
	return &UR{Type: urType, CBOR: body}, nil
}

// IsMultiPart reports whether s carries a "seqNum-seqLen" component.
func IsMultiPart(s string) bool {
	_, components, err := parse(s)
	return err == nil && len(components) == 2
}
