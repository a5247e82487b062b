package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const hardenedOffset = 0x80000000

// PathComponent is one derivation step. Wildcard stands for "*".
type PathComponent struct {
	Index    uint32
	Hardened bool
	Wildcard bool
}

func (c PathComponent) String() string {
	s := "*"
	if !c.Wildcard {
		s = strconv.FormatUint(uint64(c.Index), 10)
	}
	if c.Hardened {
		s += "'"
	}
	return s
}

// ChildIndex is the BIP32 index including the hardened offset.
func (c PathComponent) ChildIndex() uint32 {
	if c.Hardened {
		return c.Index + hardenedOffset
	}
	return c.Index
}

// KeyPath is crypto-keypath (tag 304).
type KeyPath struct {
	Components        []PathComponent
	SourceFingerprint uint32
	Depth             uint8
}

type keyPathWire struct {
	Components        []interface{} `cbor:"1,keyasint"`
	SourceFingerprint uint32        `cbor:"2,keyasint,omitempty"`
	Depth             uint8         `cbor:"3,keyasint,omitempty"`
}

// ParseKeyPath reads "m/44'/60'/0'" or "44'/60'/0'". "h" is accepted for hardened.
func ParseKeyPath(s string) (*KeyPath, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "m"), "M")
	s = strings.TrimPrefix(s, "/")
	kp := &KeyPath{}
	if s == "" {
		return kp, nil
	}
	for _, seg := range strings.Split(s, "/") {
		var c PathComponent
		if strings.HasSuffix(seg, "'") || strings.HasSuffix(seg, "h") {
			c.Hardened = true
			seg = seg[:len(seg)-1]
		}
		if seg == "*" {
			c.Wildcard = true
		} else {
			n, err := strconv.ParseUint(seg, 10, 31)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPath, s)
			}
			c.Index = uint32(n)
		}
		kp.Components = append(kp.Components, c)
	}
	return kp, nil
}

// Path renders the components without the "m/" prefix.
func (k *KeyPath) Path() string {
	parts := make([]string, len(k.Components))
	for i, c := range k.Components {
		parts[i] = c.String()
	}
	return strings.Join(parts, "/")
}

func (k *KeyPath) String() string {
	return "m/" + k.Path()
}

func (k *KeyPath) toWire() keyPathWire {
	w := keyPathWire{
		Components:        make([]interface{}, 0, len(k.Components)*2),
		SourceFingerprint: k.SourceFingerprint,
		Depth:             k.Depth,
	}
	for _, c := range k.Components {
		if c.Wildcard {
			w.Components = append(w.Components, []interface{}{})
		} else {
			w.Components = append(w.Components, c.Index)
		}
		w.Components = append(w.Components, c.Hardened)
	}
	return w
}

func (k *KeyPath) fromWire(w keyPathWire) error {
	if len(w.Components)%2 != 0 {
		return fmt.Errorf("%w: odd component list", ErrInvalidPath)
	}
	k.Components = nil
	for i := 0; i < len(w.Components); i += 2 {
		var c PathComponent
		switch v := w.Components[i].(type) {
		case uint64:
			if v >= hardenedOffset {
				return fmt.Errorf("%w: index %d", ErrInvalidPath, v)
			}
			c.Index = uint32(v)
		case []interface{}:
			// [] is a wildcard, [low, high] a range which is kept as a wildcard
			c.Wildcard = true
		default:
			return fmt.Errorf("%w: component %T", ErrInvalidPath, v)
		}
		hardened, ok := w.Components[i+1].(bool)
		if !ok {
			return fmt.Errorf("%w: hardened flag %T", ErrInvalidPath, w.Components[i+1])
		}
		c.Hardened = hardened
		k.Components = append(k.Components, c)
	}
	k.SourceFingerprint = w.SourceFingerprint
	k.Depth = w.Depth
	return nil
}

// MarshalCBOR encodes the keypath tagged with 304.
func (k *KeyPath) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagCryptoKeypath, Content: k.toWire()})
}

func (k *KeyPath) UnmarshalCBOR(data []byte) error {
	var w keyPathWire
	if err := unmarshalItem(data, TagCryptoKeypath, &w); err != nil {
		return err
	}
	return k.fromWire(w)
}
