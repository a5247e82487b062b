// Package registry holds the UR registry types exchanged with QR hardware wallets.
package registry

import (
	"errors"
	"fmt"

	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/fxamacker/cbor/v2"
)

// CBOR tags of the registry items.
const (
	TagUUID            = 37
	TagCryptoHDKey     = 303
	TagCryptoKeypath   = 304
	TagCryptoCoinInfo  = 305
	TagCryptoOutput    = 308
	TagCryptoAccount   = 311
	TagEthSignRequest  = 401
	TagEthSignature    = 402
	tagScriptExprFirst = 400
	tagScriptExprLast  = 410
)

var (
	ErrUnexpectedType = errors.New("registry: unexpected UR type")
	ErrUnexpectedTag  = errors.New("registry: unexpected CBOR tag")
	ErrMissingField   = errors.New("registry: missing required field")
	ErrInvalidPath    = errors.New("registry: invalid derivation path")
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func isTagged(data []byte) bool {
	return len(data) > 0 && data[0]>>5 == 6
}

// untag strips one CBOR tag if present and returns the tag number (0 when untagged).
func untag(data []byte) (uint64, []byte, error) {
	if !isTagged(data) {
		return 0, data, nil
	}
	var rt cbor.RawTag
	if err := decMode.Unmarshal(data, &rt); err != nil {
		return 0, nil, err
	}
	return rt.Number, rt.Content, nil
}

// unmarshalItem decodes data into v, accepting it either bare or under tag.
func unmarshalItem(data []byte, tag uint64, v interface{}) error {
	num, content, err := untag(data)
	if err != nil {
		return err
	}
	if num != 0 && num != tag {
		return fmt.Errorf("%w: want %d, got %d", ErrUnexpectedTag, tag, num)
	}
	return decMode.Unmarshal(content, v)
}

func marshalTagged(tag uint64, v interface{}) (cbor.RawMessage, error) {
	return cbor.Marshal(cbor.Tag{Number: tag, Content: v})
}

func expectType(u *ur.UR, want string) error {
	if u.Type != want {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedType, want, u.Type)
	}
	return nil
}
