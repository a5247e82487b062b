package registry

import (
	"fmt"

	"github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/fxamacker/cbor/v2"
)

// CoinInfo is crypto-coin-info (tag 305). Type 60 is Ethereum.
type CoinInfo struct {
	Type    uint32 `cbor:"1,keyasint,omitempty"`
	Network uint32 `cbor:"2,keyasint,omitempty"`
}

// CryptoHDKey is crypto-hdkey (tag 303), public derivation form only.
type CryptoHDKey struct {
	IsMaster          bool
	KeyData           []byte
	ChainCode         []byte
	UseInfo           *CoinInfo
	Origin            *KeyPath
	Children          *KeyPath
	ParentFingerprint uint32
	Name              string
	Note              string
}

type hdKeyWire struct {
	IsMaster          bool            `cbor:"1,keyasint,omitempty"`
	IsPrivate         bool            `cbor:"2,keyasint,omitempty"`
	KeyData           []byte          `cbor:"3,keyasint"`
	ChainCode         []byte          `cbor:"4,keyasint,omitempty"`
	UseInfo           cbor.RawMessage `cbor:"5,keyasint,omitempty"`
	Origin            *KeyPath        `cbor:"6,keyasint,omitempty"`
	Children          *KeyPath        `cbor:"7,keyasint,omitempty"`
	ParentFingerprint uint32          `cbor:"8,keyasint,omitempty"`
	Name              string          `cbor:"9,keyasint,omitempty"`
	Note              string          `cbor:"10,keyasint,omitempty"`
}

func (k *CryptoHDKey) toWire() (hdKeyWire, error) {
	w := hdKeyWire{
		IsMaster:          k.IsMaster,
		KeyData:           k.KeyData,
		ChainCode:         k.ChainCode,
		Origin:            k.Origin,
		Children:          k.Children,
		ParentFingerprint: k.ParentFingerprint,
		Name:              k.Name,
		Note:              k.Note,
	}
	if k.UseInfo != nil {
		raw, err := marshalTagged(TagCryptoCoinInfo, k.UseInfo)
		if err != nil {
			return w, err
		}
		w.UseInfo = raw
	}
	return w, nil
}

func (k *CryptoHDKey) fromWire(w hdKeyWire) error {
	if w.IsPrivate {
		return fmt.Errorf("%w: private hdkey", ErrUnexpectedType)
	}
	if len(w.KeyData) != 33 {
		return fmt.Errorf("%w: key-data", ErrMissingField)
	}
	*k = CryptoHDKey{
		IsMaster:          w.IsMaster,
		KeyData:           w.KeyData,
		ChainCode:         w.ChainCode,
		Origin:            w.Origin,
		Children:          w.Children,
		ParentFingerprint: w.ParentFingerprint,
		Name:              w.Name,
		Note:              w.Note,
	}
	if len(w.UseInfo) > 0 {
		info := new(CoinInfo)
		if err := unmarshalItem(w.UseInfo, TagCryptoCoinInfo, info); err != nil {
			return err
		}
		k.UseInfo = info
	}
	return nil
}

// MarshalCBOR encodes the key tagged with 303, the form it takes when nested.
func (k *CryptoHDKey) MarshalCBOR() ([]byte, error) {
	w, err := k.toWire()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(cbor.Tag{Number: TagCryptoHDKey, Content: w})
}

func (k *CryptoHDKey) UnmarshalCBOR(data []byte) error {
	var w hdKeyWire
	if err := unmarshalItem(data, TagCryptoHDKey, &w); err != nil {
		return err
	}
	return k.fromWire(w)
}

// ToUR encodes the key as an untagged crypto-hdkey UR.
func (k *CryptoHDKey) ToUR() (*ur.UR, error) {
	w, err := k.toWire()
	if err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, err
	}
	return ur.New(protocol.URTypeCryptoHDKey, data)
}

// DecodeCryptoHDKey parses the CBOR payload of a crypto-hdkey UR.
func DecodeCryptoHDKey(data []byte) (*CryptoHDKey, error) {
	k := new(CryptoHDKey)
	if err := k.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return k, nil
}

func CryptoHDKeyFromUR(u *ur.UR) (*CryptoHDKey, error) {
	if err := expectType(u, protocol.URTypeCryptoHDKey); err != nil {
		return nil, err
	}
	return DecodeCryptoHDKey(u.CBOR)
}
