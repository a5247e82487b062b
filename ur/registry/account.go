package registry

import (
	"fmt"

	"github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/fxamacker/cbor/v2"
)

// CryptoAccount is crypto-account (tag 311): a master fingerprint and the keys exported under it.
type CryptoAccount struct {
	MasterFingerprint uint32
	Keys              []*CryptoHDKey
}

type accountWire struct {
	MasterFingerprint uint32            `cbor:"1,keyasint"`
	Outputs           []cbor.RawMessage `cbor:"2,keyasint"`
}

// outputKey peels crypto-output and script-expression tags off one descriptor.
func outputKey(raw []byte) (*CryptoHDKey, error) {
	for isTagged(raw) {
		num, content, err := untag(raw)
		if err != nil {
			return nil, err
		}
		switch {
		case num == TagCryptoHDKey:
			return DecodeCryptoHDKey(raw)
		case num == TagCryptoOutput, num >= tagScriptExprFirst && num <= tagScriptExprLast:
			raw = content
		default:
			return nil, fmt.Errorf("%w: %d in output descriptor", ErrUnexpectedTag, num)
		}
	}
	return DecodeCryptoHDKey(raw)
}

func DecodeCryptoAccount(data []byte) (*CryptoAccount, error) {
	var w accountWire
	if err := unmarshalItem(data, TagCryptoAccount, &w); err != nil {
		return nil, err
	}
	if len(w.Outputs) == 0 {
		return nil, fmt.Errorf("%w: output-descriptors", ErrMissingField)
	}
	acc := &CryptoAccount{MasterFingerprint: w.MasterFingerprint}
	for _, raw := range w.Outputs {
		k, err := outputKey(raw)
		if err != nil {
			return nil, err
		}
		acc.Keys = append(acc.Keys, k)
	}
	return acc, nil
}

func CryptoAccountFromUR(u *ur.UR) (*CryptoAccount, error) {
	if err := expectType(u, protocol.URTypeCryptoAccount); err != nil {
		return nil, err
	}
	return DecodeCryptoAccount(u.CBOR)
}

// ToUR wraps every key in a bare crypto-output.
func (a *CryptoAccount) ToUR() (*ur.UR, error) {
	w := accountWire{MasterFingerprint: a.MasterFingerprint}
	for _, k := range a.Keys {
		raw, err := marshalTagged(TagCryptoOutput, k)
		if err != nil {
			return nil, err
		}
		w.Outputs = append(w.Outputs, raw)
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, err
	}
	return ur.New(protocol.URTypeCryptoAccount, data)
}
