package registry

import (
	"fmt"

	"github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// DataType tells the device how to interpret SignData.
type DataType uint8

const (
	DataTypeTransaction      DataType = 1
	DataTypeTypedData        DataType = 2
	DataTypePersonalMessage  DataType = 3
	DataTypeTypedTransaction DataType = 4
)

// EthSignRequest is eth-sign-request (tag 401).
type EthSignRequest struct {
	RequestID uuid.UUID
	SignData  []byte
	DataType  DataType
	ChainID   int64
	Path      *KeyPath
	Address   []byte
	Origin    string
}

type signRequestWire struct {
	RequestID cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	SignData  []byte          `cbor:"2,keyasint"`
	DataType  DataType        `cbor:"3,keyasint"`
	ChainID   int64           `cbor:"4,keyasint,omitempty"`
	Path      *KeyPath        `cbor:"5,keyasint"`
	Address   []byte          `cbor:"6,keyasint,omitempty"`
	Origin    string          `cbor:"7,keyasint,omitempty"`
}

func marshalUUID(id uuid.UUID) (cbor.RawMessage, error) {
	return marshalTagged(TagUUID, id[:])
}

func unmarshalUUID(raw []byte) (uuid.UUID, error) {
	var b []byte
	if err := unmarshalItem(raw, TagUUID, &b); err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

func (r *EthSignRequest) ToUR() (*ur.UR, error) {
	if r.Path == nil || len(r.SignData) == 0 {
		return nil, fmt.Errorf("%w: sign-data or derivation-path", ErrMissingField)
	}
	rid, err := marshalUUID(r.RequestID)
	if err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(signRequestWire{
		RequestID: rid,
		SignData:  r.SignData,
		DataType:  r.DataType,
		ChainID:   r.ChainID,
		Path:      r.Path,
		Address:   r.Address,
		Origin:    r.Origin,
	})
	if err != nil {
		return nil, err
	}
	return ur.New(protocol.URTypeEthSignRequest, data)
}

func EthSignRequestFromUR(u *ur.UR) (*EthSignRequest, error) {
	if err := expectType(u, protocol.URTypeEthSignRequest); err != nil {
		return nil, err
	}
	var w signRequestWire
	if err := unmarshalItem(u.CBOR, TagEthSignRequest, &w); err != nil {
		return nil, err
	}
	if len(w.SignData) == 0 || w.Path == nil {
		return nil, fmt.Errorf("%w: sign-data or derivation-path", ErrMissingField)
	}
	r := &EthSignRequest{
		SignData: w.SignData,
		DataType: w.DataType,
		ChainID:  w.ChainID,
		Path:     w.Path,
		Address:  w.Address,
		Origin:   w.Origin,
	}
	if len(w.RequestID) > 0 {
		id, err := unmarshalUUID(w.RequestID)
		if err != nil {
			return nil, err
		}
		r.RequestID = id
	}
	return r, nil
}

// EthSignature is eth-signature (tag 402), the device's reply to a sign request.
type EthSignature struct {
	RequestID uuid.UUID
	Signature []byte
	Origin    string
}

type signatureWire struct {
	RequestID cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	Signature []byte          `cbor:"2,keyasint"`
	Origin    string          `cbor:"3,keyasint,omitempty"`
}

func (s *EthSignature) ToUR() (*ur.UR, error) {
	rid, err := marshalUUID(s.RequestID)
	if err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(signatureWire{RequestID: rid, Signature: s.Signature, Origin: s.Origin})
	if err != nil {
		return nil, err
	}
	return ur.New(protocol.URTypeEthSignature, data)
}

func EthSignatureFromUR(u *ur.UR) (*EthSignature, error) {
	if err := expectType(u, protocol.URTypeEthSignature); err != nil {
		return nil, err
	}
	var w signatureWire
	if err := unmarshalItem(u.CBOR, TagEthSignature, &w); err != nil {
		return nil, err
	}
	if len(w.Signature) == 0 {
		return nil, fmt.Errorf("%w: signature", ErrMissingField)
	}
	s := &EthSignature{Signature: w.Signature, Origin: w.Origin}
	if len(w.RequestID) > 0 {
		id, err := unmarshalUUID(w.RequestID)
		if err != nil {
			return nil, err
		}
		s.RequestID = id
	}
	return s, nil
}
