package keyring

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// keySigner provides the signing capabilities of keyrings that hold private keys.
type keySigner struct {
	lookup func(common.Address) (*ecdsa.PrivateKey, error)
}

// signHash returns r||s||v with v in {27, 28}.
func (k keySigner) signHash(from common.Address, hash []byte) ([]byte, error) {
	key, err := k.lookup(from)
	if err != nil {
		return nil, err
	}
	sig, err := gethcrypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (k keySigner) SignTransaction(_ context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, err := k.lookup(from)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

func (k keySigner) SignMessage(_ context.Context, from common.Address, data []byte) ([]byte, error) {
	if len(data) != common.HashLength {
		return nil, fmt.Errorf("eth_sign expects a %d byte hash, got %d bytes", common.HashLength, len(data))
	}
	return k.signHash(from, data)
}

func (k keySigner) NewGethSignMessage(_ context.Context, from common.Address, data []byte) ([]byte, error) {
	return k.signHash(from, accounts.TextHash(data))
}

func (k keySigner) SignPersonalMessage(_ context.Context, from common.Address, data []byte) ([]byte, error) {
	return k.signHash(from, accounts.TextHash(data))
}

func (k keySigner) SignTypedData(_ context.Context, from common.Address, typed apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, err
	}
	return k.signHash(from, hash)
}

func (k keySigner) DecryptMessage(_ context.Context, from common.Address, msg EncryptedData) (string, error) {
	key, err := k.lookup(from)
	if err != nil {
		return "", err
	}
	return decryptWithKey(key, msg)
}

func (k keySigner) GetEncryptionPublicKey(_ context.Context, from common.Address) (string, error) {
	key, err := k.lookup(from)
	if err != nil {
		return "", err
	}
	return encryptionPublicKey(key)
}
