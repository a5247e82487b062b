package keyring

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ManualKeyring watches addresses it holds no key for. Transactions are shown to a
// human who pastes back a signature produced elsewhere.
type ManualKeyring struct {
	mu      sync.RWMutex
	wallets []common.Address

	queue *signer.Queue
	mode  ManualMode
}

func NewManualKeyring(env Env, opts Options) (Keyring, error) {
	k := &ManualKeyring{queue: env.Signer, mode: env.ManualMode}
	if k.mode == "" {
		k.mode = SignatureTail
	}
	for _, p := range opts.Params {
		addr, err := crypto.ParseAddress(p)
		if err != nil {
			return nil, err
		}
		k.wallets = append(k.wallets, addr)
	}
	return k, nil
}

func (k *ManualKeyring) Type() Kind { return KindManual }

// Serialize writes the wallets as a JSON array of lowercase hex addresses.
func (k *ManualKeyring) Serialize() (json.RawMessage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, len(k.wallets))
	for i, a := range k.wallets {
		out[i] = crypto.AddressTo0xPrefixString(a)
	}
	return json.Marshal(out)
}

// Deserialize replaces the wallets wholesale.
func (k *ManualKeyring) Deserialize(data json.RawMessage) error {
	var in []string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	wallets := make([]common.Address, 0, len(in))
	for _, s := range in {
		addr, err := crypto.ParseAddress(s)
		if err != nil {
			return err
		}
		wallets = append(wallets, addr)
	}
	k.mu.Lock()
	k.wallets = wallets
	k.mu.Unlock()
	return nil
}

func (k *ManualKeyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]common.Address(nil), k.wallets...)
}

func (k *ManualKeyring) RemoveAccount(addr common.Address) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, a := range k.wallets {
		if a == addr {
			k.wallets = append(k.wallets[:i], k.wallets[i+1:]...)
			return nil
		}
	}
	return ErrAccountNotFound
}

// SignTransaction asks for a signature through the signer queue and applies it to a copy of tx.
func (k *ManualKeyring) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if !hasAccount(k.Accounts(), from) {
		return nil, ErrAccountNotFound
	}
	if k.queue == nil {
		return nil, fmt.Errorf("%w: no signer queue", ErrUnsupportedOperation)
	}

	payload := signer.NewTxPayload(from, tx)
	response, err := k.queue.Submit(ctx, signer.Request{
		Kind:    signer.KindManual,
		From:    payload.From,
		ChainID: utils.BigToHex(chainID),
		Method:  "eth_signTransaction",
		Payload: payload.String(),
	})
	if err != nil {
		return nil, err
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, ErrEmptySignature
	}

	txSigner := types.LatestSignerForChainID(chainID)
	var signed *types.Transaction
	switch k.mode {
	case RawTransaction:
		raw, err := utils.HexToBytes(response)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
		}
		signed = new(types.Transaction)
		if err := signed.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
		}
		if txSigner.Hash(signed) != txSigner.Hash(tx) {
			return nil, fmt.Errorf("%w: pasted transaction differs from the request", crypto.ErrInvalidSignature)
		}
	default:
		v, r, s, err := crypto.ParseSignatureTail(response)
		if err != nil {
			return nil, err
		}
		signed, err = tx.WithSignature(txSigner, crypto.SignatureBytes(r, s, v))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
		}
	}

	sender, err := types.Sender(txSigner, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
	}
	if sender != from {
		logger.Warn("manual signature recovered ", sender.Hex(), " for ", from.Hex())
		return nil, ErrSignerMismatch
	}
	return signed, nil
}

func (k *ManualKeyring) SignMessage(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (k *ManualKeyring) NewGethSignMessage(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (k *ManualKeyring) SignPersonalMessage(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (k *ManualKeyring) DecryptMessage(context.Context, common.Address, EncryptedData) (string, error) {
	return "", ErrUnsupportedOperation
}

func (k *ManualKeyring) SignTypedData(context.Context, common.Address, apitypes.TypedData) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (k *ManualKeyring) GetEncryptionPublicKey(context.Context, common.Address) (string, error) {
	return "", ErrUnsupportedOperation
}
