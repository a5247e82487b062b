// Package keyring holds the keyring kinds and the controller that owns them.
package keyring

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Kind is the persisted type tag of a keyring.
type Kind string

const (
	KindSimple     Kind = "Simple Key Pair"
	KindHD         Kind = "HD Key Tree"
	KindManual     Kind = "Manual Signer"
	KindQRHardware Kind = "QR Hardware Wallet Device"
)

var Kinds = []Kind{KindSimple, KindHD, KindManual, KindQRHardware}

// Keyring is the capability set every kind exposes. Kinds that cannot perform an
// operation return ErrUnsupportedOperation.
type Keyring interface {
	Type() Kind
	Serialize() (json.RawMessage, error)
	Deserialize(data json.RawMessage) error
	Accounts() []common.Address

	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignMessage signs a raw 32 byte hash (eth_sign).
	SignMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error)
	NewGethSignMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error)
	SignPersonalMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error)
	DecryptMessage(ctx context.Context, from common.Address, msg EncryptedData) (string, error)
	SignTypedData(ctx context.Context, from common.Address, typed apitypes.TypedData) ([]byte, error)
	GetEncryptionPublicKey(ctx context.Context, from common.Address) (string, error)
}

// accountAdder is implemented by kinds that derive further accounts on demand.
type accountAdder interface {
	AddAccounts(n int) ([]common.Address, error)
}

type accountRemover interface {
	RemoveAccount(addr common.Address) error
}

// SerializedKeyring is one vault entry.
type SerializedKeyring struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Options are the constructor arguments of a keyring. Params carries private keys or
// addresses, Mnemonic and NumberOfAccounts apply to HD keyrings.
type Options struct {
	Params           []string `json:"params,omitempty"`
	Mnemonic         string   `json:"mnemonic,omitempty"`
	NumberOfAccounts int      `json:"numberOfAccounts,omitempty"`
}

// ManualMode selects how a pasted response is turned into a signed transaction.
type ManualMode string

const (
	// SignatureTail reads v, r and s from the last 67 bytes of the pasted text.
	SignatureTail ManualMode = "signature-tail"
	// RawTransaction takes the pasted text as the complete signed transaction.
	RawTransaction ManualMode = "raw-transaction"
)

// Env is what keyrings need from the running wallet.
type Env struct {
	Signer         *signer.Queue
	ManualMode     ManualMode
	MaxFragmentLen int
	Origin         string
}

// Factory builds an empty or initialized keyring of one kind.
type Factory func(env Env, opts Options) (Keyring, error)

func hasAccount(accounts []common.Address, addr common.Address) bool {
	for _, a := range accounts {
		if a == addr {
			return true
		}
	}
	return false
}
