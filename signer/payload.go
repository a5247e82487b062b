package signer

import (
	"encoding/json"

	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxPayload is what a human signer sees for a transaction. Quantities are 0x hex
// without padding, to and data are raw byte hex ("0x" when empty).
type TxPayload struct {
	ChainID              string `json:"chainId"`
	Nonce                string `json:"nonce"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	GasLimit             string `json:"gasLimit"`
	Data                 string `json:"data"`
	From                 string `json:"from"`
}

func NewTxPayload(from common.Address, tx *types.Transaction) TxPayload {
	to := "0x"
	if tx.To() != nil {
		to = utils.BytesToHex(tx.To().Bytes())
	}
	return TxPayload{
		ChainID:              utils.BigToHex(tx.ChainId()),
		Nonce:                utils.Uint64ToHex(tx.Nonce()),
		To:                   to,
		Value:                utils.BigToHex(tx.Value()),
		MaxFeePerGas:         utils.BigToHex(tx.GasFeeCap()),
		MaxPriorityFeePerGas: utils.BigToHex(tx.GasTipCap()),
		GasLimit:             utils.Uint64ToHex(tx.Gas()),
		Data:                 utils.BytesToHex(tx.Data()),
		From:                 utils.BytesToHex(from.Bytes()),
	}
}

// String is the JSON text shown to the signer.
func (p TxPayload) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}
