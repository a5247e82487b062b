package rest

import (
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// General response structure
type RestResp struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Wallet status response
type StatusResp struct {
	VaultExists     bool   `json:"vaultExists"`
	IsUnlocked      bool   `json:"isUnlocked"`
	AccountCount    int    `json:"accountCount"`
	SelectedAddress string `json:"selectedAddress"`
	PendingRequests int    `json:"pendingRequests"`
	ChainID         int64  `json:"chainId"`
	WSClients       int    `json:"wsClients"`
}

type PasswordReq struct {
	Password string `json:"password"`
}

type AccountsResp struct {
	Accounts        []string `json:"accounts"`
	SelectedAddress string   `json:"selectedAddress"`
}

type ImportAccountReq struct {
	Strategy string   `json:"strategy"`
	Params   []string `json:"params"`
}

type ImportAccountResp struct {
	Address string `json:"address"`
}

type SelectAccountReq struct {
	Address string `json:"address"`
}

type AddKeyringReq struct {
	Type             keyring.Kind `json:"type"`
	Params           []string     `json:"params"`
	Mnemonic         string       `json:"mnemonic"`
	NumberOfAccounts int          `json:"numberOfAccounts"`
}

// Transaction to sign. Quantities accept 0x hex or decimal strings.
// GasPrice selects a legacy transaction, otherwise the fee cap fields build an EIP-1559 one.
type SignTxReq struct {
	From                 string `json:"from"`
	ChainID              string `json:"chainId"`
	Nonce                string `json:"nonce"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	Data                 string `json:"data"`
}

type SignTxResp struct {
	Raw  string `json:"raw"`
	Hash string `json:"hash"`
	From string `json:"from"`
}

// Message signing methods accepted by /message/sign
const (
	MethodEthSign          = "eth_sign"
	MethodPersonalSign     = "personal_sign"
	MethodSignTypedData    = "eth_signTypedData_v4"
	MethodDecrypt          = "eth_decrypt"
	MethodEncryptionPubKey = "eth_getEncryptionPublicKey"
)

type SignMessageReq struct {
	From   string              `json:"from"`
	Method string              `json:"method"`
	Data   string              `json:"data,omitempty"`
	Typed  *apitypes.TypedData `json:"typedData,omitempty"`

	// Encrypted is the eth_decrypt payload.
	Encrypted *keyring.EncryptedData `json:"encrypted,omitempty"`
}

type SignMessageResp struct {
	Result string `json:"result"`
}

type ResolveSignReq struct {
	Signature string `json:"signature"`
}

type OpenSessionReq struct {
	Purpose   scanner.Purpose `json:"purpose"`
	RequestID string          `json:"requestId"`
}

type SessionResp struct {
	ID        string           `json:"id"`
	Purpose   scanner.Purpose  `json:"purpose"`
	RequestID string           `json:"requestId,omitempty"`
	State     scanner.Snapshot `json:"state"`
}

// A scanned fragment, or a camera frame as base64 PNG/JPEG.
type ScanReq struct {
	Data  string `json:"data"`
	Frame string `json:"frame"`
}

type PasteReq struct {
	Data string `json:"data"`
}

type ImportURReq struct {
	UR string `json:"ur"`
}

type ImportURResp struct {
	Type     string   `json:"type"`
	Accounts []string `json:"accounts"`
}

type AddQRAccountsReq struct {
	Count int `json:"count"`
}
